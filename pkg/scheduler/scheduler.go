// Package scheduler implements the bounded single-producer command queue
// described in spec §4.4: strict FIFO, 300ms inter-command pacing, ACK and
// answer correlation against the half-duplex bus, and a three-strike retry
// policy.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/nikobus/gateway/pkg/codec"
)

const (
	// interCommandGap is the minimum pacing delay between the end of one
	// command and the start of the next, and also applied between retries.
	interCommandGap = 300 * time.Millisecond
	// interAckDelay is the short pause after writing a frame before the
	// Scheduler starts examining the read stream for the ACK.
	interAckDelay = 75 * time.Millisecond

	defaultAckTimeout    = 400 * time.Millisecond
	defaultAnswerTimeout = 1500 * time.Millisecond

	maxAttempts = 3
)

// Sender is the subset of transport.Transport the Scheduler needs; it is the
// only component permitted to write (§5).
type Sender interface {
	Send(ctx context.Context, b []byte) error
}

// Matcher reports whether a received frame satisfies an expectation.
type Matcher func(f *codec.Frame) bool

// Result is delivered on a PendingCommand's Done channel exactly once.
type Result struct {
	Answer *codec.Frame
	Err    error
}

// PendingCommand is one FIFO item (§3).
type PendingCommand struct {
	Frame           string // raw CR-terminated bytes to send
	ExpectedAck     Matcher
	ExpectedAnswer  Matcher
	AnswerTimeout   time.Duration
	AckTimeout      time.Duration
	Done            chan Result
}

// NewPendingCommand builds a PendingCommand with the library's default
// timeouts; callers may override AckTimeout/AnswerTimeout before Enqueue.
func NewPendingCommand(frame string, expectedAck, expectedAnswer Matcher) *PendingCommand {
	return &PendingCommand{
		Frame:          frame,
		ExpectedAck:    expectedAck,
		ExpectedAnswer: expectedAnswer,
		AnswerTimeout:  defaultAnswerTimeout,
		AckTimeout:     defaultAckTimeout,
		Done:           make(chan Result, 1),
	}
}

type inFlight struct {
	cmd      *PendingCommand
	ackCh    chan *codec.Frame
	answerCh chan *codec.Frame
}

// Scheduler is the single FIFO queue with one worker (§4.4).
type Scheduler struct {
	sender Sender
	pacer  *rate.Limiter

	queue chan *PendingCommand

	inFlightCh chan *inFlight // handed from worker to Notify* while a command is outstanding

	stopCh chan struct{}
}

// New constructs a Scheduler. queueDepth bounds the number of items that can
// be enqueued without a consumer (the queue is "unbounded in principle" per
// §4.4 — callers await completion of bursts, so a generously large buffer is
// used rather than a literal unbounded channel).
func New(sender Sender, queueDepth int) *Scheduler {
	if queueDepth <= 0 {
		queueDepth = 4096
	}
	return &Scheduler{
		sender:     sender,
		pacer:      rate.NewLimiter(rate.Every(interCommandGap), 1),
		queue:      make(chan *PendingCommand, queueDepth),
		inFlightCh: make(chan *inFlight, 1),
		stopCh:     make(chan struct{}),
	}
}

// Enqueue appends a command to the tail of the FIFO. It never blocks unless
// the queue buffer is exhausted.
func (s *Scheduler) Enqueue(cmd *PendingCommand) {
	s.queue <- cmd
}

// Run is the single worker loop; it must be started exactly once.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drainOnLoss(fmt.Errorf("scheduler: %w", ctx.Err()))
			return
		case <-s.stopCh:
			return
		case cmd := <-s.queue:
			s.execute(ctx, cmd)
		}
	}
}

// Stop halts the worker loop after the current command (if any) completes.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// TransportLost fails every queued command with a TransportLost error, per
// §7: the Scheduler does not replay historical writes automatically — the
// host is expected to issue a refresh after reconnect. A command already in
// flight is not interrupted; it completes through its own ACK/answer
// timeouts and retries.
func (s *Scheduler) TransportLost(err error) {
	s.drainOnLoss(err)
}

func (s *Scheduler) drainOnLoss(err error) {
	for {
		select {
		case cmd := <-s.queue:
			cmd.Done <- Result{Err: fmt.Errorf("TransportLost: %w", err)}
		default:
			return
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, cmd *PendingCommand) {
	if err := s.pacer.Wait(ctx); err != nil {
		cmd.Done <- Result{Err: err}
		return
	}
	// Hold the worker for interCommandGap once this command has finished, so
	// the next command starts no earlier than that after its end.
	defer func() {
		select {
		case <-time.After(interCommandGap):
		case <-ctx.Done():
		}
	}()

	inf := &inFlight{cmd: cmd, ackCh: make(chan *codec.Frame, 1), answerCh: make(chan *codec.Frame, 1)}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(interCommandGap):
			case <-ctx.Done():
				cmd.Done <- Result{Err: ctx.Err()}
				return
			}
		}

		select {
		case s.inFlightCh <- inf:
		default:
			<-s.inFlightCh
			s.inFlightCh <- inf
		}

		if err := s.sender.Send(ctx, []byte(cmd.Frame)); err != nil {
			<-s.inFlightCh
			lastErr = err
			continue
		}

		time.Sleep(interAckDelay)

		if cmd.ExpectedAck != nil {
			select {
			case <-inf.ackCh:
			case <-time.After(cmd.AckTimeout):
				<-s.inFlightCh
				lastErr = fmt.Errorf("AckTimeout: no ACK within %s", cmd.AckTimeout)
				log.Printf("scheduler: attempt %d/%d: %v", attempt, maxAttempts, lastErr)
				continue
			case <-ctx.Done():
				<-s.inFlightCh
				cmd.Done <- Result{Err: ctx.Err()}
				return
			}
		}

		if cmd.ExpectedAnswer != nil {
			select {
			case ans := <-inf.answerCh:
				<-s.inFlightCh
				cmd.Done <- Result{Answer: ans}
				return
			case <-time.After(cmd.AnswerTimeout):
				<-s.inFlightCh
				lastErr = fmt.Errorf("AnswerTimeout: no answer within %s", cmd.AnswerTimeout)
				log.Printf("scheduler: attempt %d/%d: %v", attempt, maxAttempts, lastErr)
				continue
			case <-ctx.Done():
				<-s.inFlightCh
				cmd.Done <- Result{Err: ctx.Err()}
				return
			}
		}

		<-s.inFlightCh
		cmd.Done <- Result{}
		return
	}

	cmd.Done <- Result{Err: fmt.Errorf("RetriesExhausted: %w", lastErr)}
}

// NotifyAck implements listener.AckAnswerSink: a candidate ACK frame matches
// the currently in-flight command's expected_ack pattern, or a CRC8 failure
// on an otherwise-matching frame also counts as a trigger to retry (handled
// by the Listener simply dropping unparseable frames, which naturally times
// out the ACK wait).
func (s *Scheduler) NotifyAck(f *codec.Frame) bool {
	select {
	case inf := <-s.inFlightCh:
		s.inFlightCh <- inf
		if inf.cmd.ExpectedAck != nil && inf.cmd.ExpectedAck(f) {
			select {
			case inf.ackCh <- f:
			default:
			}
			return true
		}
		return false
	default:
		return false
	}
}

// NotifyAnswer implements listener.AckAnswerSink.
func (s *Scheduler) NotifyAnswer(f *codec.Frame) bool {
	select {
	case inf := <-s.inFlightCh:
		s.inFlightCh <- inf
		if inf.cmd.ExpectedAnswer != nil && inf.cmd.ExpectedAnswer(f) {
			select {
			case inf.answerCh <- f:
			default:
			}
			return true
		}
		return false
	default:
		return false
	}
}
