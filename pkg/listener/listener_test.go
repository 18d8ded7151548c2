package listener

import (
	"fmt"
	"sync"
	"testing"

	"github.com/nikobus/gateway/pkg/codec"
)

type feedbackCall struct {
	addr  string
	group int
	data  [6]byte
}

type fakeCache struct {
	mu    sync.Mutex
	calls []feedbackCall
}

func (c *fakeCache) ApplyFeedback(moduleAddress string, group int, data [6]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, feedbackCall{moduleAddress, group, data})
}

type fakeScheduler struct {
	mu       sync.Mutex
	acks     []*codec.Frame
	answers  []*codec.Frame
	matchAck bool
}

func (s *fakeScheduler) NotifyAck(f *codec.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks = append(s.acks, f)
	return s.matchAck
}

func (s *fakeScheduler) NotifyAnswer(f *codec.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, f)
	return true
}

type fakeDiscovery struct {
	mu    sync.Mutex
	lines []string
}

func (d *fakeDiscovery) HandleChunk(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines = append(d.lines, line)
}

func newTestListener() (*Listener, *fakeCache, *fakeScheduler, *fakeDiscovery, chan string) {
	cache := &fakeCache{}
	sched := &fakeScheduler{}
	disc := &fakeDiscovery{}
	buttons := make(chan string, 8)
	l := New(nil, buttons, sched, cache, disc)
	return l, cache, sched, disc, buttons
}

// refreshEcho builds a valid $0512/$0517 refresh-command echo for moduleAddress
// (4 hex chars, e.g. "4707"), matching the on-wire payload layout
// [0x05, submode, addrLow, addrHigh].
func refreshEcho(t *testing.T, moduleAddress string, group int) string {
	t.Helper()
	var hi, lo byte
	if _, err := fmt.Sscanf(moduleAddress, "%02X%02X", &hi, &lo); err != nil {
		t.Fatalf("bad test address %q: %v", moduleAddress, err)
	}
	submode := byte(0x12)
	if group == 2 {
		submode = 0x17
	}
	frame := codec.Build(codec.FuncFeedback, 0, false, []byte{submode, lo, hi})
	return trimCR(frame)
}

func trimCR(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\r' {
		return s[:len(s)-1]
	}
	return s
}

// TestFeedbackAnswerScenario4 reproduces spec §8 scenario 4 verbatim: after a
// $0512 refresh-echo context for module 4707, feeding
// "$1C074700FF0000000000CCAEA3" applies 0xFF into group 1 channel 1 and
// leaves the rest of the group zeroed.
func TestFeedbackAnswerScenario4(t *testing.T) {
	l, cache, _, _, _ := newTestListener()

	l.dispatch(refreshEcho(t, "4707", 1))
	l.dispatch("$1C074700FF0000000000CCAEA3")

	if len(cache.calls) != 1 {
		t.Fatalf("expected exactly one ApplyFeedback call, got %d: %+v", len(cache.calls), cache.calls)
	}
	got := cache.calls[0]
	if got.addr != "4707" {
		t.Fatalf("expected address 4707, got %s", got.addr)
	}
	if got.group != 1 {
		t.Fatalf("expected group 1, got %d", got.group)
	}
	want := [6]byte{0xFF, 0, 0, 0, 0, 0}
	if got.data != want {
		t.Fatalf("expected state %v, got %v", want, got.data)
	}
}

func TestFeedbackAnswerWithoutPriorContextDefaultsToGroup1(t *testing.T) {
	l, cache, _, _, _ := newTestListener()

	l.dispatch("$1C074700FF0000000000CCAEA3")

	if len(cache.calls) != 1 {
		t.Fatalf("expected exactly one ApplyFeedback call, got %d", len(cache.calls))
	}
	if cache.calls[0].group != 1 {
		t.Fatalf("expected default group 1, got %d", cache.calls[0].group)
	}
}

func TestFeedbackAnswerUsesGroup2HintFromRefreshEcho(t *testing.T) {
	l, cache, _, _, _ := newTestListener()

	l.dispatch(refreshEcho(t, "4707", 2))
	l.dispatch("$1C074700FF0000000000CCAEA3")

	if len(cache.calls) != 1 {
		t.Fatalf("expected exactly one ApplyFeedback call, got %d", len(cache.calls))
	}
	if cache.calls[0].group != 2 {
		t.Fatalf("expected group 2 from the $0517 hint, got %d", cache.calls[0].group)
	}
}

func TestFeedbackAnswerDoesNotFallThroughToDefaultRoute(t *testing.T) {
	l, cache, sched, _, _ := newTestListener()

	l.dispatch("$1C074700FF0000000000CCAEA3")

	if len(cache.calls) != 1 {
		t.Fatalf("expected the $1C frame to reach the cache, got %d calls", len(cache.calls))
	}
	if len(sched.acks) != 0 || len(sched.answers) != 0 {
		t.Fatalf("expected the $1C frame not to be routed to the scheduler, got acks=%d answers=%d", len(sched.acks), len(sched.answers))
	}
}

func TestDispatchRoutesAckFrameToScheduler(t *testing.T) {
	l, cache, sched, _, _ := newTestListener()

	ack := trimCR(codec.Build(codec.FuncFeedback, 0, false, nil))
	l.dispatch(ack)

	if len(sched.acks) != 1 {
		t.Fatalf("expected the bare 0x05 frame to reach NotifyAck, got %d", len(sched.acks))
	}
	if len(cache.calls) != 0 {
		t.Fatalf("expected the ACK frame not to reach the cache, got %d calls", len(cache.calls))
	}
}

func TestDispatchRoutesDiscoveryChunks(t *testing.T) {
	l, _, _, disc, _ := newTestListener()

	l.dispatch("$051047074700...$2E0000")
	l.dispatch("$052247074700...$1E0000")

	if len(disc.lines) != 2 {
		t.Fatalf("expected both discovery chunks to be routed, got %d", len(disc.lines))
	}
}

func TestDispatchRoutesButtonFrame(t *testing.T) {
	l, _, _, _, buttons := newTestListener()
	l.dispatch("#N123456")

	select {
	case addr := <-buttons:
		if addr != "123456" {
			t.Fatalf("expected button address 123456, got %q", addr)
		}
	default:
		t.Fatalf("expected a button address on the channel")
	}
}
