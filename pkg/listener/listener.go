// Package listener consumes CR-delimited lines from the Transport and routes
// them into the four lanes described in spec §4.3: button events, feedback
// answers, command ACK/answers, and inventory discovery chunks.
package listener

import (
	"context"
	"encoding/hex"
	"log"
	"strings"

	"github.com/nikobus/gateway/pkg/codec"
)

// Reader is the subset of transport.Transport the Listener needs.
type Reader interface {
	ReadLine(ctx context.Context) (string, error)
}

// CacheSink receives decoded feedback-module answers.
type CacheSink interface {
	ApplyFeedback(moduleAddress string, group int, data [6]byte)
}

// AckAnswerSink receives frames that may complete an outstanding command.
type AckAnswerSink interface {
	// NotifyAck reports a candidate ACK frame; it returns true if it matched
	// an outstanding command's expected_ack pattern.
	NotifyAck(f *codec.Frame) bool
	// NotifyAnswer reports a candidate answer frame; it returns true if it
	// matched an outstanding command's expected_answer pattern.
	NotifyAnswer(f *codec.Frame) bool
}

// DiscoverySink receives raw inventory response chunks.
type DiscoverySink interface {
	HandleChunk(line string)
}

// Listener is the exclusive reader of Transport (§5).
type Listener struct {
	reader    Reader
	buttons   chan<- string
	scheduler AckAnswerSink
	cache     CacheSink
	discovery DiscoverySink

	// lastRefreshGroup tracks, per module address, the group hinted by the
	// most recently observed $0512/$0517 refresh echo. At most one
	// outstanding refresh per module is assumed (§9 design notes) — a second
	// refresh for the same module before its answer arrives overwrites the
	// hint, which is the documented race.
	lastRefreshGroup map[string]int
}

// New constructs a Listener. buttons receives raw 6-hex-character button
// addresses as they are observed on the bus.
func New(reader Reader, buttons chan<- string, scheduler AckAnswerSink, cache CacheSink, discovery DiscoverySink) *Listener {
	return &Listener{
		reader:           reader,
		buttons:          buttons,
		scheduler:        scheduler,
		cache:            cache,
		discovery:        discovery,
		lastRefreshGroup: make(map[string]int),
	}
}

// Run reads and dispatches lines until ctx is cancelled or the transport is
// lost.
func (l *Listener) Run(ctx context.Context) error {
	for {
		line, err := l.reader.ReadLine(ctx)
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		l.dispatch(line)
	}
}

func (l *Listener) dispatch(line string) {
	switch {
	case strings.Contains(line, "#N"):
		l.dispatchButton(line)

	case strings.Contains(line, "$0510") && strings.Contains(line, "$2E"):
		l.discovery.HandleChunk(line)
	case strings.Contains(line, "$0522") && strings.Contains(line, "$1E"):
		l.discovery.HandleChunk(line)

	case strings.HasPrefix(trimDollarPrefix(line), "0512"), strings.HasPrefix(trimDollarPrefix(line), "0517"):
		l.dispatchRefreshEcho(line)

	// $1C is the frame's LL field itself (the 2 chars right after '$'), not
	// a payload prefix: the feedback-answer payload is always 9 bytes, so
	// its length-derived LL always computes to 0x1C (§4.3/§8 scenario 4).
	case frameLL(line) == "1C":
		l.dispatchFeedbackAnswer(line)

	default:
		l.dispatchFrame(line)
	}
}

// extractCandidateFrame returns the substring starting at the frame's '$',
// preferring the frame after a second '$' when the line is echo-concatenated
// (§4.2), mirroring codec.Parse's own candidate selection.
func extractCandidateFrame(line string) string {
	idx := strings.Index(line, "$")
	if idx < 0 {
		return ""
	}
	if idx2 := strings.Index(line[idx+1:], "$"); idx2 >= 0 {
		return line[idx+1+idx2:]
	}
	return line[idx:]
}

// trimDollarPrefix returns the hex payload immediately after the candidate
// frame's LL field, used only for cheap prefix sniffing before full
// validation.
func trimDollarPrefix(line string) string {
	c := extractCandidateFrame(line)
	if len(c) < 3 {
		return ""
	}
	return c[3:]
}

// frameLL returns the candidate frame's 2-character LL field (the hex chars
// immediately after '$'), or "" if the line is too short to have one.
func frameLL(line string) string {
	c := extractCandidateFrame(line)
	if len(c) < 3 {
		return ""
	}
	return c[1:3]
}

func (l *Listener) dispatchButton(line string) {
	idx := strings.Index(line, "#N")
	if idx < 0 || idx+8 > len(line) {
		log.Printf("listener: malformed #N frame: %q", line)
		return
	}
	addr := line[idx+2 : idx+8]
	select {
	case l.buttons <- addr:
	default:
		log.Printf("listener: button event channel full, dropping %q", addr)
	}
}

// dispatchRefreshEcho records the group hinted by an observed $0512/$0517
// refresh-command echo. This frame's payload is [0x05, submode, addrLow,
// addrHigh] — an extra submode byte ahead of the address compared to a
// generic command frame — so the address is taken by direct character
// offset into the candidate frame, the same technique dispatchFeedbackAnswer
// uses, rather than codec.Parse's generic func+addr decode (which would
// read the submode byte as the address's low byte).
func (l *Listener) dispatchRefreshEcho(line string) {
	candidate := extractCandidateFrame(line)
	if _, err := codec.Parse(candidate); err != nil {
		log.Printf("listener: %v", err)
		return
	}
	if len(candidate) < 11 {
		log.Printf("listener: refresh echo too short: %q", candidate)
		return
	}

	submode := candidate[5:7]
	addrRaw := candidate[7:11]
	moduleAddress := addrRaw[2:4] + addrRaw[0:2]

	group := 1
	if submode == "17" {
		group = 2
	}
	l.lastRefreshGroup[moduleAddress] = group
}

func (l *Listener) dispatchFeedbackAnswer(line string) {
	// Byte offsets are taken verbatim from the upstream listener and assume
	// the frame string begins at offset 0 of the candidate '$' frame (after
	// any echo-concatenation strip in codec.Parse) — see spec §4.3/§9.
	candidate := extractCandidateFrame(line)
	if _, err := codec.Parse(candidate); err != nil {
		log.Printf("listener: %v", err)
		return
	}
	if len(candidate) < 21 {
		log.Printf("listener: feedback answer too short: %q", candidate)
		return
	}
	moduleAddressRaw := candidate[3:7]
	moduleAddress := moduleAddressRaw[2:4] + moduleAddressRaw[0:2]
	stateHex := candidate[9:21]

	stateBytes, err := hex.DecodeString(stateHex)
	if err != nil || len(stateBytes) != 6 {
		log.Printf("listener: bad feedback state bytes %q: %v", stateHex, err)
		return
	}
	var state [6]byte
	copy(state[:], stateBytes)

	group, ok := l.lastRefreshGroup[moduleAddress]
	if !ok {
		group = 1
	}
	l.cache.ApplyFeedback(moduleAddress, group, state)
}

func (l *Listener) dispatchFrame(line string) {
	f, err := codec.Parse(line)
	if err != nil {
		log.Printf("listener: %v", err)
		return
	}

	if f.Func == codec.FuncCode(0x05) {
		if l.scheduler.NotifyAck(f) {
			return
		}
	}
	if l.scheduler.NotifyAnswer(f) {
		return
	}
	log.Printf("listener: unrouted frame func=0x%02x", f.Func)
}

