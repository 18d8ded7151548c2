package button

import (
	"testing"
	"time"
)

func drain(t *testing.T, events chan Event, timeout time.Duration) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
}

func TestShortPressLifecycle(t *testing.T) {
	cfg := Config{LongPressThresholdMS: 500, ReleaseWindowMS: 100, DebounceMS: 50}
	fsm := New(cfg, nil)

	fsm.HandleRaw("4ECB1A")
	events := drain(t, fsm.Events, 400*time.Millisecond)

	if len(events) == 0 || events[0].State != StatePressed {
		t.Fatalf("expected first event to be pressed, got %+v", events)
	}

	var sawReleased, sawShort bool
	for _, ev := range events {
		if ev.State == StateReleased {
			sawReleased = true
		}
		if ev.State == StateShort {
			sawShort = true
		}
		if ev.State == StateLong {
			t.Fatalf("did not expect a long-press classification for a short press")
		}
	}
	if !sawReleased || !sawShort {
		t.Fatalf("expected released and short_button_pressed events, got %+v", events)
	}
}

func TestLongPressEmitsTimerMilestonesAndLongClassification(t *testing.T) {
	cfg := Config{LongPressThresholdMS: 500, ReleaseWindowMS: 100, DebounceMS: 50}
	fsm := New(cfg, nil)

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fsm.HandleRaw("4ECB1A")
			}
		}
	}()

	time.Sleep(1200 * time.Millisecond)
	close(stop)

	events := drain(t, fsm.Events, 400*time.Millisecond)

	var sawTimer1, sawLong bool
	for _, ev := range events {
		if ev.State == StateTimer && ev.ThresholdSec != nil && *ev.ThresholdSec == 1 {
			sawTimer1 = true
		}
		if ev.State == StateLong {
			sawLong = true
		}
	}
	if !sawTimer1 {
		t.Errorf("expected a timer_1 milestone during a >1s hold, got %+v", events)
	}
	if !sawLong {
		t.Errorf("expected long_button_pressed classification, got %+v", events)
	}
}

func TestDebounceSuppressesRapidRepressAfterRelease(t *testing.T) {
	cfg := Config{LongPressThresholdMS: 500, ReleaseWindowMS: 60, DebounceMS: 500}
	fsm := New(cfg, nil)

	fsm.HandleRaw("4ECB1A")
	_ = drain(t, fsm.Events, 200*time.Millisecond) // let it release

	fsm.HandleRaw("4ECB1A") // within debounce window of the release
	events := drain(t, fsm.Events, 100*time.Millisecond)

	for _, ev := range events {
		if ev.State == StatePressed {
			t.Fatalf("expected debounced repress to be suppressed, got %+v", events)
		}
	}
}
