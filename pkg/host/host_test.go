package host

import (
	"testing"
	"time"

	"github.com/nikobus/gateway/pkg/button"
)

func TestEventNameMapping(t *testing.T) {
	bucket := 2
	threshold := 1
	cases := []struct {
		ev   button.Event
		want string
	}{
		{button.Event{State: button.StatePressed}, "button_pressed"},
		{button.Event{State: button.StateReleased}, "button_released"},
		{button.Event{State: button.StateShort}, "short_button_pressed"},
		{button.Event{State: button.StateLong}, "long_button_pressed"},
		{button.Event{State: button.StateBucket, Bucket: &bucket}, "button_pressed_2"},
		{button.Event{State: button.StateTimer, ThresholdSec: &threshold}, "button_timer_1"},
		{button.Event{State: button.StateOperation}, "button_operation"},
	}
	for _, c := range cases {
		if got := eventName(c.ev); got != c.want {
			t.Errorf("eventName(%+v) = %q, want %q", c.ev, got, c.want)
		}
	}
}

func TestDurationOfHandlesNilAndSet(t *testing.T) {
	if d := durationOf(button.Event{}); d != 0 {
		t.Fatalf("expected 0 for a nil duration, got %v", d)
	}
	v := 2.5
	if d := durationOf(button.Event{DurationS: &v, Ts: time.Now()}); d != 2.5 {
		t.Fatalf("expected 2.5, got %v", d)
	}
}
