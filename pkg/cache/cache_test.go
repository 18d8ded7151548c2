package cache

import "testing"

func TestApplyWriteIsOptimisticallyVisible(t *testing.T) {
	c := New(map[string]int{"4707": 12}, nil)
	if err := c.ApplyWrite("4707", 1, 0xFF); err != nil {
		t.Fatalf("ApplyWrite: %v", err)
	}
	v, err := c.Get("4707", 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != 0xFF {
		t.Fatalf("expected 0xFF, got 0x%02X", v)
	}
}

func TestApplyWriteUnknownModule(t *testing.T) {
	c := New(map[string]int{"4707": 12}, nil)
	err := c.ApplyWrite("FFFF", 1, 0xFF)
	if _, ok := err.(*ErrUnknownModule); !ok {
		t.Fatalf("expected ErrUnknownModule, got %v", err)
	}
}

func TestApplyWriteInvalidChannel(t *testing.T) {
	c := New(map[string]int{"4707": 12}, nil)
	err := c.ApplyWrite("4707", 13, 0xFF)
	if _, ok := err.(*ErrInvalidArgument); !ok {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestApplyFeedbackWritesGroupAndFiresCallback(t *testing.T) {
	var gotAddr string
	var gotState OutputState
	c := New(map[string]int{"4707": 12}, func(addr string, state OutputState) {
		gotAddr = addr
		gotState = state
	})

	c.ApplyFeedback("4707", 1, [6]byte{0xFF, 0, 0, 0, 0, 0})
	if gotAddr != "4707" {
		t.Fatalf("expected callback for 4707, got %q", gotAddr)
	}
	if gotState[0] != 0xFF {
		t.Fatalf("expected channel 1 to be 0xFF in callback state, got 0x%02X", gotState[0])
	}

	c.ApplyFeedback("4707", 2, [6]byte{0, 0, 0, 0, 0, 0x80})
	state, err := c.GetState("4707")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state[0] != 0xFF || state[11] != 0x80 {
		t.Fatalf("expected both groups merged, got %+v", state)
	}
}

func TestApplyFeedbackUnknownModuleIsIgnored(t *testing.T) {
	called := false
	c := New(map[string]int{"4707": 12}, func(string, OutputState) { called = true })
	c.ApplyFeedback("FFFF", 1, [6]byte{})
	if called {
		t.Fatalf("did not expect callback for an unknown module")
	}
}

func TestChannelsAndModules(t *testing.T) {
	c := New(map[string]int{"4707": 12, "9105": 4}, nil)
	n, ok := c.Channels("4707")
	if !ok || n != 12 {
		t.Fatalf("expected 12 channels for 4707, got %d ok=%v", n, ok)
	}
	mods := c.Modules()
	if len(mods) != 2 {
		t.Fatalf("expected 2 known modules, got %d", len(mods))
	}
}
