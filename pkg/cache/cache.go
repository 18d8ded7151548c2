// Package cache maintains the in-memory mirror of every known module's
// 12-byte output state (spec §3 OutputState, §4.5 State Cache).
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// OutputState is a module's 12-byte output vector. s[i] is channel i+1.
type OutputState [12]byte

// entry holds a module's state behind an atomic pointer so readers never
// block on the single writer path (§4.5: "lock-free for readers" via
// release/acquire semantics).
type entry struct {
	state atomic.Pointer[OutputState]
}

// RefreshedFunc is invoked exactly once per applied feedback answer, with
// the module's state as of that answer.
type RefreshedFunc func(moduleAddress string, state OutputState)

// Cache is the shared, single-writer-discipline module state mirror.
type Cache struct {
	mu        sync.Mutex
	modules   map[string]*entry
	channels  map[string]int // module address -> channel count, for group bounds
	onRefresh RefreshedFunc
}

// New creates an empty Cache. modules declares every known module address
// and its channel count (4, 6 or 12) up front, per spec §3 Lifecycle
// ("created from user config on startup, never destroyed").
func New(modules map[string]int, onRefresh RefreshedFunc) *Cache {
	c := &Cache{
		modules:   make(map[string]*entry, len(modules)),
		channels:  make(map[string]int, len(modules)),
		onRefresh: onRefresh,
	}
	for addr, chCount := range modules {
		e := &entry{}
		var zero OutputState
		e.state.Store(&zero)
		c.modules[addr] = e
		c.channels[addr] = chCount
	}
	return c
}

// ErrUnknownModule is returned when an operation references an address not
// present in configuration (§7 UnknownModule).
type ErrUnknownModule struct{ Address string }

func (e *ErrUnknownModule) Error() string {
	return fmt.Sprintf("nikobus: unknown module %q", e.Address)
}

// ErrInvalidArgument is returned for an out-of-range channel or value
// (§7 InvalidArgument).
type ErrInvalidArgument struct{ Reason string }

func (e *ErrInvalidArgument) Error() string {
	return fmt.Sprintf("nikobus: invalid argument: %s", e.Reason)
}

func (c *Cache) lookup(moduleAddress string) (*entry, error) {
	e, ok := c.modules[moduleAddress]
	if !ok {
		return nil, &ErrUnknownModule{Address: moduleAddress}
	}
	return e, nil
}

// Get returns the current value of a single 1-indexed channel.
func (c *Cache) Get(moduleAddress string, channel int) (byte, error) {
	e, err := c.lookup(moduleAddress)
	if err != nil {
		return 0, err
	}
	if channel < 1 || channel > 12 {
		return 0, &ErrInvalidArgument{Reason: fmt.Sprintf("channel %d out of range", channel)}
	}
	state := e.state.Load()
	return state[channel-1], nil
}

// GetState returns a copy of the full 12-byte output vector.
func (c *Cache) GetState(moduleAddress string) (OutputState, error) {
	e, err := c.lookup(moduleAddress)
	if err != nil {
		return OutputState{}, err
	}
	return *e.state.Load(), nil
}

// ApplyWrite performs the optimistic cache update described in §4.5: the API
// facade calls this before the frame is even sent, so the host sees an
// immediately consistent view. If the Scheduler later reports failure, the
// caller is expected to issue Refresh to reconcile.
func (c *Cache) ApplyWrite(moduleAddress string, channel int, value byte) error {
	e, err := c.lookup(moduleAddress)
	if err != nil {
		return err
	}
	if channel < 1 || channel > 12 {
		return &ErrInvalidArgument{Reason: fmt.Sprintf("channel %d out of range", channel)}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := *e.state.Load()
	next := cur
	next[channel-1] = value
	e.state.Store(&next)
	return nil
}

// ApplyFeedback writes a group's 6 bytes into the module's state (group 1 =
// s[0..5], group 2 = s[6..11]) and fires onRefresh exactly once.
func (c *Cache) ApplyFeedback(moduleAddress string, group int, data [6]byte) {
	c.mu.Lock()
	e, ok := c.modules[moduleAddress]
	if !ok {
		c.mu.Unlock()
		return
	}
	cur := *e.state.Load()
	next := cur
	if group == 2 {
		copy(next[6:12], data[:])
	} else {
		copy(next[0:6], data[:])
	}
	e.state.Store(&next)
	c.mu.Unlock()

	if c.onRefresh != nil {
		c.onRefresh(moduleAddress, next)
	}
}

// Channels returns the configured channel count for a module (4, 6 or 12),
// which tells whether the module has a group 2.
func (c *Cache) Channels(moduleAddress string) (int, bool) {
	n, ok := c.channels[moduleAddress]
	return n, ok
}

// Modules returns every known module address, for periodic refresh.
func (c *Cache) Modules() []string {
	addrs := make([]string, 0, len(c.modules))
	for addr := range c.modules {
		addrs = append(addrs, addr)
	}
	return addrs
}
