// Package cover implements the per-channel shutter position estimator of
// spec §4.6: a small state machine (stopped/opening/closing) driven by a
// monotonic clock and the module's configured operation time.
package cover

import (
	"fmt"
	"sync"
	"time"
)

// State is a cover channel's movement state.
type State string

const (
	StateStopped State = "stopped"
	StateOpening State = "opening"
	StateClosing State = "closing"
)

const defaultOperationTimeS = 40.0

// CommandFunc issues a movement command (0x01 open, 0x02 close, 0x00 stop)
// for a module channel, the same way the API Facade's open/close/stop_cover
// verbs do (§4.8).
type CommandFunc func(moduleAddress string, channel int, value byte) error

type key struct {
	module  string
	channel int
}

type channelState struct {
	mu               sync.Mutex
	state            State
	position         float64 // 0..100
	operationTimeS   float64
	movementStart    time.Time
	stopTimer        *time.Timer
}

// Estimator owns every configured cover channel.
type Estimator struct {
	cmd CommandFunc
	now func() time.Time

	mu       sync.Mutex
	channels map[key]*channelState
}

// New constructs an Estimator. now defaults to time.Now; tests may inject a
// fake clock.
func New(cmd CommandFunc, now func() time.Time) *Estimator {
	if now == nil {
		now = time.Now
	}
	return &Estimator{cmd: cmd, now: now, channels: make(map[key]*channelState)}
}

// Configure registers a cover channel with its configured operation time
// (§3 CoverChannel, defaults to 40s per §4.6 when unconfigured).
func (e *Estimator) Configure(moduleAddress string, channel int, operationTimeS float64) {
	if operationTimeS <= 0 {
		operationTimeS = defaultOperationTimeS
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	k := key{moduleAddress, channel}
	if _, ok := e.channels[k]; ok {
		return
	}
	e.channels[k] = &channelState{state: StateStopped, operationTimeS: operationTimeS}
}

func (e *Estimator) get(moduleAddress string, channel int) (*channelState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.channels[key{moduleAddress, channel}]
	if !ok {
		return nil, fmt.Errorf("cover: unknown channel %s/%d", moduleAddress, channel)
	}
	return c, nil
}

// updatePositionLocked freezes the estimated position as of now, given the
// channel is already locked.
func (c *channelState) updatePositionLocked(now time.Time) {
	if c.state == StateStopped || c.movementStart.IsZero() {
		return
	}
	elapsed := now.Sub(c.movementStart).Seconds()
	delta := elapsed / c.operationTimeS * 100
	switch c.state {
	case StateOpening:
		c.position += delta
	case StateClosing:
		c.position -= delta
	}
	if c.position > 100 {
		c.position = 100
	}
	if c.position < 0 {
		c.position = 0
	}
	c.movementStart = now
}

func (c *channelState) cancelTimerLocked() {
	if c.stopTimer != nil {
		c.stopTimer.Stop()
		c.stopTimer = nil
	}
}

// OnWriteCommand updates the estimator when a write command sets a channel
// to a new movement value (§4.6 Transitions).
func (e *Estimator) OnWriteCommand(moduleAddress string, channel int, value byte) error {
	c, err := e.get(moduleAddress, channel)
	if err != nil {
		return err
	}
	now := e.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updatePositionLocked(now)
	c.cancelTimerLocked()
	switch value {
	case 0x01:
		c.state = StateOpening
		c.movementStart = now
	case 0x02:
		c.state = StateClosing
		c.movementStart = now
	case 0x00:
		c.state = StateStopped
		c.movementStart = time.Time{}
	}
	return nil
}

// OnFeedback reconciles the estimator with a module's reported state: a
// feedback answer showing 0x00 for the channel forces stopped.
func (e *Estimator) OnFeedback(moduleAddress string, channel int, value byte) {
	c, err := e.get(moduleAddress, channel)
	if err != nil {
		return
	}
	now := e.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updatePositionLocked(now)
	if value == 0x00 {
		c.cancelTimerLocked()
		c.state = StateStopped
		c.movementStart = time.Time{}
	}
}

// Position returns the current estimated position, 0..100.
func (e *Estimator) Position(moduleAddress string, channel int) (int, error) {
	c, err := e.get(moduleAddress, channel)
	if err != nil {
		return 0, err
	}
	now := e.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updatePositionLocked(now)
	return int(c.position + 0.5), nil
}

// State returns the current movement state.
func (e *Estimator) State(moduleAddress string, channel int) (State, error) {
	c, err := e.get(moduleAddress, channel)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, nil
}

// SetPosition computes the direction and duration to reach targetPct and
// issues the movement command, scheduling an automatic stop after the
// computed duration (§4.6).
func (e *Estimator) SetPosition(moduleAddress string, channel int, targetPct int) error {
	if targetPct < 0 || targetPct > 100 {
		return fmt.Errorf("cover: target position %d out of range", targetPct)
	}
	c, err := e.get(moduleAddress, channel)
	if err != nil {
		return err
	}

	now := e.now()
	c.mu.Lock()
	c.updatePositionLocked(now)
	current := c.position
	c.cancelTimerLocked()
	c.mu.Unlock()

	delta := float64(targetPct) - current
	if delta == 0 {
		return nil
	}

	var value byte
	if delta > 0 {
		value = 0x01
	} else {
		value = 0x02
		delta = -delta
	}

	duration := time.Duration(delta/100*c.operationTimeS*1000) * time.Millisecond

	if err := e.cmd(moduleAddress, channel, value); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = map[byte]State{0x01: StateOpening, 0x02: StateClosing}[value]
	c.movementStart = now
	c.stopTimer = time.AfterFunc(duration, func() {
		_ = e.cmd(moduleAddress, channel, 0x00)
		if err := e.OnWriteCommand(moduleAddress, channel, 0x00); err != nil {
			return
		}
	})
	c.mu.Unlock()

	return nil
}

// OnButtonPress implements the "behave as if the user issued a toggle"
// control rule of §4.6 for a button known (via config) to control this
// channel: opens if stopped, stops if already moving.
func (e *Estimator) OnButtonPress(moduleAddress string, channel int, operationTimeOverrideS float64) error {
	c, err := e.get(moduleAddress, channel)
	if err != nil {
		return err
	}
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state != StateStopped {
		if err := e.cmd(moduleAddress, channel, 0x00); err != nil {
			return err
		}
		return e.OnWriteCommand(moduleAddress, channel, 0x00)
	}

	if err := e.cmd(moduleAddress, channel, 0x01); err != nil {
		return err
	}
	if err := e.OnWriteCommand(moduleAddress, channel, 0x01); err != nil {
		return err
	}

	if operationTimeOverrideS > 0 {
		c.mu.Lock()
		c.cancelTimerLocked()
		c.stopTimer = time.AfterFunc(time.Duration(operationTimeOverrideS*1000)*time.Millisecond, func() {
			_ = e.cmd(moduleAddress, channel, 0x00)
			_ = e.OnWriteCommand(moduleAddress, channel, 0x00)
		})
		c.mu.Unlock()
	}
	return nil
}

// Shutdown cancels every scheduled stop timer (§5 cancellation on shutdown).
func (e *Estimator) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.channels {
		c.mu.Lock()
		c.cancelTimerLocked()
		c.mu.Unlock()
	}
}
