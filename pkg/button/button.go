// Package button implements the per-button press/hold-timer/release
// lifecycle machine of spec §4.7, including the debounce and long/short
// press classification rules from §9's resolved Open Question.
package button

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// State is the lifecycle phase an Event reports.
type State string

const (
	StatePressed   State = "pressed"
	StateReleased  State = "released"
	StateTimer     State = "timer"
	StateShort     State = "short_button_pressed"
	StateLong      State = "long_button_pressed"
	StateBucket    State = "bucket"
	StateOperation State = "button_operation"
)

// ImpactedModule is a module+group a button is known to affect, used to
// trigger a targeted refresh after release (§3 Button, §4.7).
type ImpactedModule struct {
	Address string
	Group   int
}

// Config carries per-button metadata and the single configurable long-press
// threshold (§9). A LongPressThresholdMS of zero or less falls back to 500ms.
type Config struct {
	LongPressThresholdMS int
	ReleaseWindowMS      int
	DebounceMS           int
	Impacted             map[string][]ImpactedModule
	OperationTimeS       map[string]float64 // per-button shutter operation time override
}

func (c Config) longPressThreshold() time.Duration {
	if c.LongPressThresholdMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.LongPressThresholdMS) * time.Millisecond
}

func (c Config) releaseWindow() time.Duration {
	if c.ReleaseWindowMS <= 0 {
		return 400 * time.Millisecond
	}
	return time.Duration(c.ReleaseWindowMS) * time.Millisecond
}

func (c Config) debounceWindow() time.Duration {
	if c.DebounceMS <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// Event is emitted to the host for every lifecycle transition (§4.7/§6). The
// host adapter maps State to one of the fixed event names of §6
// (button_pressed, button_released, short_button_pressed,
// long_button_pressed, button_pressed_{0,1,2,3}, button_timer_{1,2,3},
// button_operation).
type Event struct {
	Address        string
	ModuleAddress  string // set only on StateOperation
	Group          int    // set only on StateOperation
	OperationTimeS float64
	PressID        string
	State          State
	Ts             time.Time
	DurationS      *float64
	Bucket         *int // 0..3, set on release
	ThresholdSec   *int // 1..3, set on timer_N
}

// RefreshFunc asks the State Cache/Scheduler to refresh a module+group after
// a press cycle completes; returning once the refresh's answer has landed.
type RefreshFunc func(moduleAddress string, group int) error

// FSM runs one lifecycle machine per button address (§4.7).
type FSM struct {
	cfg     Config
	refresh RefreshFunc
	Events  chan Event

	mu           sync.Mutex
	active       map[string]*cycle
	lastReleased map[string]time.Time
	pressCounter int
}

type cycle struct {
	address  string
	pressID  string
	pressAt  time.Time
	lastSeen time.Time
	fired    map[int]bool
	mu       sync.Mutex
	cancel   chan struct{}
}

// New constructs an FSM. refresh may be nil (no impacted-module follow-up).
func New(cfg Config, refresh RefreshFunc) *FSM {
	return &FSM{
		cfg:          cfg,
		refresh:      refresh,
		Events:       make(chan Event, 64),
		active:       make(map[string]*cycle),
		lastReleased: make(map[string]time.Time),
	}
}

// HandleRaw processes one observed "#NAAAAAA" frame's address.
func (f *FSM) HandleRaw(address string) {
	now := time.Now()
	f.mu.Lock()
	if c, ok := f.active[address]; ok {
		f.mu.Unlock()
		c.mu.Lock()
		c.lastSeen = now
		c.mu.Unlock()
		return
	}
	if last, ok := f.lastReleased[address]; ok && now.Sub(last) < f.cfg.debounceWindow() {
		f.mu.Unlock()
		log.Printf("button: debounced repeat press for %s", address)
		return
	}
	f.pressCounter++
	pressID := fmt.Sprintf("%s-%d-%d", address, now.UnixNano(), f.pressCounter)
	c := &cycle{
		address:  address,
		pressID:  pressID,
		pressAt:  now,
		lastSeen: now,
		fired:    make(map[int]bool),
		cancel:   make(chan struct{}),
	}
	f.active[address] = c
	f.mu.Unlock()

	f.emit(Event{Address: address, PressID: pressID, State: StatePressed, Ts: now})
	go f.run(c)
}

func (f *FSM) run(c *cycle) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.cancel:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			lastSeen := c.lastSeen
			c.mu.Unlock()

			elapsed := now.Sub(c.pressAt)
			for _, k := range []int{1, 2, 3} {
				threshold := time.Duration(k) * time.Second
				if elapsed >= threshold && !c.fired[k] && now.Sub(lastSeen) < f.cfg.releaseWindow() {
					c.fired[k] = true
					k := k
					f.emit(Event{Address: c.address, PressID: c.pressID, State: StateTimer, Ts: now, ThresholdSec: &k})
				}
			}

			if now.Sub(lastSeen) >= f.cfg.releaseWindow() {
				f.release(c, now)
				return
			}
		}
	}
}

func (f *FSM) release(c *cycle, now time.Time) {
	f.mu.Lock()
	delete(f.active, c.address)
	f.lastReleased[c.address] = now
	f.mu.Unlock()

	duration := now.Sub(c.pressAt).Seconds()
	long := duration >= f.cfg.longPressThreshold().Seconds()
	bucket := int(duration)
	if bucket > 3 {
		bucket = 3
	}
	if bucket < 0 {
		bucket = 0
	}

	f.emit(Event{Address: c.address, PressID: c.pressID, State: StateReleased, Ts: now, DurationS: &duration})
	if long {
		f.emit(Event{Address: c.address, PressID: c.pressID, State: StateLong, Ts: now, DurationS: &duration})
	} else {
		f.emit(Event{Address: c.address, PressID: c.pressID, State: StateShort, Ts: now, DurationS: &duration})
	}
	f.emit(Event{Address: c.address, PressID: c.pressID, State: StateBucket, Ts: now, Bucket: &bucket})

	if f.refresh != nil {
		for _, im := range f.cfg.Impacted[c.address] {
			if err := f.refresh(im.Address, im.Group); err != nil {
				log.Printf("button: refresh after release failed for %s group %d: %v", im.Address, im.Group, err)
				continue
			}
			opTime := f.cfg.OperationTimeS[c.address]
			f.emit(Event{
				Address:        c.address,
				PressID:        c.pressID,
				State:          StateOperation,
				Ts:             time.Now(),
				ModuleAddress:  im.Address,
				Group:          im.Group,
				OperationTimeS: opTime,
			})
		}
	}
}

func (f *FSM) emit(ev Event) {
	select {
	case f.Events <- ev:
	default:
		log.Printf("button: event channel full, dropping %+v", ev)
	}
}

// Shutdown cancels every active press cycle's watchdog goroutine.
func (f *FSM) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.active {
		close(c.cancel)
	}
}
