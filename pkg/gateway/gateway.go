// Package gateway is the API Facade of spec §4.8: the outward verbs the
// host calls, each a pure composition over the Codec, State Cache, Command
// Scheduler and Cover Estimator.
package gateway

import (
	"context"
	"fmt"

	"github.com/nikobus/gateway/pkg/cache"
	"github.com/nikobus/gateway/pkg/codec"
	"github.com/nikobus/gateway/pkg/cover"
	"github.com/nikobus/gateway/pkg/discovery"
	"github.com/nikobus/gateway/pkg/scheduler"
)

// Gateway composes the protocol engine's components into the verbs of
// spec §4.8.
type Gateway struct {
	cache     *cache.Cache
	scheduler *scheduler.Scheduler
	cover     *cover.Estimator
	inventory *discovery.Catalog // optional; nil if auto-discovery is unused
}

// New constructs a Gateway over already-wired components.
func New(c *cache.Cache, s *scheduler.Scheduler, cv *cover.Estimator) *Gateway {
	return &Gateway{cache: c, scheduler: s, cover: cv}
}

// WithInventory attaches the bus-inventory discovery Catalog so
// QueryInventory can serve it; discovery is optional (§1), so a Gateway
// without one simply returns no descriptors.
func (g *Gateway) WithInventory(cat *discovery.Catalog) *Gateway {
	g.inventory = cat
	return g
}

// QueryInventory returns the currently resolved bus module catalog (§2 item
// 8). It never blocks on the bus: discovery responses are absorbed
// passively by the Listener as they arrive.
func (g *Gateway) QueryInventory(ctx context.Context) ([]discovery.ModuleDescriptor, error) {
	if g.inventory == nil {
		return nil, nil
	}
	return g.inventory.Snapshot(), nil
}

func addressToUint16(addr string) (uint16, error) {
	var hi, lo byte
	if _, err := fmt.Sscanf(addr, "%02X%02X", &hi, &lo); err != nil {
		return 0, fmt.Errorf("nikobus: malformed module address %q: %w", addr, err)
	}
	return uint16(hi)<<8 | uint16(lo), nil
}

func groupForChannel(channel int) int {
	if channel > 6 {
		return 2
	}
	return 1
}

// writeGroup builds and enqueues a group write command (function 0x15 or
// 0x16) carrying the module's full current 6-byte group state, and awaits
// its completion.
func (g *Gateway) writeGroup(ctx context.Context, moduleAddress string, group int) error {
	addr, err := addressToUint16(moduleAddress)
	if err != nil {
		return err
	}
	state, err := g.cache.GetState(moduleAddress)
	if err != nil {
		return err
	}

	var groupBytes [6]byte
	var fn codec.FuncCode
	if group == 2 {
		copy(groupBytes[:], state[6:12])
		fn = codec.FuncWriteGroup2
	} else {
		copy(groupBytes[:], state[0:6])
		fn = codec.FuncWriteGroup1
	}

	args := append(append([]byte{}, groupBytes[:]...), codec.WriteTrailer)
	frame := codec.Build(fn, addr, true, args)

	ackMatcher := scheduler.MatchFunc(codec.FuncFeedback)
	answerMatcher := scheduler.MatchFuncAddress(codec.FuncAnswer1E, addr)
	cmd := scheduler.NewPendingCommand(frame, ackMatcher, answerMatcher)

	g.scheduler.Enqueue(cmd)
	select {
	case res := <-cmd.Done:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readGroup builds and enqueues a group read command (function 0x12 or
// 0x17) and awaits its answer; the answer's cache application happens via
// the Listener, not here — this call only confirms the round trip.
func (g *Gateway) readGroup(ctx context.Context, moduleAddress string, group int) error {
	addr, err := addressToUint16(moduleAddress)
	if err != nil {
		return err
	}
	fn := codec.FuncReadGroup1
	if group == 2 {
		fn = codec.FuncReadGroup2
	}
	frame := codec.Build(fn, addr, true, nil)
	answerMatcher := scheduler.MatchFuncAddress(codec.FuncAnswer1E, addr)
	cmd := scheduler.NewPendingCommand(frame, nil, answerMatcher)

	g.scheduler.Enqueue(cmd)
	select {
	case res := <-cmd.Done:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TurnOnSwitch sets a switch channel to full on (§4.8).
func (g *Gateway) TurnOnSwitch(ctx context.Context, moduleAddress string, channel int) error {
	return g.WriteChannelRaw(ctx, moduleAddress, channel, 0xFF)
}

// TurnOffSwitch sets a switch channel off.
func (g *Gateway) TurnOffSwitch(ctx context.Context, moduleAddress string, channel int) error {
	return g.WriteChannelRaw(ctx, moduleAddress, channel, 0x00)
}

// SetDimmer sets a dimmer channel's brightness, 0..255.
func (g *Gateway) SetDimmer(ctx context.Context, moduleAddress string, channel int, brightness byte) error {
	return g.WriteChannelRaw(ctx, moduleAddress, channel, brightness)
}

// WriteChannelRaw performs the optimistic cache write and bus write for a
// single channel without touching the Cover Estimator; it is also the
// CommandFunc the Cover Estimator itself calls for set_position and
// button-driven toggles, so cover state transitions are applied by the
// Estimator's own caller rather than recursively through this Gateway.
func (g *Gateway) WriteChannelRaw(ctx context.Context, moduleAddress string, channel int, value byte) error {
	if channel < 1 || channel > 12 {
		return &cache.ErrInvalidArgument{Reason: fmt.Sprintf("channel %d out of range", channel)}
	}
	if err := g.cache.ApplyWrite(moduleAddress, channel, value); err != nil {
		return err
	}
	if err := g.writeGroup(ctx, moduleAddress, groupForChannel(channel)); err != nil {
		// reconcile optimistic write with the bus's actual state (§4.5)
		_ = g.readGroup(ctx, moduleAddress, groupForChannel(channel))
		return err
	}
	return nil
}

// OpenCover issues the write command to start opening a cover channel and
// updates the Cover Estimator.
func (g *Gateway) OpenCover(ctx context.Context, moduleAddress string, channel int) error {
	return g.coverCommand(ctx, moduleAddress, channel, 0x01)
}

// CloseCover issues the write command to start closing a cover channel.
func (g *Gateway) CloseCover(ctx context.Context, moduleAddress string, channel int) error {
	return g.coverCommand(ctx, moduleAddress, channel, 0x02)
}

// StopCover issues the write command to stop a cover channel.
func (g *Gateway) StopCover(ctx context.Context, moduleAddress string, channel int) error {
	return g.coverCommand(ctx, moduleAddress, channel, 0x00)
}

func (g *Gateway) coverCommand(ctx context.Context, moduleAddress string, channel int, value byte) error {
	if err := g.cover.OnWriteCommand(moduleAddress, channel, value); err != nil {
		return err
	}
	return g.WriteChannelRaw(ctx, moduleAddress, channel, value)
}

// SetCoverPosition drives a cover channel toward targetPct (§4.6); the
// Estimator itself issues the underlying write via the CommandFunc it was
// constructed with.
func (g *Gateway) SetCoverPosition(moduleAddress string, channel int, targetPct int) error {
	return g.cover.SetPosition(moduleAddress, channel, targetPct)
}

// RefreshModule enqueues reads for every group the module has (§4.8,
// §4.5).
func (g *Gateway) RefreshModule(ctx context.Context, moduleAddress string, channels int) error {
	if err := g.readGroup(ctx, moduleAddress, 1); err != nil {
		return err
	}
	if channels > 6 {
		return g.readGroup(ctx, moduleAddress, 2)
	}
	return nil
}

// PressVirtualButton enqueues the two-token virtual button press sequence
// (§4.2 B); it is fire-and-forget since the bus does not ACK button frames.
func (g *Gateway) PressVirtualButton(address string) {
	frame := codec.BuildButtonPress(address)
	cmd := scheduler.NewPendingCommand(frame, nil, nil)
	g.scheduler.Enqueue(cmd)
}

// ActivateScene applies a batch of module/channel/state triples, coalescing
// writes per module+group where possible (§4.4 batch-write rule, §4.8).
func (g *Gateway) ActivateScene(ctx context.Context, entries []SceneEntry) error {
	plan := PlanScene(entries)
	for _, step := range plan {
		for ch, val := range step.Values {
			if err := g.cache.ApplyWrite(step.ModuleAddress, ch, val); err != nil {
				return err
			}
		}
		if err := g.writeGroup(ctx, step.ModuleAddress, step.Group); err != nil {
			return err
		}
	}
	return nil
}
