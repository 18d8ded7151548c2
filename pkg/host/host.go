// Package host is the Redis-facing adapter that bridges the protocol
// engine to the home-automation host process, mirroring module state into
// Redis hashes, publishing button/refresh events over pub/sub, and
// draining a command list the same way the upstream Bluetooth service
// drains its own command queue.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/nikobus/gateway/pkg/button"
	"github.com/nikobus/gateway/pkg/cache"
	"github.com/nikobus/gateway/pkg/gateway"
	redisclient "github.com/nikobus/gateway/pkg/redis"
)

// Redis keys and command-list name for the Nikobus surface.
const (
	KeyModulePrefix  = "nikobus:module:"  // + address, hash of channel -> value
	KeyButtonEvents  = "nikobus:button"   // pub/sub channel for button lifecycle events
	KeyRefreshEvents = "nikobus:refresh"  // pub/sub channel for "refreshed" notifications
	KeyCommandList   = "nikobus:commands" // BRPOP'd list of JSON-encoded host commands
)

// Command is one JSON-encoded entry popped from KeyCommandList.
type Command struct {
	Verb     string `json:"verb"` // turn_on_switch|turn_off_switch|set_dimmer|open_cover|close_cover|stop_cover|set_cover_position|refresh_module|press_virtual_button|activate_scene
	Module   string `json:"module"`
	Channel  int    `json:"channel"`
	Value    int    `json:"value"`    // brightness or target position, verb-dependent
	Address  string `json:"address"`  // virtual button address
	Channels int    `json:"channels"` // module channel count, for refresh_module
	SceneID  string `json:"scene_id"` // for activate_scene
}

// Adapter wires a Gateway to Redis.
type Adapter struct {
	redis  *redisclient.Client
	gw     *gateway.Gateway
	scenes map[string][]gateway.SceneEntry
	stopCh chan struct{}
}

// New constructs an Adapter. scenes may be nil if activate_scene is unused.
func New(redis *redisclient.Client, gw *gateway.Gateway, scenes map[string][]gateway.SceneEntry) *Adapter {
	return &Adapter{redis: redis, gw: gw, scenes: scenes, stopCh: make(chan struct{})}
}

// Stop ends the command watcher loop.
func (a *Adapter) Stop() {
	close(a.stopCh)
}

// PublishRefreshed mirrors a module's output state into its Redis hash and
// publishes the "refreshed" notification (§6 events, §4.5 onRefresh).
func (a *Adapter) PublishRefreshed(moduleAddress string, state cache.OutputState) {
	key := KeyModulePrefix + moduleAddress
	for i, v := range state {
		field := strconv.Itoa(i + 1)
		if err := a.redis.WriteInt(key, field, int(v)); err != nil {
			log.Printf("host: writing channel %s of module %s: %v", field, moduleAddress, err)
		}
	}
	if err := a.redis.Publish(KeyRefreshEvents, moduleAddress); err != nil {
		log.Printf("host: publishing refreshed(%s): %v", moduleAddress, err)
	}
}

// PublishButtonEvent translates a button.Event into the fixed event names
// of §6 and publishes it to KeyButtonEvents as a JSON payload.
func (a *Adapter) PublishButtonEvent(ev button.Event) {
	name := eventName(ev)
	if name == "" {
		return
	}
	payload, err := json.Marshal(struct {
		Event         string  `json:"event"`
		Address       string  `json:"address"`
		ModuleAddress string  `json:"module_address,omitempty"`
		Group         int     `json:"group,omitempty"`
		PressID       string  `json:"press_id"`
		DurationS     float64 `json:"duration_s,omitempty"`
		TimestampUnix int64   `json:"ts"`
	}{
		Event:         name,
		Address:       ev.Address,
		ModuleAddress: ev.ModuleAddress,
		Group:         ev.Group,
		PressID:       ev.PressID,
		DurationS:     durationOf(ev),
		TimestampUnix: ev.Ts.Unix(),
	})
	if err != nil {
		log.Printf("host: marshaling button event: %v", err)
		return
	}
	if err := a.redis.Publish(KeyButtonEvents, string(payload)); err != nil {
		log.Printf("host: publishing button event: %v", err)
	}
}

func durationOf(ev button.Event) float64 {
	if ev.DurationS != nil {
		return *ev.DurationS
	}
	return 0
}

// eventName maps a button.Event's State to the fixed event-name catalog of
// spec §6. Bucket events become button_pressed_<k>; timer events become
// button_timer_<N>.
func eventName(ev button.Event) string {
	switch ev.State {
	case button.StatePressed:
		return "button_pressed"
	case button.StateReleased:
		return "button_released"
	case button.StateShort:
		return "short_button_pressed"
	case button.StateLong:
		return "long_button_pressed"
	case button.StateBucket:
		if ev.Bucket == nil {
			return ""
		}
		return fmt.Sprintf("button_pressed_%d", *ev.Bucket)
	case button.StateTimer:
		if ev.ThresholdSec == nil {
			return ""
		}
		return fmt.Sprintf("button_timer_%d", *ev.ThresholdSec)
	case button.StateOperation:
		return "button_operation"
	default:
		return ""
	}
}

// RunCommandWatcher blocks, draining KeyCommandList with BRPOP the way the
// upstream service drains KeyBLECommandList, until Stop is called.
func (a *Adapter) RunCommandWatcher(ctx context.Context) {
	log.Printf("host: starting command watcher on list key %s", KeyCommandList)
	for {
		select {
		case <-a.stopCh:
			log.Println("host: stopping command watcher")
			return
		case <-ctx.Done():
			return
		default:
		}

		result, err := a.redis.BRPop(1*time.Second, KeyCommandList)
		if err != nil {
			log.Printf("host: error receiving command from %s: %v", KeyCommandList, err)
			time.Sleep(time.Second)
			continue
		}
		if result == nil {
			continue // BRPOP timeout, loop to re-check stopCh
		}
		if len(result) != 2 {
			log.Printf("host: unexpected BRPOP result from %s: %v", KeyCommandList, result)
			continue
		}

		var cmd Command
		if err := json.Unmarshal([]byte(result[1]), &cmd); err != nil {
			log.Printf("host: malformed command payload %q: %v", result[1], err)
			continue
		}
		a.dispatch(ctx, cmd)
	}
}

func (a *Adapter) dispatch(ctx context.Context, cmd Command) {
	var err error
	switch strings.ToLower(cmd.Verb) {
	case "turn_on_switch":
		err = a.gw.TurnOnSwitch(ctx, cmd.Module, cmd.Channel)
	case "turn_off_switch":
		err = a.gw.TurnOffSwitch(ctx, cmd.Module, cmd.Channel)
	case "set_dimmer":
		err = a.gw.SetDimmer(ctx, cmd.Module, cmd.Channel, byte(cmd.Value))
	case "open_cover":
		err = a.gw.OpenCover(ctx, cmd.Module, cmd.Channel)
	case "close_cover":
		err = a.gw.CloseCover(ctx, cmd.Module, cmd.Channel)
	case "stop_cover":
		err = a.gw.StopCover(ctx, cmd.Module, cmd.Channel)
	case "set_cover_position":
		err = a.gw.SetCoverPosition(cmd.Module, cmd.Channel, cmd.Value)
	case "refresh_module":
		err = a.gw.RefreshModule(ctx, cmd.Module, cmd.Channels)
	case "press_virtual_button":
		a.gw.PressVirtualButton(cmd.Address)
	case "activate_scene":
		entries, ok := a.scenes[cmd.SceneID]
		if !ok {
			log.Printf("host: unknown scene %q", cmd.SceneID)
			return
		}
		err = a.gw.ActivateScene(ctx, entries)
	default:
		log.Printf("host: unknown command verb %q", cmd.Verb)
		return
	}
	if err != nil {
		log.Printf("host: command %q for module %s failed: %v", cmd.Verb, cmd.Module, err)
	}
}
