package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nikobus/gateway/pkg/button"
	"github.com/nikobus/gateway/pkg/cache"
	"github.com/nikobus/gateway/pkg/config"
	"github.com/nikobus/gateway/pkg/cover"
	"github.com/nikobus/gateway/pkg/discovery"
	"github.com/nikobus/gateway/pkg/gateway"
	"github.com/nikobus/gateway/pkg/host"
	redisclient "github.com/nikobus/gateway/pkg/redis"
	"github.com/nikobus/gateway/pkg/listener"
	"github.com/nikobus/gateway/pkg/scheduler"
	"github.com/nikobus/gateway/pkg/transport"
)

// Configuration flags
var (
	serialDevice = flag.String("serial", "/dev/ttyNikobus", "Serial device path")
	baudRate     = flag.Int("baud", 9600, "Serial baud rate")
	tcpNetwork   = flag.String("tcp-network", "", "TCP network (\"tcp\") to dial instead of a serial device")
	tcpAddress   = flag.String("tcp-address", "", "TCP host:port to dial instead of a serial device")
	redisAddr    = flag.String("redis-addr", "localhost:6379", "Redis server address")
	redisPass    = flag.String("redis-pass", "", "Redis password")
	redisDB      = flag.Int("redis-db", 0, "Redis database number")
	configPath   = flag.String("config", "/etc/nikobus/config.json", "Path to the modules/buttons/scenes JSON config")
	scenesPath   = flag.String("scenes", "", "Optional path to a supplemental YAML scenes file")
	refreshCron  = flag.String("refresh-interval", "@every 120s", "Periodic refresh cron spec; the refresh runs whether or not a Feedback Module is present")
	longPressMS  = flag.Int("long-press-ms", 500, "Long-press classification threshold in milliseconds")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting Nikobus gateway daemon")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	scenes := cfg.Scenes
	if *scenesPath != "" {
		extra, err := loadYAMLScenes(*scenesPath)
		if err != nil {
			log.Printf("Warning: failed to load supplemental scenes file %s: %v", *scenesPath, err)
		} else {
			scenes = append(scenes, extra...)
			log.Printf("Loaded %d supplemental scenes from %s", len(extra), *scenesPath)
		}
	}

	redisClient, err := redisclient.New(*redisAddr, *redisPass, *redisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Printf("Connected to Redis at %s", *redisAddr)

	tr, err := transport.New(transport.Config{
		Device:  *serialDevice,
		Baud:    *baudRate,
		Network: *tcpNetwork,
		Address: *tcpAddress,
	})
	if err != nil {
		log.Fatalf("Failed to open Nikobus transport: %v", err)
	}
	defer tr.Close()
	log.Printf("Nikobus transport open")

	modules := make(map[string]int, len(cfg.Modules))
	for _, m := range cfg.Modules {
		modules[m.Address] = m.ChannelCount()
	}

	sch := scheduler.New(tr, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The Gateway and Cover Estimator reference each other (the Estimator
	// issues writes through the Gateway's channel-write path, and the
	// Gateway delegates set_cover_position to the Estimator), so gw is
	// captured by the Estimator's CommandFunc closure before it exists and
	// assigned immediately after.
	var gw *gateway.Gateway
	realCover := cover.New(func(moduleAddress string, channel int, value byte) error {
		return gw.WriteChannelRaw(ctx, moduleAddress, channel, value)
	}, nil)
	for _, m := range cfg.Modules {
		if m.Type != config.ModuleRoller {
			continue
		}
		for i, ch := range m.Channels {
			realCover.Configure(m.Address, i+1, ch.OperationTime)
		}
	}

	hostAdapter := host.New(redisClient, nil, nil) // PublishRefreshed only needs the redis client
	c := cache.New(modules, hostAdapter.PublishRefreshed)

	impacted := make(map[string][]button.ImpactedModule, len(cfg.Buttons))
	operationTimes := make(map[string]float64, len(cfg.Buttons))
	for _, b := range cfg.Buttons {
		ims := make([]button.ImpactedModule, 0, len(b.ImpactedModule))
		for _, im := range b.ImpactedModule {
			group := 1
			if im.Group == "2" {
				group = 2
			}
			ims = append(ims, button.ImpactedModule{Address: im.Address, Group: group})
		}
		impacted[b.Address] = ims
		operationTimes[b.Address] = b.OperationTime
	}

	sceneIndex := make(map[string][]gateway.SceneEntry, len(scenes))
	for _, sc := range scenes {
		entries := make([]gateway.SceneEntry, 0, len(sc.Channels))
		for _, ch := range sc.Channels {
			entries = append(entries, gateway.SceneEntry{
				ModuleAddress: ch.ModuleID,
				Channel:       ch.Channel,
				Value:         byte(ch.State),
			})
		}
		sceneIndex[sc.ID] = entries
	}

	catalog := discovery.NewCatalog()

	gw = gateway.New(c, sch, realCover).WithInventory(catalog)
	hostAdapter = host.New(redisClient, gw, sceneIndex)

	buttonCfg := button.Config{
		LongPressThresholdMS: *longPressMS,
		Impacted:             impacted,
		OperationTimeS:       operationTimes,
	}
	buttonFSM := button.New(buttonCfg, func(moduleAddress string, group int) error {
		channels := modules[moduleAddress]
		return gw.RefreshModule(ctx, moduleAddress, channels)
	})
	go func() {
		for ev := range buttonFSM.Events {
			hostAdapter.PublishButtonEvent(ev)
		}
	}()

	buttonRaw := make(chan string, 256)
	go func() {
		for addr := range buttonRaw {
			buttonFSM.HandleRaw(addr)
		}
	}()

	lst := listener.New(tr, buttonRaw, sch, c, catalog)

	go sch.Run(ctx)
	go func() {
		if err := lst.Run(ctx); err != nil {
			log.Printf("listener: stopped: %v", err)
		}
	}()

	refresher, err := cache.NewRefresher(*refreshCron, func() {
		for _, addr := range c.Modules() {
			if err := gw.RefreshModule(ctx, addr, modules[addr]); err != nil {
				log.Printf("periodic refresh of %s failed: %v", addr, err)
			}
		}
	})
	if err != nil {
		log.Printf("Warning: invalid refresh-interval %q, periodic refresh disabled: %v", *refreshCron, err)
	} else {
		refresher.Start()
		defer refresher.Stop()
	}

	go hostAdapter.RunCommandWatcher(ctx)

	log.Printf("Waiting briefly before the initial refresh sweep...")
	time.Sleep(200 * time.Millisecond)
	for _, addr := range c.Modules() {
		if err := gw.RefreshModule(ctx, addr, modules[addr]); err != nil {
			log.Printf("initial refresh of %s failed: %v", addr, err)
		}
	}

	log.Printf("Loaded %d modules, %d buttons, %d scenes", len(cfg.Modules), len(cfg.Buttons), len(scenes))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("Shutting down...")
	hostAdapter.Stop()
	buttonFSM.Shutdown()
	realCover.Shutdown()
	sch.Stop()
}
