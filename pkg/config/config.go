// Package config decodes the JSON configuration data described in spec §6:
// modules, buttons and scenes. The core only decodes shape; deeper
// validation and UI wiring are host-side concerns (§1 Out of scope).
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// ModuleType is the kind of a configured module.
type ModuleType string

const (
	ModuleSwitch ModuleType = "switch"
	ModuleDimmer ModuleType = "dimmer"
	ModuleRoller ModuleType = "roller"
)

// ChannelConfig describes one output of a module.
type ChannelConfig struct {
	Description   string  `json:"description"`
	LEDOn         string  `json:"led_on,omitempty"`
	LEDOff        string  `json:"led_off,omitempty"`
	OperationTime float64 `json:"operation_time,omitempty"` // rollers only
	EntityType    string  `json:"entity_type,omitempty"`
}

// ModuleConfig is one entry of the `modules` list.
type ModuleConfig struct {
	Type     ModuleType      `json:"type"`
	Address  string          `json:"address"`
	Channels []ChannelConfig `json:"channels"`
}

// ChannelCount returns 4, 6 or 12 depending on how many channels were
// declared, rounding up to the nearest module size (§3: a 12-channel module
// is split into two groups of 6).
func (m ModuleConfig) ChannelCount() int {
	n := len(m.Channels)
	switch {
	case n <= 4:
		return 4
	case n <= 6:
		return 6
	default:
		return 12
	}
}

// ImpactedModuleConfig names a module+group a button affects.
type ImpactedModuleConfig struct {
	Address string `json:"address"`
	Group   string `json:"group"` // "1" or "2"
}

// ButtonConfig is one entry of the `buttons` list.
type ButtonConfig struct {
	Address         string                 `json:"address"`
	ImpactedModule  []ImpactedModuleConfig `json:"impacted_module"`
	OperationTime   float64                `json:"operation_time,omitempty"`
}

// SceneChannel is one channel+state pair within a scene.
type SceneChannel struct {
	ModuleID string `json:"module_id"`
	Channel  int    `json:"channel"`
	State    int    `json:"state"`
}

// SceneConfig is one entry of the `scenes` list.
type SceneConfig struct {
	ID       string         `json:"id"`
	Channels []SceneChannel `json:"channels"`
}

// Config is the full decoded configuration document.
type Config struct {
	Modules []ModuleConfig `json:"modules"`
	Buttons []ButtonConfig `json:"buttons"`
	Scenes  []SceneConfig  `json:"scenes"`
}

// Load reads and decodes a JSON configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return &cfg, nil
}

// ModuleByAddress indexes modules by address for quick lookup.
func (c *Config) ModuleByAddress() map[string]ModuleConfig {
	m := make(map[string]ModuleConfig, len(c.Modules))
	for _, mod := range c.Modules {
		m[mod.Address] = mod
	}
	return m
}
