package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nikobus/gateway/pkg/config"
)

// yamlScenesFile is the on-disk shape of an optional supplemental scenes
// file: a human-editable YAML alternative to the JSON scenes list, for
// installations that keep their scene definitions under version control
// separately from the generated module/button config.
type yamlScenesFile struct {
	Scenes []yamlScene `yaml:"scenes"`
}

type yamlScene struct {
	ID       string            `yaml:"id"`
	Channels []yamlSceneChannel `yaml:"channels"`
}

type yamlSceneChannel struct {
	ModuleID string `yaml:"module_id"`
	Channel  int    `yaml:"channel"`
	State    int    `yaml:"state"`
}

// loadYAMLScenes reads a supplemental scenes file and converts it into the
// same config.SceneConfig shape the JSON config's `scenes` list uses, so
// both sources feed the same scene index.
func loadYAMLScenes(path string) ([]config.SceneConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc yamlScenesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	out := make([]config.SceneConfig, 0, len(doc.Scenes))
	for _, s := range doc.Scenes {
		channels := make([]config.SceneChannel, 0, len(s.Channels))
		for _, ch := range s.Channels {
			channels = append(channels, config.SceneChannel{
				ModuleID: ch.ModuleID,
				Channel:  ch.Channel,
				State:    ch.State,
			})
		}
		out = append(out, config.SceneConfig{ID: s.ID, Channels: channels})
	}
	return out, nil
}
