package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xraph/bridge/filter"
)

// LoadFilterFile reads a YAML filter file. Keys present in the file replace
// the corresponding fields of base; absent keys keep base values.
//
//	allow_list: ["1001", 1002]
//	deny_list: []
//	excluded_commands: ["/start", "!admin"]
//	ignore_bots: false
func LoadFilterFile(path string, base filter.Config) (filter.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return filter.Config{}, fmt.Errorf("config: read filters: %w", err)
	}

	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return filter.Config{}, fmt.Errorf("config: parse filters %s: %w", path, err)
	}
	return cfg.Normalize(), nil
}
