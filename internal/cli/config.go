// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PolicyConfig describes one policy class in the load config file.
type PolicyConfig struct {
	// ConnectionLimit caps concurrent connections for the class.
	ConnectionLimit int64 `yaml:"connection_limit"`

	// PerHostConnectionLimit caps per-host connections; used with
	// pipelining.
	PerHostConnectionLimit int64 `yaml:"per_host_connection_limit"`

	// PipeliningDepth of 2+ enables multiplexed mode.
	PipeliningDepth int64 `yaml:"pipelining_depth"`

	// ThrottleRate caps requests per second; 0 disables.
	ThrottleRate int64 `yaml:"throttle_rate"`
}

// Config is the fetchload YAML configuration.
type Config struct {
	// Policy configures the policy class requests are submitted into.
	Policy PolicyConfig `yaml:"policy"`

	// CAFile and CAPath configure TLS trust.
	CAFile string `yaml:"ca_file"`
	CAPath string `yaml:"ca_path"`

	// Proxy routes all traffic through a static HTTP proxy.
	Proxy string `yaml:"proxy"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Policy: PolicyConfig{
			ConnectionLimit:        8,
			PerHostConnectionLimit: 8,
		},
	}
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.Policy.ConnectionLimit < 0 {
		return fmt.Errorf("connection_limit must be >= 0, got %d", c.Policy.ConnectionLimit)
	}
	if c.Policy.PipeliningDepth < 0 {
		return fmt.Errorf("pipelining_depth must be >= 0, got %d", c.Policy.PipeliningDepth)
	}
	if c.Policy.ThrottleRate < 0 {
		return fmt.Errorf("throttle_rate must be >= 0, got %d", c.Policy.ThrottleRate)
	}
	return nil
}
