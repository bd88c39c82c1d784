/*
Copyright 2025 Runelabs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package env

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	HealthProbeBindAddressEnvVar  = "HEALTH_PROBE_BIND_ADDRESS"
	MetricsBindAddressEnvVar      = "METRICS_BIND_ADDRESS"
	LeaderElectionNamespaceEnvVar = "LEADER_ELECTION_NAMESPACE"
	MaxConcurrentReconcilesEnvVar = "MAX_CONCURRENT_RECONCILES"
	EnabledControllersEnvVar      = "ENABLED_CONTROLLERS"
	WatchNamespaceEnvVar          = "WATCH_NAMESPACE"

	DefaultHealthProbeBindAddress  = ":4271"
	DefaultMetricsBindAddress      = ":4272"
	DefaultMaxConcurrentReconciles = 4
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	healthProbeBindAddress  string
	metricsBindAddress      string
	leaderElectionNamespace string
	maxConcurrentReconciles int
	watchNamespace          string
	enabledControllers      map[string]struct{} // nil means all enabled
}

func (c *Config) HealthProbeBindAddress() string {
	return c.healthProbeBindAddress
}

func (c *Config) MetricsBindAddress() string {
	return c.metricsBindAddress
}

// LeaderElectionNamespace is empty when the in-cluster namespace should be used.
func (c *Config) LeaderElectionNamespace() string {
	return c.leaderElectionNamespace
}

func (c *Config) MaxConcurrentReconciles() int {
	return c.maxConcurrentReconciles
}

// WatchNamespace is empty when all namespaces are watched.
func (c *Config) WatchNamespace() string {
	return c.watchNamespace
}

// IsControllerEnabled reports whether the named controller should be started.
// When ENABLED_CONTROLLERS names no controller, all controllers are enabled.
func (c *Config) IsControllerEnabled(name string) bool {
	if c.enabledControllers == nil {
		return true
	}
	_, ok := c.enabledControllers[name]
	return ok
}

type ConfigProvider interface {
	HealthProbeBindAddress() string
	MetricsBindAddress() string
	LeaderElectionNamespace() string
	MaxConcurrentReconciles() int
	WatchNamespace() string
	IsControllerEnabled(name string) bool
}

var _ ConfigProvider = &Config{}

// Overrides holds values set on the command line. Empty fields keep the value
// read from the environment.
type Overrides struct {
	HealthProbeBindAddress  string
	MetricsBindAddress      string
	LeaderElectionNamespace string
	WatchNamespace          string
	MaxConcurrentReconciles int
}

func GetConfig() (*Config, error) {
	cfg := &Config{}

	cfg.healthProbeBindAddress = os.Getenv(HealthProbeBindAddressEnvVar)
	if cfg.healthProbeBindAddress == "" {
		cfg.healthProbeBindAddress = DefaultHealthProbeBindAddress
	}

	cfg.metricsBindAddress = os.Getenv(MetricsBindAddressEnvVar)
	if cfg.metricsBindAddress == "" {
		cfg.metricsBindAddress = DefaultMetricsBindAddress
	}

	cfg.leaderElectionNamespace = os.Getenv(LeaderElectionNamespaceEnvVar)
	cfg.watchNamespace = os.Getenv(WatchNamespaceEnvVar)

	cfg.maxConcurrentReconciles = DefaultMaxConcurrentReconciles
	if raw := os.Getenv(MaxConcurrentReconcilesEnvVar); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: %s must be a positive integer, got %q", ErrInvalidConfig, MaxConcurrentReconcilesEnvVar, raw)
		}
		cfg.maxConcurrentReconciles = n
	}

	// Comma-separated list of controller names. A list without names leaves
	// every controller enabled.
	for _, name := range strings.Split(os.Getenv(EnabledControllersEnvVar), ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if cfg.enabledControllers == nil {
			cfg.enabledControllers = make(map[string]struct{})
		}
		cfg.enabledControllers[name] = struct{}{}
	}

	return cfg, nil
}

// Apply returns a copy of c with the non-empty overrides applied.
func (c *Config) Apply(o Overrides) (*Config, error) {
	out := *c
	if o.HealthProbeBindAddress != "" {
		out.healthProbeBindAddress = o.HealthProbeBindAddress
	}
	if o.MetricsBindAddress != "" {
		out.metricsBindAddress = o.MetricsBindAddress
	}
	if o.LeaderElectionNamespace != "" {
		out.leaderElectionNamespace = o.LeaderElectionNamespace
	}
	if o.WatchNamespace != "" {
		out.watchNamespace = o.WatchNamespace
	}
	switch {
	case o.MaxConcurrentReconciles < 0:
		return nil, fmt.Errorf("%w: max concurrent reconciles must be positive, got %d", ErrInvalidConfig, o.MaxConcurrentReconciles)
	case o.MaxConcurrentReconciles > 0:
		out.maxConcurrentReconciles = o.MaxConcurrentReconciles
	}
	return &out, nil
}
