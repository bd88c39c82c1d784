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

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client/config"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	"sigs.k8s.io/controller-runtime/pkg/metrics/server"

	u "github.com/deckhouse/sds-common-lib/utils"

	"github.com/runelabs-xyz/pathfinder-operator/internal/controllers"
	"github.com/runelabs-xyz/pathfinder-operator/internal/scheme"
)

const leaderElectionID = "pathfinder-operator.runelabs.xyz"

type managerConfig interface {
	HealthProbeBindAddress() string
	MetricsBindAddress() string
	LeaderElectionNamespace() string
	WatchNamespace() string
	MaxConcurrentReconciles() int
	IsControllerEnabled(name string) bool
}

func newManager(
	ctx context.Context,
	log *slog.Logger,
	cfg managerConfig,
	leaderElect bool,
) (manager.Manager, error) {
	restConfig, err := config.GetConfig()
	if err != nil {
		return nil, u.LogError(log, fmt.Errorf("getting rest config: %w", err))
	}

	scheme, err := scheme.New()
	if err != nil {
		return nil, u.LogError(log, fmt.Errorf("building scheme: %w", err))
	}

	cacheOpt := cache.Options{}
	if ns := cfg.WatchNamespace(); ns != "" {
		cacheOpt.DefaultNamespaces = map[string]cache.Config{ns: {}}
	}

	mgrOpts := manager.Options{
		Scheme:                  scheme,
		BaseContext:             func() context.Context { return ctx },
		Logger:                  logr.FromSlogHandler(log.Handler()),
		HealthProbeBindAddress:  cfg.HealthProbeBindAddress(),
		LeaderElection:          leaderElect,
		LeaderElectionNamespace: cfg.LeaderElectionNamespace(),
		LeaderElectionID:        leaderElectionID,
		Cache:                   cacheOpt,
		Metrics: server.Options{
			BindAddress: cfg.MetricsBindAddress(),
		},
	}

	mgr, err := manager.New(restConfig, mgrOpts)
	if err != nil {
		return nil, u.LogError(log, fmt.Errorf("creating manager: %w", err))
	}

	if err = mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return nil, u.LogError(log, fmt.Errorf("AddHealthzCheck: %w", err))
	}

	if err = mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return nil, u.LogError(log, fmt.Errorf("AddReadyzCheck: %w", err))
	}

	if err := controllers.BuildAll(mgr, cfg); err != nil {
		return nil, u.LogError(log, fmt.Errorf("building controllers: %w", err))
	}

	return mgr, nil
}
