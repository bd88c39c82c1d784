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

package controllers

import (
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/manager"

	"github.com/runelabs-xyz/pathfinder-operator/internal/controllers/starknetnode"
)

// Config selects and tunes the controllers built by BuildAll.
type Config interface {
	IsControllerEnabled(name string) bool
	MaxConcurrentReconciles() int
}

type controllerBuilder struct {
	name  string
	build func(mgr manager.Manager, cfg Config) error
}

var builders = []controllerBuilder{
	{
		name: starknetnode.ControllerName,
		build: func(mgr manager.Manager, cfg Config) error {
			return starknetnode.BuildController(mgr, starknetnode.Options{
				MaxConcurrentReconciles: cfg.MaxConcurrentReconciles(),
			})
		},
	},
}

// BuildAll builds every enabled controller into mgr.
func BuildAll(mgr manager.Manager, cfg Config) error {
	for _, b := range builders {
		if !cfg.IsControllerEnabled(b.name) {
			mgr.GetLogger().Info("controller disabled", "controller", b.name)
			continue
		}
		if err := b.build(mgr, cfg); err != nil {
			return fmt.Errorf("building controller %s: %w", b.name, err)
		}
	}
	return nil
}
