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
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/runelabs-xyz/pathfinder-operator/internal/env"
)

type Opt struct {
	env.Overrides
	LeaderElect bool
}

// Parse reads the command line into o. Flags left unset keep the values from
// the environment.
func (o *Opt) Parse() {
	var rootCmd = &cobra.Command{
		Use:           "pathfinder-operator",
		Short:         "Runs pathfinder Starknet nodes described by StarknetNode resources",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			if o.MaxConcurrentReconciles < 0 {
				return errors.New("invalid 'max-concurrent-reconciles' (must be positive)")
			}
			return nil
		},
	}

	// Exit after displaying the help information
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, _ []string) {
		cmd.Print(cmd.UsageString())
		os.Exit(0)
	})

	flags := rootCmd.Flags()
	flags.StringVar(&o.HealthProbeBindAddress, "health-probe-bind-address", "", "Health probe bind address (env "+env.HealthProbeBindAddressEnvVar+")")
	flags.StringVar(&o.MetricsBindAddress, "metrics-bind-address", "", "Metrics bind address (env "+env.MetricsBindAddressEnvVar+")")
	flags.StringVar(&o.LeaderElectionNamespace, "leader-election-namespace", "", "Namespace of the leader election lease (env "+env.LeaderElectionNamespaceEnvVar+")")
	flags.StringVar(&o.WatchNamespace, "watch-namespace", "", "Only reconcile StarknetNodes in this namespace (env "+env.WatchNamespaceEnvVar+")")
	flags.IntVar(&o.MaxConcurrentReconciles, "max-concurrent-reconciles", 0, "Number of StarknetNodes reconciled in parallel (env "+env.MaxConcurrentReconcilesEnvVar+")")
	flags.BoolVar(&o.LeaderElect, "leader-elect", true, "Enable leader election")

	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
