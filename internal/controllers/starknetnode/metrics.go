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

package starknetnode

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathfinder_reconcile_total",
			Help: "Number of StarknetNode reconcile passes by outcome.",
		},
		[]string{"outcome"},
	)

	reconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pathfinder_reconcile_duration_seconds",
			Help:    "Duration of StarknetNode reconcile passes.",
			Buckets: prometheus.DefBuckets,
		},
	)

	podRecreations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pathfinder_pod_recreations_total",
			Help: "Number of node pods deleted because they drifted from their definition.",
		},
	)
)

func init() {
	metrics.Registry.MustRegister(reconcileTotal, reconcileDuration, podRecreations)
}

func observeReconcile(outcome string, took time.Duration) {
	reconcileTotal.WithLabelValues(outcome).Inc()
	reconcileDuration.Observe(took.Seconds())
}
