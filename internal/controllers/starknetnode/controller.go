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
	monitoringv1 "github.com/prometheus-operator/prometheus-operator/pkg/apis/monitoring/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/client-go/util/workqueue"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	"github.com/runelabs-xyz/pathfinder-operator/api/v1alpha1"
)

// Options tune the controller built by BuildController.
type Options struct {
	MaxConcurrentReconciles int
}

// BuildController registers the StarknetNode controller with the manager.
// It watches StarknetNode resources and the claims, jobs and pods they own.
// PodMonitors are watched only when the cluster serves them.
func BuildController(mgr manager.Manager, opts Options) error {
	log := mgr.GetLogger().WithName(ControllerName)
	rec := NewReconciler(
		mgr.GetClient(),
		log,
		mgr.GetEventRecorderFor(ControllerName),
	)

	b := builder.ControllerManagedBy(mgr).
		Named(ControllerName).
		For(&v1alpha1.StarknetNode{}).
		Owns(&corev1.PersistentVolumeClaim{}).
		Owns(&batchv1.Job{}).
		Owns(&corev1.Pod{})

	if servesPodMonitors(mgr.GetRESTMapper()) {
		b = b.Owns(&monitoringv1.PodMonitor{})
	} else {
		log.Info("PodMonitor kind is not served, not watching PodMonitors")
	}

	return b.
		WithOptions(controller.Options{
			MaxConcurrentReconciles: opts.MaxConcurrentReconciles,
			RateLimiter: workqueue.NewTypedItemExponentialFailureRateLimiter[reconcile.Request](
				ErrorRetryDelay, ErrorRetryDelay,
			),
		}).
		Complete(rec)
}

func servesPodMonitors(mapper meta.RESTMapper) bool {
	gvk := monitoringv1.SchemeGroupVersion.WithKind(monitoringv1.PodMonitorsKind)
	_, err := mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	return err == nil
}
