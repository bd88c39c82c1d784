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
	"context"
	"maps"

	"github.com/go-logr/logr"
	monitoringv1 "github.com/prometheus-operator/prometheus-operator/pkg/apis/monitoring/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/runelabs-xyz/pathfinder-operator/api/v1alpha1"
	"github.com/runelabs-xyz/pathfinder-operator/internal/drift"
	"github.com/runelabs-xyz/pathfinder-operator/internal/reconciliation/flow"
)

const metricsPath = "/metrics"

// renderPodMonitor renders the PodMonitor scraping the monitoring port of the
// node pod. Labels from the spec are added to, and may override, the child
// labels.
func renderPodMonitor(node *v1alpha1.StarknetNode) *monitoringv1.PodMonitor {
	labels := node.ChildLabels(v1alpha1.ComponentMonitoring)
	if node.Spec.PodMonitor != nil {
		maps.Copy(labels, node.Spec.PodMonitor.Labels)
	}

	return &monitoringv1.PodMonitor{
		ObjectMeta: metav1.ObjectMeta{
			Name:      node.PodMonitorName(),
			Namespace: node.Namespace,
			Labels:    labels,
		},
		Spec: monitoringv1.PodMonitorSpec{
			Selector: metav1.LabelSelector{
				MatchLabels: map[string]string{
					v1alpha1.NameLabelKey:      v1alpha1.NameLabelValue,
					v1alpha1.InstanceLabelKey:  node.Name,
					v1alpha1.ComponentLabelKey: v1alpha1.ComponentNode,
				},
			},
			NamespaceSelector: monitoringv1.NamespaceSelector{
				MatchNames: []string{node.Namespace},
			},
			PodMetricsEndpoints: []monitoringv1.PodMetricsEndpoint{{
				Port: ptr.To(monitoringPortName),
				Path: metricsPath,
			}},
			PodTargetLabels: []string{
				v1alpha1.NetworkLabelKey,
				v1alpha1.InstanceLabelKey,
			},
		},
	}
}

// normalizePodMonitor keeps the labels named in labelKeys and the spec fields
// set by renderPodMonitor.
func normalizePodMonitor(pm *monitoringv1.PodMonitor, labelKeys sets.Set[string]) *monitoringv1.PodMonitor {
	out := &monitoringv1.PodMonitor{
		ObjectMeta: metav1.ObjectMeta{Name: pm.Name, Namespace: pm.Namespace},
		Spec: monitoringv1.PodMonitorSpec{
			Selector:          metav1.LabelSelector{MatchLabels: pm.Spec.Selector.MatchLabels},
			NamespaceSelector: monitoringv1.NamespaceSelector{MatchNames: pm.Spec.NamespaceSelector.MatchNames},
			PodTargetLabels:   pm.Spec.PodTargetLabels,
		},
	}
	for k, v := range pm.Labels {
		if labelKeys.Has(k) {
			if out.Labels == nil {
				out.Labels = map[string]string{}
			}
			out.Labels[k] = v
		}
	}
	for _, e := range pm.Spec.PodMetricsEndpoints {
		out.Spec.PodMetricsEndpoints = append(out.Spec.PodMetricsEndpoints, monitoringv1.PodMetricsEndpoint{
			Port: e.Port,
			Path: e.Path,
		})
	}
	return out
}

func podMonitorDrift(live, desired *monitoringv1.PodMonitor) (drift.Diff, error) {
	keys := sets.KeySet(desired.Labels)
	return drift.CompareObjects(normalizePodMonitor(live, keys), normalizePodMonitor(desired, keys))
}

// podMonitorsUnavailable reports whether err means the PodMonitor kind is not
// served, i.e. prometheus-operator is not installed.
func podMonitorsUnavailable(err error) bool {
	return meta.IsNoMatchError(err) || runtime.IsNotRegisteredError(err)
}

// reconcilePodMonitor creates, updates or deletes the node PodMonitor
// following spec.podMonitor. Its failures do not stop the rest of the pass.
func (r *Reconciler) reconcilePodMonitor(ctx context.Context, node *v1alpha1.StarknetNode) flow.Outcome {
	ctx, log := flow.BeginPhase(ctx, "podmonitor", "podMonitor", node.PodMonitorName())

	live := &monitoringv1.PodMonitor{}
	err := r.cl.Get(ctx, client.ObjectKey{Namespace: node.Namespace, Name: node.PodMonitorName()}, live)
	switch {
	case podMonitorsUnavailable(err):
		if node.PodMonitorEnabled() {
			log.Info("PodMonitor kind is not served, install prometheus-operator to enable monitoring")
		}
		return flow.Continue()
	case apierrors.IsNotFound(err):
		if !node.PodMonitorEnabled() {
			return flow.Continue()
		}
		return r.createPodMonitor(ctx, log, node)
	case err != nil:
		return flow.ContinueErr(flow.Wrapf(err, "getting"))
	}

	if !node.PodMonitorEnabled() {
		return r.deletePodMonitor(ctx, log, node, live)
	}
	return r.updatePodMonitor(ctx, log, node, live)
}

func (r *Reconciler) createPodMonitor(ctx context.Context, log logr.Logger, node *v1alpha1.StarknetNode) flow.Outcome {
	pm := renderPodMonitor(node)
	if err := controllerutil.SetControllerReference(node, pm, r.cl.Scheme()); err != nil {
		return flow.ContinueErr(flow.Wrapf(err, "setting owner"))
	}
	if err := r.cl.Create(ctx, pm, client.FieldOwner(FieldOwner)); err != nil {
		if apierrors.IsNotFound(err) || podMonitorsUnavailable(err) {
			log.Info("PodMonitor kind is not served, install prometheus-operator to enable monitoring")
			return flow.Continue()
		}
		return flow.ContinueErr(flow.Wrapf(err, "creating"))
	}

	log.Info("created PodMonitor")
	r.events.podMonitorCreated(node, pm.Name)
	return flow.Continue()
}

func (r *Reconciler) updatePodMonitor(
	ctx context.Context,
	log logr.Logger,
	node *v1alpha1.StarknetNode,
	live *monitoringv1.PodMonitor,
) flow.Outcome {
	desired := renderPodMonitor(node)

	diff, err := podMonitorDrift(live, desired)
	if err != nil {
		return flow.ContinueErr(flow.Wrapf(err, "comparing"))
	}
	if !diff.NonEmpty() {
		return flow.Continue()
	}

	base := live.DeepCopy()
	live.Spec = desired.Spec
	if live.Labels == nil {
		live.Labels = map[string]string{}
	}
	maps.Copy(live.Labels, desired.Labels)
	if err := r.cl.Patch(ctx, live, client.MergeFrom(base), client.FieldOwner(FieldOwner)); err != nil {
		return flow.ContinueErr(flow.Wrapf(err, "patching"))
	}

	log.Info("updated PodMonitor", "diff", diff.String())
	return flow.Continue()
}

// deletePodMonitor removes a PodMonitor left over from a disabled spec. A
// PodMonitor of the same name not controlled by node is left alone.
func (r *Reconciler) deletePodMonitor(
	ctx context.Context,
	log logr.Logger,
	node *v1alpha1.StarknetNode,
	live *monitoringv1.PodMonitor,
) flow.Outcome {
	if !metav1.IsControlledBy(live, node) {
		log.V(1).Info("PodMonitor is not controlled by this StarknetNode, leaving it")
		return flow.Continue()
	}
	if err := r.cl.Delete(ctx, live); client.IgnoreNotFound(err) != nil {
		return flow.ContinueErr(flow.Wrapf(err, "deleting"))
	}

	log.Info("deleted disabled PodMonitor")
	r.events.podMonitorDeleted(node, live.Name)
	return flow.Continue()
}
