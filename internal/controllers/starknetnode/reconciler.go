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
	"errors"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	"github.com/runelabs-xyz/pathfinder-operator/api/v1alpha1"
	"github.com/runelabs-xyz/pathfinder-operator/internal/reconciliation/flow"
)

// --- Wiring / construction ---

// Reconciler reconciles StarknetNode resources.
type Reconciler struct {
	cl         client.Client
	log        logr.Logger
	events     events
	failedJobs *reportedJobs
}

var _ reconcile.Reconciler = (*Reconciler)(nil)

func NewReconciler(cl client.Client, log logr.Logger, recorder record.EventRecorder) *Reconciler {
	return &Reconciler{
		cl:         cl,
		log:        log,
		events:     events{recorder: recorder},
		failedJobs: newReportedJobs(),
	}
}

// --- Reconcile ---

// +kubebuilder:rbac:groups=runelabs.xyz,resources=starknetnodes,verbs=get;list;watch
// +kubebuilder:rbac:groups=runelabs.xyz,resources=starknetnodes/status,verbs=get;patch;update
// +kubebuilder:rbac:groups="",resources=persistentvolumeclaims,verbs=get;list;watch;create;patch
// +kubebuilder:rbac:groups="",resources=pods,verbs=get;list;watch;create;delete
// +kubebuilder:rbac:groups=batch,resources=jobs,verbs=get;list;watch;create;patch
// +kubebuilder:rbac:groups=monitoring.coreos.com,resources=podmonitors,verbs=get;list;watch;create;patch;delete
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch

func (r *Reconciler) Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Result, error) {
	started := time.Now()

	ctx, log := flow.Begin(ctx, r.log.WithValues("starknetnode", req.NamespacedName))

	outcome := r.reconcile(ctx, log, req.NamespacedName)
	observeReconcile(outcome.Label(), time.Since(started))

	if err := outcome.Error(); err != nil {
		log.Error(err, "reconcile failed")
	}
	return outcome.ToCtrl()
}

func (r *Reconciler) reconcile(ctx context.Context, log logr.Logger, key types.NamespacedName) flow.Outcome {
	node, err := r.getNode(ctx, key)
	if err != nil {
		if apierrors.IsNotFound(err) {
			log.V(1).Info("StarknetNode not found")
			return flow.Done()
		}
		return flow.Failf(err, "getting StarknetNode %s", key)
	}

	if node.DeletionTimestamp != nil {
		log.V(1).Info("StarknetNode is being deleted")
		return flow.Done()
	}

	outcome := r.reconcileNode(ctx, log, node)
	if err := outcome.Error(); err != nil {
		r.events.reconcileFailed(node, err)
	}
	return outcome
}

func (r *Reconciler) reconcileNode(ctx context.Context, log logr.Logger, node *v1alpha1.StarknetNode) flow.Outcome {
	if outcome := r.ensureStatus(ctx, node); outcome.ShouldReturn() {
		return outcome
	}

	pvc, err := r.ensurePVC(ctx, node)
	if err != nil {
		return flow.Fail(err)
	}

	if NeedsRestore(node) {
		return r.reconcileRestore(ctx, log, node, pvc)
	}

	if outcome := r.reconcileRestored(ctx, node); outcome.ShouldReturn() {
		return outcome
	}

	return flow.Merge(
		r.reconcilePod(ctx, log, node, pvc),
		r.reconcilePodMonitor(ctx, node).Wrapf("reconciling PodMonitor %s", node.PodMonitorName()),
	)
}

// reconcileRestore drives the restore job while the snapshot gates the pod.
func (r *Reconciler) reconcileRestore(
	ctx context.Context,
	log logr.Logger,
	node *v1alpha1.StarknetNode,
	pvc *corev1.PersistentVolumeClaim,
) flow.Outcome {
	job, err := r.ensureRestoreJob(ctx, node, pvc)
	if err != nil {
		return flow.Fail(err)
	}

	t := NextPhase(node.CurrentPhase(), Observation{
		SnapshotConfigured: true,
		SnapshotRestored:   node.IsSnapshotRestored(),
		RestoreJobComplete: IsJobComplete(job),
	})
	if err := r.applyTransition(ctx, node, t); err != nil {
		return flow.Fail(err)
	}
	if t.LatchRestored {
		log.Info("snapshot restored", "job", job.Name)
		r.events.restoreFinished(node, job.Name)
	}
	return flow.RequeueAfter(RequeueInterval)
}

// reconcileRestored hands a leftover restore job to cleanup and moves the
// node out of the restore phases.
func (r *Reconciler) reconcileRestored(ctx context.Context, node *v1alpha1.StarknetNode) flow.Outcome {
	if err := r.cleanupRestoreJob(ctx, node); err != nil {
		return flow.Fail(err)
	}

	t := NextPhase(node.CurrentPhase(), Observation{
		SnapshotConfigured: node.Spec.Snapshot != nil,
		SnapshotRestored:   node.IsSnapshotRestored(),
	})
	if err := r.applyTransition(ctx, node, t); err != nil {
		return flow.Fail(err)
	}
	return flow.Continue()
}

// reconcilePod ensures the node pod. A pod being recreated is not a failure.
func (r *Reconciler) reconcilePod(
	ctx context.Context,
	log logr.Logger,
	node *v1alpha1.StarknetNode,
	pvc *corev1.PersistentVolumeClaim,
) flow.Outcome {
	if _, err := r.ensurePod(ctx, node, pvc); err != nil {
		if !errors.Is(err, ErrRecreationInProgress) {
			return flow.Fail(err)
		}
		log.V(1).Info("waiting for pod recreation")
	}
	return flow.RequeueAfter(RequeueInterval)
}

// --- StarknetNode ---

func (r *Reconciler) getNode(ctx context.Context, key types.NamespacedName) (*v1alpha1.StarknetNode, error) {
	var node v1alpha1.StarknetNode
	if err := r.cl.Get(ctx, key, &node); err != nil {
		return nil, err
	}
	return &node, nil
}
