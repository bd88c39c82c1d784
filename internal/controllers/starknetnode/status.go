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

	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/runelabs-xyz/pathfinder-operator/api/v1alpha1"
	"github.com/runelabs-xyz/pathfinder-operator/internal/reconciliation/flow"
)

// patchStatus sends the difference between base and node as a merge patch to
// the status subresource. Status fields not changed on node are left
// untouched on the server.
func (r *Reconciler) patchStatus(ctx context.Context, node, base *v1alpha1.StarknetNode) error {
	if err := r.cl.Status().Patch(ctx, node, client.MergeFrom(base), client.FieldOwner(FieldOwner)); err != nil {
		return flow.Wrapf(err, "patching status of StarknetNode %s/%s", node.Namespace, node.Name)
	}
	return nil
}

// ensureStatus initializes the status of a node seen for the first time.
func (r *Reconciler) ensureStatus(ctx context.Context, node *v1alpha1.StarknetNode) flow.Outcome {
	if node.Status != nil {
		return flow.Continue()
	}

	base := node.DeepCopy()
	node.Status = &v1alpha1.StarknetNodeStatus{Phase: v1alpha1.PhasePending}
	if err := r.patchStatus(ctx, node, base); err != nil {
		return flow.Fail(err)
	}
	return flow.Continue()
}

// applyTransition writes the outcome of NextPhase. A transition that neither
// changes the phase nor latches the restore flag writes nothing.
func (r *Reconciler) applyTransition(ctx context.Context, node *v1alpha1.StarknetNode, t Transition) error {
	latch := t.LatchRestored && !node.IsSnapshotRestored()
	if !t.Changed && !latch {
		return nil
	}

	base := node.DeepCopy()
	if node.Status == nil {
		node.Status = &v1alpha1.StarknetNodeStatus{}
	}
	node.Status.Phase = t.Phase
	if latch {
		node.Status.SnapshotRestored = true
	}
	return r.patchStatus(ctx, node, base)
}
