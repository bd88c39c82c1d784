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

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/runelabs-xyz/pathfinder-operator/api/v1alpha1"
	"github.com/runelabs-xyz/pathfinder-operator/internal/reconciliation/flow"
)

// renderPVC renders the claim holding the node database.
func renderPVC(node *v1alpha1.StarknetNode) *corev1.PersistentVolumeClaim {
	return &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      node.StorageName(),
			Namespace: node.Namespace,
			Labels:    node.ChildLabels(v1alpha1.ComponentStorage),
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes:      []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			StorageClassName: node.Spec.Storage.Class,
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: node.Spec.Storage.Size,
				},
			},
		},
	}
}

// ensurePVC gets or creates the node claim. An existing claim only gets its
// requested size patched.
func (r *Reconciler) ensurePVC(ctx context.Context, node *v1alpha1.StarknetNode) (*corev1.PersistentVolumeClaim, error) {
	ctx, log := flow.BeginPhase(ctx, "pvc", "pvc", node.StorageName())

	pvc := &corev1.PersistentVolumeClaim{}
	err := r.cl.Get(ctx, client.ObjectKey{Namespace: node.Namespace, Name: node.StorageName()}, pvc)
	switch {
	case apierrors.IsNotFound(err):
		return r.createPVC(ctx, log, node)
	case err != nil:
		return nil, flow.Wrapf(err, "getting PersistentVolumeClaim %s", node.StorageName())
	}

	log.V(1).Info("patching requested size", "size", node.Spec.Storage.Size.String())
	if err := r.patchPVCSize(ctx, pvc, node.Spec.Storage.Size); err != nil {
		return nil, err
	}
	return pvc, nil
}

func (r *Reconciler) createPVC(ctx context.Context, log logr.Logger, node *v1alpha1.StarknetNode) (*corev1.PersistentVolumeClaim, error) {
	pvc := renderPVC(node)
	if err := controllerutil.SetControllerReference(node, pvc, r.cl.Scheme()); err != nil {
		return nil, flow.Wrapf(err, "setting owner of PersistentVolumeClaim %s", pvc.Name)
	}
	if err := r.cl.Create(ctx, pvc, client.FieldOwner(FieldOwner)); err != nil {
		return nil, flow.Wrapf(err, "creating PersistentVolumeClaim %s", pvc.Name)
	}

	log.Info("created PersistentVolumeClaim")
	r.events.storageCreated(node, pvc)
	return pvc, nil
}

// patchPVCSize sets spec.resources.requests.storage and nothing else. The
// patch is sent even when the size is unchanged.
func (r *Reconciler) patchPVCSize(ctx context.Context, pvc *corev1.PersistentVolumeClaim, size resource.Quantity) error {
	base := pvc.DeepCopy()
	if pvc.Spec.Resources.Requests == nil {
		pvc.Spec.Resources.Requests = corev1.ResourceList{}
	}
	pvc.Spec.Resources.Requests[corev1.ResourceStorage] = size

	if err := r.cl.Patch(ctx, pvc, client.MergeFrom(base), client.FieldOwner(FieldOwner)); err != nil {
		return flow.Wrapf(err, "patching size of PersistentVolumeClaim %s", pvc.Name)
	}
	return nil
}
