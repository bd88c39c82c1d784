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
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/tools/record"

	"github.com/runelabs-xyz/pathfinder-operator/api/v1alpha1"
)

// Event reasons recorded on StarknetNode objects.
const (
	ReasonStorageCreated          = "StorageCreated"
	ReasonSnapshotRestoreStarted  = "SnapshotRestoreStarted"
	ReasonSnapshotRestoreFinished = "SnapshotRestoreFinished"
	ReasonSnapshotRestoreFailed   = "SnapshotRestoreFailed"
	ReasonPodCreated              = "PodCreated"
	ReasonPodRecreating           = "PodRecreating"
	ReasonPodMonitorCreated       = "PodMonitorCreated"
	ReasonPodMonitorDeleted       = "PodMonitorDeleted"
	ReasonReconcileFailed         = "ReconcileFailed"
)

type events struct {
	recorder record.EventRecorder
}

func (e events) normal(node *v1alpha1.StarknetNode, reason, messageFmt string, args ...any) {
	e.recorder.Eventf(node, corev1.EventTypeNormal, reason, messageFmt, args...)
}

func (e events) warning(node *v1alpha1.StarknetNode, reason, messageFmt string, args ...any) {
	e.recorder.Eventf(node, corev1.EventTypeWarning, reason, messageFmt, args...)
}

func (e events) storageCreated(node *v1alpha1.StarknetNode, pvc *corev1.PersistentVolumeClaim) {
	e.normal(node, ReasonStorageCreated,
		"Created PersistentVolumeClaim %s requesting %s", pvc.Name, node.Spec.Storage.Size.String())
}

func (e events) restoreStarted(node *v1alpha1.StarknetNode, jobName string) {
	e.normal(node, ReasonSnapshotRestoreStarted,
		"Started restoring snapshot %s with job %s", node.Spec.Snapshot.FileName, jobName)
}

func (e events) restoreFinished(node *v1alpha1.StarknetNode, jobName string) {
	e.normal(node, ReasonSnapshotRestoreFinished, "Snapshot restore job %s completed", jobName)
}

func (e events) restoreFailed(node *v1alpha1.StarknetNode, jobName, message string) {
	e.warning(node, ReasonSnapshotRestoreFailed, "Snapshot restore job %s failed: %s", jobName, message)
}

func (e events) podCreated(node *v1alpha1.StarknetNode, pod *corev1.Pod) {
	e.normal(node, ReasonPodCreated, "Created pod %s", pod.Name)
}

func (e events) podRecreating(node *v1alpha1.StarknetNode, podName string, fields []string) {
	e.normal(node, ReasonPodRecreating, "Recreating pod %s, changed fields: %v", podName, fields)
}

func (e events) podMonitorCreated(node *v1alpha1.StarknetNode, name string) {
	e.normal(node, ReasonPodMonitorCreated, "Created PodMonitor %s", name)
}

func (e events) podMonitorDeleted(node *v1alpha1.StarknetNode, name string) {
	e.normal(node, ReasonPodMonitorDeleted, "Deleted PodMonitor %s, monitoring is disabled", name)
}

func (e events) reconcileFailed(node *v1alpha1.StarknetNode, err error) {
	e.warning(node, ReasonReconcileFailed, "Reconciliation failed: %v", err)
}
