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
	"sync"

	"github.com/go-logr/logr"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/runelabs-xyz/pathfinder-operator/api/v1alpha1"
	"github.com/runelabs-xyz/pathfinder-operator/internal/reconciliation/flow"
)

// NeedsRestore reports whether the snapshot restore still gates the node pod.
func NeedsRestore(node *v1alpha1.StarknetNode) bool {
	return node.Spec.Snapshot != nil && !node.IsSnapshotRestored()
}

// IsJobComplete reports whether the job has a Complete condition set to True.
func IsJobComplete(job *batchv1.Job) bool {
	return hasJobCondition(job, batchv1.JobComplete)
}

// IsJobFailed reports whether the job has a Failed condition set to True.
func IsJobFailed(job *batchv1.Job) bool {
	return hasJobCondition(job, batchv1.JobFailed)
}

func hasJobCondition(job *batchv1.Job, t batchv1.JobConditionType) bool {
	if job == nil {
		return false
	}
	for _, c := range job.Status.Conditions {
		if c.Type == t && c.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

func jobFailureMessage(job *batchv1.Job) string {
	for _, c := range job.Status.Conditions {
		if c.Type == batchv1.JobFailed && c.Status == corev1.ConditionTrue {
			if c.Message != "" {
				return c.Message
			}
			return c.Reason
		}
	}
	return ""
}

// renderRestoreJob renders the one-shot job downloading the snapshot into the
// node claim. The download happens on an ephemeral scratch volume.
func renderRestoreJob(node *v1alpha1.StarknetNode, pvc *corev1.PersistentVolumeClaim) *batchv1.Job {
	snapshot := node.Spec.Snapshot
	labels := node.ChildLabels(v1alpha1.ComponentRestoreJob)

	env := []corev1.EnvVar{
		{Name: "PATHFINDER_NETWORK", Value: node.Spec.Network},
		{Name: "PATHFINDER_FILE_NAME", Value: snapshot.FileName},
		{Name: "PATHFINDER_CHECKSUM", Value: snapshot.Checksum},
	}
	if snapshot.RsyncConfig != nil {
		env = append(env, corev1.EnvVar{Name: "PATHFINDER_DOWNLOAD_URL", Value: *snapshot.RsyncConfig})
	}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      node.RestoreJobName(),
			Namespace: node.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: ptr.To[int32](0),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{{
						Name:            restoreContainerName,
						Image:           snapshot.Image(),
						ImagePullPolicy: corev1.PullIfNotPresent,
						Env:             env,
						VolumeMounts: []corev1.VolumeMount{
							{Name: v1alpha1.ScratchVolumeName, MountPath: scratchMountPath},
							{Name: restoreDataVolumeName, MountPath: restoreDataMountPath},
						},
					}},
					Volumes: []corev1.Volume{
						{
							Name: v1alpha1.ScratchVolumeName,
							VolumeSource: corev1.VolumeSource{
								Ephemeral: &corev1.EphemeralVolumeSource{
									VolumeClaimTemplate: &corev1.PersistentVolumeClaimTemplate{
										ObjectMeta: metav1.ObjectMeta{
											Labels: map[string]string{
												v1alpha1.ScratchTypeLabelKey: v1alpha1.ScratchVolumeType,
											},
										},
										Spec: corev1.PersistentVolumeClaimSpec{
											AccessModes:      []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
											StorageClassName: snapshot.Storage.Class,
											Resources: corev1.VolumeResourceRequirements{
												Requests: corev1.ResourceList{
													corev1.ResourceStorage: snapshot.Storage.Size,
												},
											},
										},
									},
								},
							},
						},
						{
							Name: restoreDataVolumeName,
							VolumeSource: corev1.VolumeSource{
								PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
									ClaimName: pvc.Name,
								},
							},
						},
					},
				},
			},
		},
	}
}

// ensureRestoreJob gets or creates the restore job. An existing job is never
// modified while the restore is pending.
func (r *Reconciler) ensureRestoreJob(
	ctx context.Context,
	node *v1alpha1.StarknetNode,
	pvc *corev1.PersistentVolumeClaim,
) (*batchv1.Job, error) {
	ctx, log := flow.BeginPhase(ctx, "restore", "job", node.RestoreJobName())

	job := &batchv1.Job{}
	err := r.cl.Get(ctx, client.ObjectKey{Namespace: node.Namespace, Name: node.RestoreJobName()}, job)
	switch {
	case apierrors.IsNotFound(err):
		return r.createRestoreJob(ctx, log, node, pvc)
	case err != nil:
		return nil, flow.Wrapf(err, "getting Job %s", node.RestoreJobName())
	}

	if IsJobFailed(job) && r.failedJobs.markReported(job) {
		msg := jobFailureMessage(job)
		log.Info("snapshot restore job failed", "message", msg)
		r.events.restoreFailed(node, job.Name, msg)
	}
	return job, nil
}

func (r *Reconciler) createRestoreJob(
	ctx context.Context,
	log logr.Logger,
	node *v1alpha1.StarknetNode,
	pvc *corev1.PersistentVolumeClaim,
) (*batchv1.Job, error) {
	job := renderRestoreJob(node, pvc)
	if err := controllerutil.SetControllerReference(node, job, r.cl.Scheme()); err != nil {
		return nil, flow.Wrapf(err, "setting owner of Job %s", job.Name)
	}
	if err := r.cl.Create(ctx, job, client.FieldOwner(FieldOwner)); err != nil {
		return nil, flow.Wrapf(err, "creating Job %s", job.Name)
	}

	log.Info("created snapshot restore job", "snapshot", node.Spec.Snapshot.FileName)
	r.events.restoreStarted(node, job.Name)
	return job, nil
}

// cleanupRestoreJob hands a leftover restore job over to the TTL controller.
// The job is never deleted directly.
func (r *Reconciler) cleanupRestoreJob(ctx context.Context, node *v1alpha1.StarknetNode) error {
	ctx, log := flow.BeginPhase(ctx, "restore-cleanup", "job", node.RestoreJobName())

	job := &batchv1.Job{}
	if err := r.cl.Get(ctx, client.ObjectKey{Namespace: node.Namespace, Name: node.RestoreJobName()}, job); err != nil {
		return client.IgnoreNotFound(flow.Wrapf(err, "getting Job %s", node.RestoreJobName()))
	}
	if ttl := job.Spec.TTLSecondsAfterFinished; ttl != nil && *ttl == RestoreJobTTL {
		return nil
	}

	base := job.DeepCopy()
	job.Spec.TTLSecondsAfterFinished = ptr.To(RestoreJobTTL)
	if err := r.cl.Patch(ctx, job, client.MergeFrom(base), client.FieldOwner(FieldOwner)); err != nil {
		return flow.Wrapf(err, "patching ttl of Job %s", job.Name)
	}
	r.failedJobs.forget(job)

	log.Info("marked restore job for cleanup", "ttlSecondsAfterFinished", RestoreJobTTL)
	return nil
}

type jobKey struct {
	types.NamespacedName
	UID types.UID
}

// reportedJobs remembers the failed restore jobs already reported, so a
// failure is announced once per job instead of on every pass.
type reportedJobs struct {
	mu   sync.Mutex
	keys sets.Set[jobKey]
}

func newReportedJobs() *reportedJobs {
	return &reportedJobs{keys: sets.New[jobKey]()}
}

func keyOf(job *batchv1.Job) jobKey {
	return jobKey{NamespacedName: client.ObjectKeyFromObject(job), UID: job.UID}
}

// markReported records job and reports whether it was not recorded before.
func (j *reportedJobs) markReported(job *batchv1.Job) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	k := keyOf(job)
	if j.keys.Has(k) {
		return false
	}
	j.keys.Insert(k)
	return true
}

func (j *reportedJobs) forget(job *batchv1.Job) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.keys.Delete(keyOf(job))
}
