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
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/utils/ptr"

	"github.com/runelabs-xyz/pathfinder-operator/api/v1alpha1"
)

var _ = Describe("NeedsRestore", func() {
	It("is false without a snapshot", func() {
		Expect(NeedsRestore(newNode("a"))).To(BeFalse())
	})

	It("is true with a snapshot and no status", func() {
		Expect(NeedsRestore(withSnapshot(newNode("a")))).To(BeTrue())
	})

	It("is true with a snapshot not restored yet", func() {
		node := withSnapshot(newNode("a"))
		node.Status = &v1alpha1.StarknetNodeStatus{Phase: v1alpha1.PhaseDownloadingSnapshot}
		Expect(NeedsRestore(node)).To(BeTrue())
	})

	It("is false once restored", func() {
		node := withSnapshot(newNode("a"))
		node.Status = &v1alpha1.StarknetNodeStatus{SnapshotRestored: true}
		Expect(NeedsRestore(node)).To(BeFalse())
	})
})

var _ = Describe("job conditions", func() {
	job := func(conds ...batchv1.JobCondition) *batchv1.Job {
		return &batchv1.Job{Status: batchv1.JobStatus{Conditions: conds}}
	}

	It("handles a nil job", func() {
		Expect(IsJobComplete(nil)).To(BeFalse())
		Expect(IsJobFailed(nil)).To(BeFalse())
	})

	It("ignores a running job", func() {
		Expect(IsJobComplete(job())).To(BeFalse())
		Expect(IsJobFailed(job())).To(BeFalse())
	})

	It("requires Complete=True", func() {
		Expect(IsJobComplete(job(batchv1.JobCondition{Type: batchv1.JobComplete, Status: corev1.ConditionFalse}))).To(BeFalse())
		Expect(IsJobComplete(job(batchv1.JobCondition{Type: batchv1.JobComplete, Status: corev1.ConditionTrue}))).To(BeTrue())
	})

	It("does not treat a failed job as complete", func() {
		failed := job(batchv1.JobCondition{
			Type:    batchv1.JobFailed,
			Status:  corev1.ConditionTrue,
			Reason:  "BackoffLimitExceeded",
			Message: "Job has reached the specified backoff limit",
		})
		Expect(IsJobComplete(failed)).To(BeFalse())
		Expect(IsJobFailed(failed)).To(BeTrue())
		Expect(jobFailureMessage(failed)).To(Equal("Job has reached the specified backoff limit"))
	})
})

var _ = Describe("renderRestoreJob", func() {
	var (
		node *v1alpha1.StarknetNode
		pvc  *corev1.PersistentVolumeClaim
	)

	BeforeEach(func() {
		node = withSnapshot(newNode("beta"))
		pvc = renderPVC(node)
	})

	It("renders a single non-restarting container", func() {
		job := renderRestoreJob(node, pvc)

		Expect(job.Name).To(Equal("beta-restore-snapshot-job"))
		Expect(job.Namespace).To(Equal("default"))
		Expect(job.Spec.BackoffLimit).To(Equal(ptr.To[int32](0)))
		Expect(job.Spec.TTLSecondsAfterFinished).To(BeNil())

		spec := job.Spec.Template.Spec
		Expect(spec.RestartPolicy).To(Equal(corev1.RestartPolicyNever))
		Expect(spec.Containers).To(HaveLen(1))

		c := spec.Containers[0]
		Expect(c.Name).To(Equal("snapshot-downloader"))
		Expect(c.Image).To(Equal(v1alpha1.DefaultSnapshotImage))
		Expect(c.Env).To(Equal([]corev1.EnvVar{
			{Name: "PATHFINDER_NETWORK", Value: "mainnet"},
			{Name: "PATHFINDER_FILE_NAME", Value: "snap.tar"},
			{Name: "PATHFINDER_CHECKSUM", Value: "abc"},
		}))
		Expect(c.VolumeMounts).To(ConsistOf(
			corev1.VolumeMount{Name: "snapshot-scratch", MountPath: "/scratch"},
			corev1.VolumeMount{Name: "data", MountPath: "/data"},
		))
	})

	It("passes the transfer endpoint and image overrides", func() {
		node.Spec.Snapshot.RsyncConfig = ptr.To("rsync://snapshots.example/pathfinder")
		node.Spec.Snapshot.RestoreImage = ptr.To("registry.example/snapshotter:v2")

		c := renderRestoreJob(node, pvc).Spec.Template.Spec.Containers[0]
		Expect(c.Image).To(Equal("registry.example/snapshotter:v2"))
		Expect(c.Env).To(ContainElement(corev1.EnvVar{
			Name:  "PATHFINDER_DOWNLOAD_URL",
			Value: "rsync://snapshots.example/pathfinder",
		}))
	})

	It("mounts an ephemeral scratch volume and the node claim", func() {
		node.Spec.Snapshot.Storage.Class = ptr.To("fast")

		volumes := renderRestoreJob(node, pvc).Spec.Template.Spec.Volumes
		Expect(volumes).To(HaveLen(2))

		scratch := volumes[0]
		Expect(scratch.Name).To(Equal("snapshot-scratch"))
		Expect(scratch.Ephemeral).NotTo(BeNil())
		tmpl := scratch.Ephemeral.VolumeClaimTemplate
		Expect(tmpl.Labels).To(HaveKeyWithValue("type", "pathfinder-snapshot-scratch"))
		Expect(tmpl.Spec.AccessModes).To(ConsistOf(corev1.ReadWriteOnce))
		Expect(tmpl.Spec.StorageClassName).To(Equal(ptr.To("fast")))
		size := tmpl.Spec.Resources.Requests[corev1.ResourceStorage]
		Expect(size.Cmp(resource.MustParse("200Gi"))).To(Equal(0))

		data := volumes[1]
		Expect(data.Name).To(Equal("data"))
		Expect(data.PersistentVolumeClaim).NotTo(BeNil())
		Expect(data.PersistentVolumeClaim.ClaimName).To(Equal("beta-storage"))
		Expect(data.PersistentVolumeClaim.ReadOnly).To(BeFalse())
	})

	It("labels the job and its pods", func() {
		job := renderRestoreJob(node, pvc)
		Expect(job.Labels).To(HaveKeyWithValue(v1alpha1.ComponentLabelKey, v1alpha1.ComponentRestoreJob))
		Expect(job.Labels).To(HaveKeyWithValue(v1alpha1.InstanceLabelKey, "beta"))
		Expect(job.Spec.Template.Labels).To(Equal(job.Labels))
	})
})
