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

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/tools/record"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	"github.com/runelabs-xyz/pathfinder-operator/api/v1alpha1"
)

var _ = Describe("Reconciler", func() {
	var (
		scheme   *runtime.Scheme
		objects  []client.Object
		funcs    interceptor.Funcs
		writes   *writeLog
		recorder *record.FakeRecorder
		cl       client.WithWatch
		rec      *Reconciler
	)

	reconcileNode := func(ctx context.Context, name string) (reconcile.Result, error) {
		return rec.Reconcile(ctx, reconcile.Request{
			NamespacedName: client.ObjectKey{Namespace: "default", Name: name},
		})
	}

	getNode := func(ctx context.Context, name string) *v1alpha1.StarknetNode {
		node := &v1alpha1.StarknetNode{}
		Expect(cl.Get(ctx, client.ObjectKey{Namespace: "default", Name: name}, node)).To(Succeed())
		return node
	}

	getPVC := func(ctx context.Context, name string) *corev1.PersistentVolumeClaim {
		pvc := &corev1.PersistentVolumeClaim{}
		Expect(cl.Get(ctx, client.ObjectKey{Namespace: "default", Name: name}, pvc)).To(Succeed())
		return pvc
	}

	getJob := func(ctx context.Context, name string) *batchv1.Job {
		job := &batchv1.Job{}
		Expect(cl.Get(ctx, client.ObjectKey{Namespace: "default", Name: name}, job)).To(Succeed())
		return job
	}

	getPod := func(ctx context.Context, name string) *corev1.Pod {
		pod := &corev1.Pod{}
		Expect(cl.Get(ctx, client.ObjectKey{Namespace: "default", Name: name}, pod)).To(Succeed())
		return pod
	}

	podExists := func(ctx context.Context, name string) bool {
		err := cl.Get(ctx, client.ObjectKey{Namespace: "default", Name: name}, &corev1.Pod{})
		if apierrors.IsNotFound(err) {
			return false
		}
		Expect(err).NotTo(HaveOccurred())
		return true
	}

	listJobs := func(ctx context.Context) []batchv1.Job {
		var jobs batchv1.JobList
		Expect(cl.List(ctx, &jobs, client.InNamespace("default"))).To(Succeed())
		return jobs.Items
	}

	completeJob := func(ctx context.Context, name string) {
		job := getJob(ctx, name)
		job.Status.Conditions = append(job.Status.Conditions, batchv1.JobCondition{
			Type:   batchv1.JobComplete,
			Status: corev1.ConditionTrue,
		})
		Expect(cl.Status().Update(ctx, job)).To(Succeed())
	}

	requeued := reconcile.Result{RequeueAfter: RequeueInterval}

	BeforeEach(func() {
		scheme = newScheme()
		objects = nil
		funcs = interceptor.Funcs{}
		writes = &writeLog{}
		recorder = record.NewFakeRecorder(100)
	})

	JustBeforeEach(func() {
		if funcs.Create == nil && funcs.Patch == nil && funcs.SubResourcePatch == nil && funcs.Delete == nil {
			funcs = RecordWrites(writes)
		}
		cl = fake.NewClientBuilder().
			WithScheme(scheme).
			WithObjects(objects...).
			WithStatusSubresource(&v1alpha1.StarknetNode{}).
			WithInterceptorFuncs(funcs).
			Build()
		rec = NewReconciler(cl, GinkgoLogr, recorder)
	})

	When("the StarknetNode does not exist", func() {
		It("does nothing", func(ctx SpecContext) {
			result, err := reconcileNode(ctx, "missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(reconcile.Result{}))
			Expect(writes.Writes()).To(BeEmpty())
		})
	})

	When("the StarknetNode is being deleted", func() {
		BeforeEach(func() {
			node := newNode("gone")
			node.Finalizers = []string{"example.com/hold"}
			node.DeletionTimestamp = ptr.To(metav1.Now())
			objects = append(objects, node)
		})

		It("does not touch children", func(ctx SpecContext) {
			result, err := reconcileNode(ctx, "gone")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(reconcile.Result{}))
			Expect(writes.Writes()).To(BeEmpty())
		})
	})

	When("no snapshot is configured", func() {
		BeforeEach(func() {
			objects = append(objects, newNode("alpha"))
		})

		It("creates the claim and the pod in one pass", func(ctx SpecContext) {
			result, err := reconcileNode(ctx, "alpha")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(requeued))

			node := getNode(ctx, "alpha")
			Expect(node.Status).NotTo(BeNil())
			Expect(node.Status.Phase).To(Equal(v1alpha1.PhasePending))
			Expect(node.Status.SnapshotRestored).To(BeFalse())

			pvc := getPVC(ctx, "alpha-storage")
			Expect(pvc.Spec.AccessModes).To(ConsistOf(corev1.ReadWriteOnce))
			size := pvc.Spec.Resources.Requests[corev1.ResourceStorage]
			Expect(size.Cmp(resource.MustParse("100Gi"))).To(Equal(0))
			Expect(metav1.IsControlledBy(pvc, node)).To(BeTrue())

			pod := getPod(ctx, "alpha-node")
			Expect(pod.Spec.Volumes).To(ContainElement(
				HaveField("PersistentVolumeClaim.ClaimName", "alpha-storage"),
			))
			Expect(metav1.IsControlledBy(pod, node)).To(BeTrue())

			Expect(listJobs(ctx)).To(BeEmpty())
			Expect(writes.Writes()).To(Equal([]string{
				"status-patch alpha",
				"create alpha-storage",
				"create alpha-node",
			}))

			events := drainEvents(recorder.Events)
			Expect(events).To(ContainElement(HavePrefix("Normal " + ReasonStorageCreated)))
			Expect(events).To(ContainElement(HavePrefix("Normal " + ReasonPodCreated)))
		})

		It("only patches the claim size on the next pass", func(ctx SpecContext) {
			_, err := reconcileNode(ctx, "alpha")
			Expect(err).NotTo(HaveOccurred())
			writes.Reset()
			drainEvents(recorder.Events)

			result, err := reconcileNode(ctx, "alpha")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(requeued))
			Expect(writes.Writes()).To(Equal([]string{"patch alpha-storage"}))
			Expect(drainEvents(recorder.Events)).To(BeEmpty())
		})

		It("never creates a restore job", func(ctx SpecContext) {
			for range 3 {
				_, err := reconcileNode(ctx, "alpha")
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(listJobs(ctx)).To(BeEmpty())

			var pods corev1.PodList
			Expect(cl.List(ctx, &pods, client.InNamespace("default"))).To(Succeed())
			Expect(pods.Items).To(HaveLen(1))

			var pvcs corev1.PersistentVolumeClaimList
			Expect(cl.List(ctx, &pvcs, client.InNamespace("default"))).To(Succeed())
			Expect(pvcs.Items).To(HaveLen(1))
		})

		It("counts the pass outcome", func(ctx SpecContext) {
			before := testutil.ToFloat64(reconcileTotal.WithLabelValues("requeue"))
			_, err := reconcileNode(ctx, "alpha")
			Expect(err).NotTo(HaveOccurred())
			Expect(testutil.ToFloat64(reconcileTotal.WithLabelValues("requeue"))).To(Equal(before + 1))
		})
	})

	When("the storage spec changes after creation", func() {
		BeforeEach(func() {
			node := newNode("alpha")
			node.Spec.Storage.Class = ptr.To("standard")
			objects = append(objects, node)
		})

		It("patches the size and keeps the class", func(ctx SpecContext) {
			_, err := reconcileNode(ctx, "alpha")
			Expect(err).NotTo(HaveOccurred())

			node := getNode(ctx, "alpha")
			node.Spec.Storage.Class = ptr.To("premium")
			node.Spec.Storage.Size = resource.MustParse("150Gi")
			Expect(cl.Update(ctx, node)).To(Succeed())

			_, err = reconcileNode(ctx, "alpha")
			Expect(err).NotTo(HaveOccurred())

			pvc := getPVC(ctx, "alpha-storage")
			Expect(pvc.Spec.StorageClassName).To(Equal(ptr.To("standard")))
			size := pvc.Spec.Resources.Requests[corev1.ResourceStorage]
			Expect(size.Cmp(resource.MustParse("150Gi"))).To(Equal(0))
		})
	})

	When("a snapshot is configured", func() {
		BeforeEach(func() {
			objects = append(objects, withSnapshot(newNode("beta")))
		})

		It("restores the snapshot before creating the pod", func(ctx SpecContext) {
			By("starting the restore job")
			result, err := reconcileNode(ctx, "beta")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(requeued))

			getPVC(ctx, "beta-storage")
			job := getJob(ctx, "beta-restore-snapshot-job")
			Expect(job.Spec.Template.Spec.RestartPolicy).To(Equal(corev1.RestartPolicyNever))
			Expect(getNode(ctx, "beta").Status.Phase).To(Equal(v1alpha1.PhaseDownloadingSnapshot))
			Expect(podExists(ctx, "beta-node")).To(BeFalse())
			Expect(drainEvents(recorder.Events)).To(ContainElement(HavePrefix("Normal " + ReasonSnapshotRestoreStarted)))

			By("waiting while the job runs")
			result, err = reconcileNode(ctx, "beta")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(requeued))
			Expect(podExists(ctx, "beta-node")).To(BeFalse())
			Expect(listJobs(ctx)).To(HaveLen(1))

			By("latching the restore once the job completes")
			completeJob(ctx, "beta-restore-snapshot-job")
			result, err = reconcileNode(ctx, "beta")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(requeued))

			node := getNode(ctx, "beta")
			Expect(node.Status.Phase).To(Equal(v1alpha1.PhaseSnapshotDownloaded))
			Expect(node.Status.SnapshotRestored).To(BeTrue())
			Expect(podExists(ctx, "beta-node")).To(BeFalse())
			Expect(drainEvents(recorder.Events)).To(ContainElement(HavePrefix("Normal " + ReasonSnapshotRestoreFinished)))

			By("cleaning up the job and creating the pod")
			result, err = reconcileNode(ctx, "beta")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(requeued))

			Expect(getJob(ctx, "beta-restore-snapshot-job").Spec.TTLSecondsAfterFinished).To(Equal(ptr.To(RestoreJobTTL)))
			Expect(podExists(ctx, "beta-node")).To(BeTrue())
			node = getNode(ctx, "beta")
			Expect(node.Status.Phase).To(Equal(v1alpha1.PhasePending))
			Expect(node.Status.SnapshotRestored).To(BeTrue())

			By("leaving the job alone afterwards")
			writes.Reset()
			_, err = reconcileNode(ctx, "beta")
			Expect(err).NotTo(HaveOccurred())
			Expect(writes.Writes()).To(Equal([]string{"patch beta-storage"}))
		})

		It("keeps waiting and warns when the job failed", func(ctx SpecContext) {
			_, err := reconcileNode(ctx, "beta")
			Expect(err).NotTo(HaveOccurred())
			drainEvents(recorder.Events)

			job := getJob(ctx, "beta-restore-snapshot-job")
			job.Status.Conditions = []batchv1.JobCondition{{
				Type:    batchv1.JobFailed,
				Status:  corev1.ConditionTrue,
				Reason:  "BackoffLimitExceeded",
				Message: "Job has reached the specified backoff limit",
			}}
			Expect(cl.Status().Update(ctx, job)).To(Succeed())

			result, err := reconcileNode(ctx, "beta")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(requeued))

			node := getNode(ctx, "beta")
			Expect(node.Status.Phase).To(Equal(v1alpha1.PhaseDownloadingSnapshot))
			Expect(node.Status.SnapshotRestored).To(BeFalse())
			Expect(podExists(ctx, "beta-node")).To(BeFalse())
			Expect(drainEvents(recorder.Events)).To(ContainElement(HavePrefix("Warning " + ReasonSnapshotRestoreFailed)))

			By("not warning again for the same job")
			for range 2 {
				_, err = reconcileNode(ctx, "beta")
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(drainEvents(recorder.Events)).NotTo(ContainElement(HavePrefix("Warning " + ReasonSnapshotRestoreFailed)))
		})
	})

	When("the snapshot was already restored", func() {
		BeforeEach(func() {
			node := withSnapshot(newNode("gamma"))
			node.Status = &v1alpha1.StarknetNodeStatus{
				Phase:            v1alpha1.PhasePending,
				SnapshotRestored: true,
			}
			objects = append(objects, node)
		})

		It("never starts a restore again", func(ctx SpecContext) {
			_, err := reconcileNode(ctx, "gamma")
			Expect(err).NotTo(HaveOccurred())
			Expect(listJobs(ctx)).To(BeEmpty())
			Expect(podExists(ctx, "gamma-node")).To(BeTrue())

			By("changing the snapshot")
			node := getNode(ctx, "gamma")
			node.Spec.Snapshot.FileName = "newer.tar"
			Expect(cl.Update(ctx, node)).To(Succeed())
			_, err = reconcileNode(ctx, "gamma")
			Expect(err).NotTo(HaveOccurred())
			Expect(listJobs(ctx)).To(BeEmpty())

			By("removing the snapshot")
			node = getNode(ctx, "gamma")
			node.Spec.Snapshot = nil
			Expect(cl.Update(ctx, node)).To(Succeed())
			_, err = reconcileNode(ctx, "gamma")
			Expect(err).NotTo(HaveOccurred())
			Expect(listJobs(ctx)).To(BeEmpty())
			Expect(getNode(ctx, "gamma").Status.SnapshotRestored).To(BeTrue())
		})
	})

	When("another writer owns status fields", func() {
		BeforeEach(func() {
			node := newNode("delta")
			node.Status = &v1alpha1.StarknetNodeStatus{
				Phase: v1alpha1.PhaseSnapshotDownloaded,
				Head:  ptr.To("0x1f2e"),
			}
			objects = append(objects, node)
		})

		It("keeps them", func(ctx SpecContext) {
			_, err := reconcileNode(ctx, "delta")
			Expect(err).NotTo(HaveOccurred())

			node := getNode(ctx, "delta")
			Expect(node.Status.Phase).To(Equal(v1alpha1.PhasePending))
			Expect(node.Status.Head).To(Equal(ptr.To("0x1f2e")))
		})
	})

	When("the pod drifts from its definition", func() {
		BeforeEach(func() {
			node := newNode("alpha")
			node.Spec.Resources = corev1.ResourceRequirements{
				Limits: corev1.ResourceList{corev1.ResourceMemory: resource.MustParse("8Gi")},
			}
			objects = append(objects, node)
		})

		JustBeforeEach(func(ctx SpecContext) {
			_, err := reconcileNode(ctx, "alpha")
			Expect(err).NotTo(HaveOccurred())
			writes.Reset()
			drainEvents(recorder.Events)
		})

		It("keeps an unchanged pod", func(ctx SpecContext) {
			for range 3 {
				_, err := reconcileNode(ctx, "alpha")
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(writes.Writes()).NotTo(ContainElement(HavePrefix("delete")))
		})

		It("recreates the pod with the new image", func(ctx SpecContext) {
			recreated := testutil.ToFloat64(podRecreations)

			node := getNode(ctx, "alpha")
			node.Spec.Image = ptr.To("eqlabs/pathfinder:v0.15.0")
			Expect(cl.Update(ctx, node)).To(Succeed())

			By("deleting the drifted pod")
			result, err := reconcileNode(ctx, "alpha")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(requeued))
			Expect(podExists(ctx, "alpha-node")).To(BeFalse())
			Expect(writes.Writes()).To(ContainElement("delete alpha-node"))
			Expect(drainEvents(recorder.Events)).To(ContainElement(HavePrefix("Normal " + ReasonPodRecreating)))
			Expect(testutil.ToFloat64(podRecreations)).To(Equal(recreated + 1))

			By("creating the replacement")
			_, err = reconcileNode(ctx, "alpha")
			Expect(err).NotTo(HaveOccurred())
			Expect(getPod(ctx, "alpha-node").Spec.Containers[0].Image).To(Equal("eqlabs/pathfinder:v0.15.0"))
		})

		DescribeTable("recreates on a change of",
			func(ctx SpecContext, mutate func(*corev1.Pod)) {
				pod := getPod(ctx, "alpha-node")
				mutate(pod)
				Expect(cl.Update(ctx, pod)).To(Succeed())
				writes.Reset()

				_, err := reconcileNode(ctx, "alpha")
				Expect(err).NotTo(HaveOccurred())
				Expect(writes.Writes()).To(ContainElement("delete alpha-node"))
			},
			Entry("env", func(p *corev1.Pod) {
				p.Spec.Containers[0].Env = append(p.Spec.Containers[0].Env, corev1.EnvVar{Name: "EXTRA", Value: "1"})
			}),
			Entry("resources", func(p *corev1.Pod) {
				p.Spec.Containers[0].Resources.Limits[corev1.ResourceMemory] = resource.MustParse("4Gi")
			}),
			Entry("volumes", func(p *corev1.Pod) {
				p.Spec.Volumes[0].PersistentVolumeClaim.ClaimName = "stale-storage"
			}),
		)

		It("keeps a pod carrying LimitRange defaults", func(ctx SpecContext) {
			pod := getPod(ctx, "alpha-node")
			c := &pod.Spec.Containers[0]
			c.Resources.Limits[corev1.ResourceCPU] = resource.MustParse("1")
			c.Resources.Requests = corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("500m"),
				corev1.ResourceMemory: resource.MustParse("8Gi"),
			}
			Expect(cl.Update(ctx, pod)).To(Succeed())
			writes.Reset()

			for range 3 {
				_, err := reconcileNode(ctx, "alpha")
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(writes.Writes()).NotTo(ContainElement(HavePrefix("delete")))
			Expect(podExists(ctx, "alpha-node")).To(BeTrue())
		})

		It("waits for a terminating pod", func(ctx SpecContext) {
			pod := getPod(ctx, "alpha-node")
			pod.Finalizers = []string{"example.com/hold"}
			Expect(cl.Update(ctx, pod)).To(Succeed())
			Expect(cl.Delete(ctx, pod)).To(Succeed())
			writes.Reset()

			result, err := reconcileNode(ctx, "alpha")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(requeued))
			Expect(writes.Writes()).To(Equal([]string{"patch alpha-storage"}))
		})
	})

	When("the API server fails", func() {
		BeforeEach(func() {
			objects = append(objects, newNode("alpha"))
			funcs = interceptor.Funcs{
				Create: func(ctx context.Context, cl client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
					if _, ok := obj.(*corev1.PersistentVolumeClaim); ok {
						return apierrors.NewServiceUnavailable("etcd is down")
					}
					return cl.Create(ctx, obj, opts...)
				},
			}
		})

		It("returns the error and records it", func(ctx SpecContext) {
			_, err := reconcileNode(ctx, "alpha")
			Expect(err).To(HaveOccurred())
			Expect(apierrors.IsServiceUnavailable(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("creating PersistentVolumeClaim alpha-storage"))

			Expect(podExists(ctx, "alpha-node")).To(BeFalse())
			Expect(drainEvents(recorder.Events)).To(ContainElement(HavePrefix("Warning " + ReasonReconcileFailed)))
		})
	})

	When("the status subresource rejects the write", func() {
		BeforeEach(func() {
			objects = append(objects, newNode("alpha"))
			funcs = interceptor.Funcs{
				SubResourcePatch: func(context.Context, client.Client, string, client.Object, client.Patch, ...client.SubResourcePatchOption) error {
					return apierrors.NewConflict(schema.GroupResource{Group: v1alpha1.APIGroup, Resource: "starknetnodes"}, "alpha", errors.New("stale"))
				},
			}
		})

		It("aborts before touching children", func(ctx SpecContext) {
			_, err := reconcileNode(ctx, "alpha")
			Expect(apierrors.IsConflict(err)).To(BeTrue())

			var pvcs corev1.PersistentVolumeClaimList
			Expect(cl.List(ctx, &pvcs)).To(Succeed())
			Expect(pvcs.Items).To(BeEmpty())
		})
	})

	It("requeues on the poll interval", func() {
		Expect(RequeueInterval).To(Equal(10 * time.Second))
		Expect(ErrorRetryDelay).To(Equal(5 * time.Second))
	})
})
