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
	"fmt"
	"maps"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/runelabs-xyz/pathfinder-operator/api/v1alpha1"
	"github.com/runelabs-xyz/pathfinder-operator/internal/drift"
	"github.com/runelabs-xyz/pathfinder-operator/internal/reconciliation/flow"
)

// renderPod renders the node pod running pathfinder on the node claim.
func renderPod(node *v1alpha1.StarknetNode, pvc *corev1.PersistentVolumeClaim) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      node.PodName(),
			Namespace: node.Namespace,
			Labels:    node.ChildLabels(v1alpha1.ComponentNode),
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyAlways,
			SecurityContext: &corev1.PodSecurityContext{
				RunAsUser:  ptr.To(nodeUserID),
				RunAsGroup: ptr.To(nodeUserID),
				FSGroup:    ptr.To(nodeUserID),
			},
			Containers: []corev1.Container{{
				Name:            nodeContainerName,
				Image:           node.NodeImage(),
				ImagePullPolicy: corev1.PullIfNotPresent,
				Env: []corev1.EnvVar{
					{Name: "RUST_LOG", Value: "info"},
					{Name: "PATHFINDER_DATA_DIR", Value: dataMountPath},
					{Name: "PATHFINDER_MONITOR_ADDRESS", Value: fmt.Sprintf("0.0.0.0:%d", monitoringPort)},
					{
						Name: "PATHFINDER_ETHEREUM_API_URL",
						ValueFrom: &corev1.EnvVarSource{
							SecretKeyRef: node.Spec.L1RPCSecretRef.DeepCopy(),
						},
					},
					{Name: "PATHFINDER_NETWORK", Value: node.Spec.Network},
				},
				Ports: []corev1.ContainerPort{
					{Name: rpcPortName, ContainerPort: rpcPort, Protocol: corev1.ProtocolTCP},
					{Name: monitoringPortName, ContainerPort: monitoringPort, Protocol: corev1.ProtocolTCP},
				},
				Resources: *node.Spec.Resources.DeepCopy(),
				VolumeMounts: []corev1.VolumeMount{
					{Name: dataVolumeName, MountPath: dataMountPath},
				},
			}},
			Volumes: []corev1.Volume{{
				Name: dataVolumeName,
				VolumeSource: corev1.VolumeSource{
					PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
						ClaimName: pvc.Name,
					},
				},
			}},
		},
	}
}

// podScope lists what a rendered pod manages: its label keys, containers,
// volumes and the resource names each container sets. Anything else found on
// a live pod was added by someone else.
type podScope struct {
	labels     sets.Set[string]
	containers map[string]resourceScope
	volumes    sets.Set[string]
}

// resourceScope holds the resource names a rendered container sets. Requests
// include the limits, which the API server copies into missing requests.
type resourceScope struct {
	limits   sets.Set[corev1.ResourceName]
	requests sets.Set[corev1.ResourceName]
}

func scopeOf(desired *corev1.Pod) podScope {
	s := podScope{
		labels:     sets.KeySet(desired.Labels),
		containers: map[string]resourceScope{},
		volumes:    sets.New[string](),
	}
	for _, c := range desired.Spec.Containers {
		limits := sets.KeySet(c.Resources.Limits)
		s.containers[c.Name] = resourceScope{
			limits:   limits,
			requests: sets.KeySet(c.Resources.Requests).Union(limits),
		}
	}
	for _, v := range desired.Spec.Volumes {
		s.volumes.Insert(v.Name)
	}
	return s
}

// normalizePod projects a pod onto the fields in scope, so that a live pod
// and a rendered one can be compared. Metadata, status and the fields the API
// server or admission plugins fill in (service account token volume,
// tolerations, DNS policy, termination message settings, injected sidecars,
// LimitRange resource defaults) are dropped. Defaults that the server applies
// to managed fields are applied here as well.
func normalizePod(pod *corev1.Pod, scope podScope) *corev1.Pod {
	out := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      pod.Name,
			Namespace: pod.Namespace,
		},
		Spec: corev1.PodSpec{
			RestartPolicy: pod.Spec.RestartPolicy,
		},
	}

	for k, v := range pod.Labels {
		if scope.labels.Has(k) {
			if out.Labels == nil {
				out.Labels = map[string]string{}
			}
			out.Labels[k] = v
		}
	}

	if sc := pod.Spec.SecurityContext; sc != nil {
		out.Spec.SecurityContext = &corev1.PodSecurityContext{
			RunAsUser:  sc.RunAsUser,
			RunAsGroup: sc.RunAsGroup,
			FSGroup:    sc.FSGroup,
		}
	}

	for _, c := range pod.Spec.Containers {
		if rs, ok := scope.containers[c.Name]; ok {
			out.Spec.Containers = append(out.Spec.Containers, normalizeContainer(c, rs, scope.volumes))
		}
	}

	for _, v := range pod.Spec.Volumes {
		if !scope.volumes.Has(v.Name) {
			continue
		}
		nv := corev1.Volume{Name: v.Name}
		if v.PersistentVolumeClaim != nil {
			nv.PersistentVolumeClaim = &corev1.PersistentVolumeClaimVolumeSource{
				ClaimName: v.PersistentVolumeClaim.ClaimName,
				ReadOnly:  v.PersistentVolumeClaim.ReadOnly,
			}
		}
		out.Spec.Volumes = append(out.Spec.Volumes, nv)
	}
	return out
}

func normalizeContainer(c corev1.Container, rs resourceScope, volumes sets.Set[string]) corev1.Container {
	nc := corev1.Container{
		Name:            c.Name,
		Image:           c.Image,
		ImagePullPolicy: c.ImagePullPolicy,
		Env:             c.Env,
	}

	// The API server defaults missing requests to the limits.
	requests := maps.Clone(c.Resources.Requests)
	for name, limit := range c.Resources.Limits {
		if _, ok := requests[name]; !ok {
			if requests == nil {
				requests = corev1.ResourceList{}
			}
			requests[name] = limit
		}
	}
	nc.Resources.Limits = resourcesIn(c.Resources.Limits, rs.limits)
	nc.Resources.Requests = resourcesIn(requests, rs.requests)

	for _, p := range c.Ports {
		if p.Protocol == "" {
			p.Protocol = corev1.ProtocolTCP
		}
		nc.Ports = append(nc.Ports, corev1.ContainerPort{
			Name:          p.Name,
			ContainerPort: p.ContainerPort,
			Protocol:      p.Protocol,
		})
	}

	for _, m := range c.VolumeMounts {
		if !volumes.Has(m.Name) {
			continue
		}
		nc.VolumeMounts = append(nc.VolumeMounts, corev1.VolumeMount{
			Name:      m.Name,
			MountPath: m.MountPath,
			ReadOnly:  m.ReadOnly,
			SubPath:   m.SubPath,
		})
	}
	return nc
}

// resourcesIn keeps the entries of list named in names. It returns nil when
// nothing is kept.
func resourcesIn(list corev1.ResourceList, names sets.Set[corev1.ResourceName]) corev1.ResourceList {
	var out corev1.ResourceList
	for name, q := range list {
		if !names.Has(name) {
			continue
		}
		if out == nil {
			out = corev1.ResourceList{}
		}
		out[name] = q
	}
	return out
}

// podDrift compares the managed fields of the live pod with the rendered one.
func podDrift(live, desired *corev1.Pod) (drift.Diff, error) {
	scope := scopeOf(desired)
	return drift.CompareObjects(normalizePod(live, scope), normalizePod(desired, scope))
}

// ensurePod gets or creates the node pod. A pod that drifted from its
// rendered definition is deleted and ErrRecreationInProgress is returned; the
// replacement is created by a later pass once the old pod is gone.
func (r *Reconciler) ensurePod(
	ctx context.Context,
	node *v1alpha1.StarknetNode,
	pvc *corev1.PersistentVolumeClaim,
) (*corev1.Pod, error) {
	ctx, log := flow.BeginPhase(ctx, "pod", "pod", node.PodName())

	desired := renderPod(node, pvc)

	live := &corev1.Pod{}
	err := r.cl.Get(ctx, client.ObjectKeyFromObject(desired), live)
	switch {
	case apierrors.IsNotFound(err):
		return r.createPod(ctx, log, node, desired)
	case err != nil:
		return nil, flow.Wrapf(err, "getting Pod %s", desired.Name)
	}

	if live.DeletionTimestamp != nil {
		log.V(1).Info("pod is terminating")
		return nil, ErrRecreationInProgress
	}

	diff, err := podDrift(live, desired)
	if err != nil {
		return nil, flow.Wrapf(err, "comparing Pod %s", live.Name)
	}
	if !diff.NonEmpty() {
		return live, nil
	}

	log.Info("pod drifted from its definition, recreating", "diff", diff.String())
	if err := r.cl.Delete(ctx, live); client.IgnoreNotFound(err) != nil {
		return nil, flow.Wrapf(err, "deleting Pod %s", live.Name)
	}
	podRecreations.Inc()
	r.events.podRecreating(node, live.Name, diff.Paths())
	return nil, ErrRecreationInProgress
}

func (r *Reconciler) createPod(
	ctx context.Context,
	log logr.Logger,
	node *v1alpha1.StarknetNode,
	pod *corev1.Pod,
) (*corev1.Pod, error) {
	if err := controllerutil.SetControllerReference(node, pod, r.cl.Scheme()); err != nil {
		return nil, flow.Wrapf(err, "setting owner of Pod %s", pod.Name)
	}
	if err := r.cl.Create(ctx, pod, client.FieldOwner(FieldOwner)); err != nil {
		return nil, flow.Wrapf(err, "creating Pod %s", pod.Name)
	}

	log.Info("created pod", "image", node.NodeImage())
	r.events.podCreated(node, pod)
	return pod, nil
}
