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

package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// StarknetNode describes one managed Starknet full node: the network it
// follows, the storage backing its database and an optional database snapshot
// restored before the node first starts.
//
// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Namespaced,shortName=snode
// +kubebuilder:printcolumn:name="Network",type=string,JSONPath=".spec.network"
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Restored",type=boolean,JSONPath=".status.snapshotRestored"
// +kubebuilder:printcolumn:name="Size",type=string,priority=1,JSONPath=".spec.storage.size"
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=".metadata.creationTimestamp"
type StarknetNode struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   StarknetNodeSpec    `json:"spec"`
	Status *StarknetNodeStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true
type StarknetNodeList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []StarknetNode `json:"items"`
}

type StarknetNodeSpec struct {
	// Network is the Starknet network followed by the node (e.g. mainnet, sepolia).
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Network string `json:"network"`

	// Snapshot is the database snapshot restored before the node starts.
	// Once restored, changing or removing it has no effect.
	// +optional
	Snapshot *SnapshotSpec `json:"snapshot,omitempty"`

	// L1RPCSecretRef selects the secret key holding the Ethereum (L1) RPC URL.
	// +kubebuilder:validation:Required
	L1RPCSecretRef corev1.SecretKeySelector `json:"l1RpcSecretRef"`

	// Resources are the compute resources of the node container.
	// +optional
	Resources corev1.ResourceRequirements `json:"resources,omitempty"`

	// Storage is the persistent storage holding the node database.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:XValidation:rule="(!has(self.class) && !has(oldSelf.class)) || (has(self.class) && has(oldSelf.class) && self.class == oldSelf.class)",message="storage class is immutable"
	Storage StorageSpec `json:"storage"`

	// Image overrides the node image.
	// +optional
	Image *string `json:"image,omitempty"`

	// PodMonitor configures a prometheus-operator PodMonitor scraping the
	// node monitoring port.
	// +optional
	PodMonitor *PodMonitorSpec `json:"podMonitor,omitempty"`
}

type PodMonitorSpec struct {
	// Enabled creates the PodMonitor. Disabling it deletes an existing one.
	Enabled bool `json:"enabled"`

	// Labels are added to the PodMonitor, e.g. to match a Prometheus podMonitorSelector.
	// +optional
	Labels map[string]string `json:"labels,omitempty"`
}

type StorageSpec struct {
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:XValidation:rule="quantity(string(self)).isGreaterThan(quantity('0'))",message="size must be greater than 0"
	Size resource.Quantity `json:"size"`

	// Class is the storage class name. The cluster default is used when unset.
	// +optional
	Class *string `json:"class,omitempty"`
}

type SnapshotSpec struct {
	// FileName is the name of the snapshot file in the snapshot bucket.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	FileName string `json:"fileName"`

	// Checksum is the sha256 checksum of the snapshot file.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Checksum string `json:"checksum"`

	// RsyncConfig is the transfer endpoint used to download the snapshot.
	// The downloader falls back to the public snapshot service when unset.
	// +optional
	RsyncConfig *string `json:"rsyncConfig,omitempty"`

	// Storage is the scratch volume used while downloading and unpacking.
	// Should be at least twice the size of the snapshot file.
	// +kubebuilder:validation:Required
	Storage StorageSpec `json:"storage"`

	// RestoreImage overrides the snapshot downloader image.
	// +optional
	RestoreImage *string `json:"restoreImage,omitempty"`
}

type StarknetNodeStatus struct {
	// +kubebuilder:validation:Enum=Pending;DownloadingSnapshot;SnapshotDownloaded;CatchingUp;Ready;Failed
	// +optional
	Phase Phase `json:"phase,omitempty"`

	// SnapshotRestored is latched once the snapshot restore job completed.
	// It is never reset.
	SnapshotRestored bool `json:"snapshotRestored"`

	// Head is the latest block known to the node.
	// +optional
	Head *string `json:"head,omitempty"`
}

// IsSnapshotRestored reports whether the snapshot restore has been latched.
func (n *StarknetNode) IsSnapshotRestored() bool {
	return n.Status != nil && n.Status.SnapshotRestored
}

// PodMonitorEnabled reports whether a PodMonitor is requested.
func (n *StarknetNode) PodMonitorEnabled() bool {
	return n.Spec.PodMonitor != nil && n.Spec.PodMonitor.Enabled
}

// CurrentPhase returns the phase from the status, or an empty phase when the
// status has not been initialized yet.
func (n *StarknetNode) CurrentPhase() Phase {
	if n.Status == nil {
		return ""
	}
	return n.Status.Phase
}
