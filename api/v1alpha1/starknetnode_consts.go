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

// Phase is the coarse lifecycle state reported in StarknetNode status.
type Phase string

const (
	PhasePending             Phase = "Pending"
	PhaseDownloadingSnapshot Phase = "DownloadingSnapshot"
	PhaseSnapshotDownloaded  Phase = "SnapshotDownloaded"
	// PhaseCatchingUp, PhaseReady and PhaseFailed are part of the API but
	// are not set by the operator yet.
	PhaseCatchingUp Phase = "CatchingUp"
	PhaseReady      Phase = "Ready"
	PhaseFailed     Phase = "Failed"
)

// Phases returns every declared phase in lifecycle order.
func Phases() []Phase {
	return []Phase{
		PhasePending,
		PhaseDownloadingSnapshot,
		PhaseSnapshotDownloaded,
		PhaseCatchingUp,
		PhaseReady,
		PhaseFailed,
	}
}

func (p Phase) String() string { return string(p) }

// Child object name suffixes.
const (
	StorageSuffix        = "-storage"
	RestoreJobSuffix     = "-restore-snapshot-job"
	PodSuffix            = "-node"
	PodMonitorSuffix     = "-podmonitor"
	ScratchVolumeName    = "snapshot-scratch"
	ScratchVolumeType    = "pathfinder-snapshot-scratch"
	DefaultNodeImage     = "eqlabs/pathfinder:latest"
	DefaultSnapshotImage = "ghcr.io/runelabsxyz/pathfinder-snapshotter:latest"
)

// StorageName is the name of the PersistentVolumeClaim holding the node database.
func (n *StarknetNode) StorageName() string { return n.Name + StorageSuffix }

// RestoreJobName is the name of the snapshot restore Job.
func (n *StarknetNode) RestoreJobName() string { return n.Name + RestoreJobSuffix }

// PodName is the name of the node Pod.
func (n *StarknetNode) PodName() string { return n.Name + PodSuffix }

// PodMonitorName is the name of the node PodMonitor.
func (n *StarknetNode) PodMonitorName() string { return n.Name + PodMonitorSuffix }

// NodeImage returns the configured node image or the default one.
func (n *StarknetNode) NodeImage() string {
	if n.Spec.Image != nil && *n.Spec.Image != "" {
		return *n.Spec.Image
	}
	return DefaultNodeImage
}

// Image returns the configured snapshot downloader image or the default one.
func (s *SnapshotSpec) Image() string {
	if s.RestoreImage != nil && *s.RestoreImage != "" {
		return *s.RestoreImage
	}
	return DefaultSnapshotImage
}
