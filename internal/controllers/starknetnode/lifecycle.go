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

import "github.com/runelabs-xyz/pathfinder-operator/api/v1alpha1"

// Observation is what a reconcile pass learned about the restore flow.
type Observation struct {
	SnapshotConfigured bool
	SnapshotRestored   bool
	RestoreJobComplete bool
}

// RestoreNeeded reports whether the restore job gates the pod.
func (o Observation) RestoreNeeded() bool {
	return o.SnapshotConfigured && !o.SnapshotRestored
}

// Transition is the lifecycle decision for one pass.
type Transition struct {
	// Phase is the phase the node should be in after the pass.
	Phase v1alpha1.Phase
	// LatchRestored asks to set status.snapshotRestored to true.
	LatchRestored bool
	// Changed reports whether Phase differs from the current phase.
	Changed bool
}

// NextPhase decides the phase a node moves to given its current phase and
// what the pass observed. It never asks to clear snapshotRestored.
//
//	restore needed, job running   -> DownloadingSnapshot
//	restore needed, job complete  -> SnapshotDownloaded, latch
//	restore not needed            -> Pending
func NextPhase(current v1alpha1.Phase, obs Observation) Transition {
	var t Transition
	switch {
	case obs.RestoreNeeded() && obs.RestoreJobComplete:
		t = Transition{Phase: v1alpha1.PhaseSnapshotDownloaded, LatchRestored: true}
	case obs.RestoreNeeded():
		t = Transition{Phase: v1alpha1.PhaseDownloadingSnapshot}
	default:
		t = Transition{Phase: v1alpha1.PhasePending}
	}
	t.Changed = t.Phase != current
	return t
}
