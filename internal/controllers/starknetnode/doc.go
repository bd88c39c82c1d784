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

// Package starknetnode implements the controller driving StarknetNode
// resources to a running pathfinder node.
//
// # Controller Responsibilities
//
// For each StarknetNode the controller owns up to four child objects, all
// owner-referenced to the node so that the garbage collector removes them
// with it:
//   - PersistentVolumeClaim <name>-storage holding the node database
//   - Job <name>-restore-snapshot-job restoring a database snapshot into the claim
//   - Pod <name>-node running pathfinder on the claim
//   - PodMonitor <name>-podmonitor scraping the pod, when spec.podMonitor is enabled
//
// # Watched Resources
//
// The controller watches:
//   - StarknetNode: the primary resource
//   - PersistentVolumeClaim, Job, Pod: owned children
//   - PodMonitor: owned child, only when the cluster serves the kind
//
// # Reconciliation Flow
//
//  1. Initialize status (phase Pending, snapshotRestored false) when absent.
//  2. Ensure the claim exists and patch its requested size. The storage class is never patched.
//  3. When a snapshot is configured and not restored yet, ensure the restore job.
//     On completion latch status.snapshotRestored and move to SnapshotDownloaded,
//     otherwise stay in DownloadingSnapshot. The pod is not created in either case.
//  4. Otherwise mark a leftover restore job for cleanup, set phase Pending and
//     ensure the pod. A pod whose managed fields drifted from the rendered
//     definition is deleted and created again on a later pass. Create, update
//     or delete the PodMonitor; a missing PodMonitor kind is skipped.
//  5. Requeue after RequeueInterval to observe job and pod progress.
//
// Failed client calls abort the pass, are recorded as a ReconcileFailed event
// and are retried after ErrorRetryDelay.
//
// # Status
//
// Status is written with merge patches computed against the fetched object,
// so fields written by other actors survive. snapshotRestored is never
// reset once latched.
//
// # Known gaps
//
// A restore job that failed is reported through a SnapshotRestoreFailed event
// but the node stays in DownloadingSnapshot. The CatchingUp, Ready and Failed
// phases are not produced.
package starknetnode
