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
	"errors"
	"time"
)

const (
	ControllerName = "starknetnode-controller"

	// FieldOwner is the field manager used for every write of the operator.
	FieldOwner = "pathfinder-operator"

	// RequeueInterval is the poll interval for job and pod convergence.
	RequeueInterval = 10 * time.Second

	// ErrorRetryDelay is the fixed delay before a failed pass is retried.
	ErrorRetryDelay = 5 * time.Second

	// RestoreJobTTL is set on a finished restore job so the cluster removes it.
	RestoreJobTTL int32 = 1
)

const (
	nodeContainerName     = "pathfinder"
	restoreContainerName  = "snapshot-downloader"
	dataVolumeName        = "pathfinder-data"
	restoreDataVolumeName = "data"
	dataMountPath         = "/usr/share/pathfinder/data"
	scratchMountPath      = "/scratch"
	restoreDataMountPath  = "/data"

	rpcPortName        = "rpc"
	rpcPort            = 9545
	monitoringPortName = "monitoring"
	monitoringPort     = 9000

	nodeUserID int64 = 1000
)

// ErrRecreationInProgress is returned when the node pod was just deleted for
// recreation, or is still terminating. It is not a failure: the pass is
// requeued and the pod is created again once it is gone.
var ErrRecreationInProgress = errors.New("pod recreation in progress")
