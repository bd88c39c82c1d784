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

const labelPrefix = "runelabs.xyz/"

const (
	// NetworkLabelKey is the label key for the Starknet network on child objects.
	NetworkLabelKey = labelPrefix + "network"

	NameLabelKey      = "app.kubernetes.io/name"
	InstanceLabelKey  = "app.kubernetes.io/instance"
	ComponentLabelKey = "app.kubernetes.io/component"
	ManagedByLabelKey = "app.kubernetes.io/managed-by"

	// ScratchTypeLabelKey marks the ephemeral scratch claim of a restore Job.
	ScratchTypeLabelKey = "type"

	NameLabelValue      = "pathfinder"
	ManagedByLabelValue = "pathfinder-operator"
)

// Component label values, one per child role.
const (
	ComponentStorage    = "storage"
	ComponentRestoreJob = "restore-snapshot"
	ComponentNode       = "node"
	ComponentMonitoring = "monitoring"
)

// ChildLabels returns the labels put on every child object of the given role.
func (n *StarknetNode) ChildLabels(component string) map[string]string {
	return map[string]string{
		NameLabelKey:      NameLabelValue,
		InstanceLabelKey:  n.Name,
		ComponentLabelKey: component,
		ManagedByLabelKey: ManagedByLabelValue,
		NetworkLabelKey:   n.Spec.Network,
	}
}
