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

package drift

import (
	"fmt"

	"k8s.io/apimachinery/pkg/runtime"
)

// ToTree converts a non-nil pointer to a typed object into a
// tree of map[string]any, []any and scalars, following its JSON field names
// and omitempty rules.
func ToTree(obj any) (map[string]any, error) {
	tree, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return nil, fmt.Errorf("converting %T to tree: %w", obj, err)
	}
	return tree, nil
}

// CompareObjects converts both objects with ToTree and compares them.
func CompareObjects(observed, desired any) (Diff, error) {
	o, err := ToTree(observed)
	if err != nil {
		return Diff{}, err
	}
	d, err := ToTree(desired)
	if err != nil {
		return Diff{}, err
	}
	return Compare(o, d), nil
}
