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

// Package drift compares two structured trees made of map[string]any, []any
// and scalar values and reports where they differ.
//
// The comparator knows nothing about Kubernetes objects. Callers are
// responsible for feeding it trees that leave out server-populated fields,
// otherwise every comparison reports differences.
package drift

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// ChangeKind tells on which side of the comparison a leaf value exists.
type ChangeKind string

const (
	// Modified means both sides hold a value and the values differ.
	Modified ChangeKind = "modified"
	// Added means only the desired side holds a value.
	Added ChangeKind = "added"
	// Removed means only the observed side holds a value.
	Removed ChangeKind = "removed"
)

// Change is a leaf difference.
type Change struct {
	Kind     ChangeKind
	Observed any
	Desired  any
}

// Diff is a tree of differences mirroring the compared trees. Fields holds
// differences below object keys, Items below array indexes. Change is set
// when the node itself differs.
type Diff struct {
	Change *Change
	Fields map[string]Diff
	Items  map[int]Diff
}

// Compare returns the differences between observed and desired.
//
// Objects are compared over the union of their keys, a key present on one
// side only is a difference. Arrays are compared index by index, extra
// elements on either side are differences. Any other pair of values is
// compared for equality. Values of different shapes always differ.
func Compare(observed, desired any) Diff {
	switch d := desired.(type) {
	case map[string]any:
		if o, ok := observed.(map[string]any); ok {
			return compareObjects(o, d)
		}
	case []any:
		if o, ok := observed.([]any); ok {
			return compareArrays(o, d)
		}
	default:
		if !isContainer(observed) && scalarEqual(observed, d) {
			return Diff{}
		}
	}
	return Diff{Change: &Change{Kind: Modified, Observed: observed, Desired: desired}}
}

func compareObjects(observed, desired map[string]any) Diff {
	var fields map[string]Diff
	add := func(key string, d Diff) {
		if fields == nil {
			fields = make(map[string]Diff)
		}
		fields[key] = d
	}

	for key, dv := range desired {
		ov, ok := observed[key]
		if !ok {
			add(key, Diff{Change: &Change{Kind: Added, Desired: dv}})
			continue
		}
		if d := Compare(ov, dv); d.NonEmpty() {
			add(key, d)
		}
	}
	for key, ov := range observed {
		if _, ok := desired[key]; !ok {
			add(key, Diff{Change: &Change{Kind: Removed, Observed: ov}})
		}
	}

	return Diff{Fields: fields}
}

func compareArrays(observed, desired []any) Diff {
	var items map[int]Diff
	add := func(i int, d Diff) {
		if items == nil {
			items = make(map[int]Diff)
		}
		items[i] = d
	}

	for i := 0; i < max(len(observed), len(desired)); i++ {
		switch {
		case i >= len(observed):
			add(i, Diff{Change: &Change{Kind: Added, Desired: desired[i]}})
		case i >= len(desired):
			add(i, Diff{Change: &Change{Kind: Removed, Observed: observed[i]}})
		default:
			if d := Compare(observed[i], desired[i]); d.NonEmpty() {
				add(i, d)
			}
		}
	}

	return Diff{Items: items}
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

func scalarEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// NonEmpty reports whether any difference was found.
func (d Diff) NonEmpty() bool {
	return d.Change != nil || len(d.Fields) > 0 || len(d.Items) > 0
}

// Paths returns the sorted paths of every leaf difference, using
// "a.b[0].c" notation. The root difference has the path ".".
func (d Diff) Paths() []string {
	var paths []string
	d.walk("", func(path string, _ Change) {
		paths = append(paths, path)
	})
	slices.Sort(paths)
	return paths
}

// String renders one line per leaf difference, sorted by path.
func (d Diff) String() string {
	var lines []string
	d.walk("", func(path string, c Change) {
		switch c.Kind {
		case Added:
			lines = append(lines, fmt.Sprintf("%s: + %v", path, c.Desired))
		case Removed:
			lines = append(lines, fmt.Sprintf("%s: - %v", path, c.Observed))
		default:
			lines = append(lines, fmt.Sprintf("%s: %v -> %v", path, c.Observed, c.Desired))
		}
	})
	slices.Sort(lines)
	return strings.Join(lines, "\n")
}

func (d Diff) walk(path string, visit func(path string, c Change)) {
	if d.Change != nil {
		if path == "" {
			path = "."
		}
		visit(path, *d.Change)
	}
	for key, sub := range d.Fields {
		p := key
		if path != "" {
			p = path + "." + key
		}
		sub.walk(p, visit)
	}
	for i, sub := range d.Items {
		sub.walk(path+"["+strconv.Itoa(i)+"]", visit)
	}
}
