//go:build ignore

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

// validate-crds runs the API server CRD validation, including CEL cost
// checks, over the runelabs.xyz CRD manifests.
//
//	go run hack/validate-crds.go crds
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apiextensions "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions"
	"k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/install"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apiextensionsvalidation "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/validation"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/serializer"
)

const manifestPrefix = "runelabs.xyz_"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <crds-directory>\n", os.Args[0])
		os.Exit(2)
	}
	dir := os.Args[1]

	scheme := runtime.NewScheme()
	install.Install(scheme)
	decoder := serializer.NewCodecFactory(scheme).UniversalDeserializer()

	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading %s: %v\n", dir, err)
		os.Exit(1)
	}

	var checked, failed int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, manifestPrefix) || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		checked++

		errs, err := validateFile(scheme, decoder, filepath.Join(dir, name))
		switch {
		case err != nil:
			fmt.Fprintf(os.Stderr, "  FAIL %s: %v\n", name, err)
			failed++
		case len(errs) > 0:
			fmt.Fprintf(os.Stderr, "  FAIL %s:\n", name)
			for _, e := range errs {
				fmt.Fprintf(os.Stderr, "    %s\n", e)
			}
			failed++
		default:
			fmt.Fprintf(os.Stdout, "  ok   %s\n", name)
		}
	}

	if checked == 0 {
		fmt.Fprintf(os.Stderr, "no CRD manifests in %s\n", dir)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "\n%d CRDs validated, %d failed\n", checked, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func validateFile(scheme *runtime.Scheme, decoder runtime.Decoder, path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	obj, _, err := decoder.Decode(data, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}
	v1CRD, ok := obj.(*apiextensionsv1.CustomResourceDefinition)
	if !ok {
		return nil, fmt.Errorf("expected CustomResourceDefinition, got %T", obj)
	}

	crd := &apiextensions.CustomResourceDefinition{}
	if err := scheme.Convert(v1CRD, crd, nil); err != nil {
		return nil, fmt.Errorf("converting to internal version: %w", err)
	}

	var out []string
	for _, e := range apiextensionsvalidation.ValidateCustomResourceDefinition(context.Background(), crd) {
		// storedVersions is populated by the API server.
		if strings.Contains(e.Field, "storedVersions") {
			continue
		}
		out = append(out, e.Error())
	}
	return out, nil
}
