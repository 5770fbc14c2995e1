// Copyright 2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package elfvars_test

import (
	"fmt"
	"log"
	"os"

	"go.elfvars.dev/elfvars"
)

// Compare two builds of the same program for static layout drift.
func Example() {
	var files []*elfvars.File
	for _, path := range []string{"bin/app.v1", "bin/app.v2"} {
		f, err := elfvars.Open(path,
			elfvars.WithNames(true),
			elfvars.WithTypeSetDigest(true),
			elfvars.WithDiagnostics(os.Stderr),
		)
		if err != nil {
			log.Fatal(err)
		}
		files = append(files, f)
	}

	if elfvars.Identical(files) {
		fmt.Println("layouts are identical")
		return
	}
	for _, group := range elfvars.Partition(files) {
		for _, f := range group {
			fmt.Printf("%s:\n", f.Path)
			for _, c := range f.Descriptor.Categories {
				fmt.Printf("  %s %s\n", c.Digest, c.Cat)
			}
		}
	}
}
