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

package elfvars

import (
	"slices"
	"strings"

	"go.elfvars.dev/elfvars/internal/digest"
)

// CategoryDigest is the digest of one memory category, with the records
// that produced it for verbose output.
type CategoryDigest = digest.Category

// Descriptor is the comparable identity of one file's static data layout:
// its per-category digests plus the optional type-set digest. Two files with
// equal descriptors have structurally identical static state under the
// options they were opened with.
type Descriptor struct {
	Categories []CategoryDigest
	TypeSet    string // "" unless WithTypeSetDigest was set
}

// Key renders the descriptor as a single comparable string.
func (d Descriptor) Key() string {
	var sb strings.Builder
	for _, c := range d.Categories {
		sb.WriteString(string(c.Cat))
		sb.WriteByte('=')
		sb.WriteString(c.Digest)
		sb.WriteByte(';')
	}
	if d.TypeSet != "" {
		sb.WriteString("types=")
		sb.WriteString(d.TypeSet)
	}
	return sb.String()
}

// Equal reports whether two descriptors describe the same layout.
func (d Descriptor) Equal(o Descriptor) bool { return d.Key() == o.Key() }

// Partition groups files by descriptor equality. Each group is sorted by
// file name, and the groups are ordered by their first member's name.
func Partition(files []*File) [][]*File {
	groups := map[string][]*File{}
	for _, f := range files {
		k := f.Descriptor.Key()
		groups[k] = append(groups[k], f)
	}
	out := make([][]*File, 0, len(groups))
	for _, g := range groups {
		slices.SortFunc(g, func(a, b *File) int { return strings.Compare(a.Path, b.Path) })
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b []*File) int { return strings.Compare(a[0].Path, b[0].Path) })
	return out
}

// Identical reports whether all files share one descriptor: the diff
// driver's success condition.
func Identical(files []*File) bool {
	return len(Partition(files)) == 1
}
