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

// Package digest folds merged variable records into per-category
// fingerprints, and aggregate types into a type-set fingerprint.
package digest

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"go.elfvars.dev/elfvars/internal/dwarfgraph"
	"go.elfvars.dev/elfvars/internal/merge"
	"go.elfvars.dev/elfvars/internal/xelf"
)

// Category is the digest of one memory category.
type Category struct {
	Cat     xelf.Category
	Digest  string // 16-digit hex
	Records []merge.Record
}

// writable reports whether a category participates in the tightened ABI
// view: writable data and TLS.
func writable(c xelf.Category) bool {
	switch c {
	case xelf.CatRW, xelf.CatRWX, xelf.CatTLS, xelf.CatRELRO:
		return true
	}
	return false
}

// Compose produces one digest per category from records already in merged
// order. When names is false, variable names do not participate, leaving a
// purely structural fingerprint. writableOnly restricts the result to
// writable and TLS categories.
func Compose(records []merge.Record, names, writableOnly bool) []Category {
	var out []Category
	var cur *Category
	var h *xxhash.Digest
	for _, r := range records {
		if writableOnly && !writable(r.Cat) {
			continue
		}
		if cur == nil || cur.Cat != r.Cat {
			if cur != nil {
				cur.Digest = fmt.Sprintf("%016x", h.Sum64())
				out = append(out, *cur)
			}
			cur = &Category{Cat: r.Cat}
			h = xxhash.New()
		}
		if names {
			h.WriteString(r.Name)
		}
		if r.HasType {
			h.WriteString("#" + fmt.Sprintf("%016x", r.TypeHash))
		}
		h.WriteString("@" + strconv.FormatUint(r.Relative, 10) +
			"/" + strconv.FormatUint(r.Align, 10) +
			":" + strconv.FormatInt(r.Size, 10))
		cur.Records = append(cur.Records, r)
	}
	if cur != nil {
		cur.Digest = fmt.Sprintf("%016x", h.Sum64())
		out = append(out, *cur)
	}
	return out
}

// TypeSet folds the sorted aggregate types into a single digest. The result
// compares declared schemas irrespective of which variables instantiate them.
func TypeSet(types []dwarfgraph.TypeRecord) string {
	h := xxhash.New()
	for _, t := range types {
		h.WriteString(t.HexHash())
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
