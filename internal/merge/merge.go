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

// Package merge left-joins the symbol-table view of an object with its
// debug-info variables, keyed by category and address.
package merge

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.elfvars.dev/elfvars/internal/diag"
	"go.elfvars.dev/elfvars/internal/xelf"
)

// ErrMismatch reports a category disagreement between a symbol-table entry
// and a debug-info entry for the same object. It is fatal for the file.
var ErrMismatch = errors.New("symbol and debug info disagree")

// Record is one static object, from the symbol table, from debug info, or
// merged from both.
type Record struct {
	Name     string
	Value    uint64 // virtual address, or TLS-template offset
	Relative uint64 // value minus segment start
	Align    uint64 // value mod 4096
	Size     int64
	Cat      xelf.Category
	External bool

	HasType  bool
	TypeID   string
	TypeHash uint64
	Decl     string

	FromSymtab bool
	FromDebug  bool
}

type recordKey struct {
	cat   xelf.Category
	value uint64
	name  string
}

func key(r Record) recordKey { return recordKey{r.Cat, r.Value, r.Name} }

func compare(a, b Record) int {
	if c := cmp.Compare(a.Cat, b.Cat); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Value, b.Value); c != 0 {
		return c
	}
	return cmp.Compare(a.Name, b.Name)
}

// stripVersion removes a trailing @VERSION or @@VERSION suffix from a symbol
// name, so that versioned symbols compare equal to their unadorned debug
// names without admitting arbitrary prefix matches.
func stripVersion(name string) string {
	if i := strings.Index(name, "@"); i >= 0 {
		return name[:i]
	}
	return name
}

// sortDedup orders records by (category, address, name) and drops adjacent
// duplicates, warning when duplicates disagree on size.
func sortDedup(recs []Record, d *diag.Sink) []Record {
	slices.SortFunc(recs, compare)
	out := recs[:0]
	for _, r := range recs {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if key(*last) == key(r) {
				if last.Size != r.Size {
					d.Warnf("duplicate symbol %s at %#x with differing sizes %d and %d",
						r.Name, r.Value, last.Size, r.Size)
				}
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// Merge joins symbol records with debug records. Matched pairs keep the
// (possibly versioned) symbol name and take type, hash and declaration from
// the debug side. Unmatched debug records pass through; unmatched global
// symbols are noted and pass through, degrading fingerprint quality.
func Merge(syms, dbg []Record, d *diag.Sink) ([]Record, error) {
	// The join must not match the same object in two categories: that means
	// the classifier and the debug info disagree about where a variable
	// lives, and the digests would be silently wrong.
	dbgCat := make(map[string]xelf.Category, len(dbg))
	for _, r := range dbg {
		dbgCat[fmt.Sprintf("%s@%d", r.Name, r.Value)] = r.Cat
	}

	syms = sortDedup(syms, d)
	dbg = sortDedup(dbg, d)

	var out []Record
	used := make([]bool, len(dbg))
	j := 0
	for _, sym := range syms {
		// Advance the debug cursor past records that sort before this
		// symbol; they have no symbol-table counterpart and pass through.
		for j < len(dbg) && (cmp.Compare(dbg[j].Cat, sym.Cat) < 0 ||
			(dbg[j].Cat == sym.Cat && dbg[j].Value < sym.Value)) {
			if !used[j] {
				out = append(out, dbg[j])
				used[j] = true
			}
			j++
		}

		// Scan the run of debug records at the same (category, address).
		matched := false
		for k := j; k < len(dbg) && dbg[k].Cat == sym.Cat && dbg[k].Value == sym.Value; k++ {
			if used[k] || stripVersion(sym.Name) != dbg[k].Name {
				continue
			}
			if dbg[k].Size != sym.Size {
				d.Warnf("size mismatch for %s: %d (debug) vs %d (symtab)",
					sym.Name, dbg[k].Size, sym.Size)
			}
			if dbg[k].External != sym.External {
				d.Warnf("external mismatch for %s", sym.Name)
			}
			m := sym
			m.HasType = dbg[k].HasType
			m.TypeID = dbg[k].TypeID
			m.TypeHash = dbg[k].TypeHash
			m.Decl = dbg[k].Decl
			m.External = dbg[k].External
			m.FromDebug = true
			out = append(out, m)
			used[k] = true
			matched = true
			break
		}
		if matched {
			continue
		}

		if cat, ok := dbgCat[fmt.Sprintf("%s@%d", stripVersion(sym.Name), sym.Value)]; ok && cat != sym.Cat {
			return nil, fmt.Errorf("%w: %s at %#x is %s in the symbol table but %s in debug info",
				ErrMismatch, sym.Name, sym.Value, sym.Cat, cat)
		}
		if sym.External {
			d.Infof("no debug info for global symbol %s", sym.Name)
		}
		out = append(out, sym)
	}
	for ; j < len(dbg); j++ {
		if !used[j] {
			out = append(out, dbg[j])
		}
	}

	slices.SortFunc(out, compare)
	return out, nil
}
