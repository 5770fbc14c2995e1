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
	"debug/dwarf"
	"fmt"
	"os"

	"go.elfvars.dev/elfvars/internal/diag"
	"go.elfvars.dev/elfvars/internal/digest"
	"go.elfvars.dev/elfvars/internal/dwarfgraph"
	"go.elfvars.dev/elfvars/internal/merge"
	"go.elfvars.dev/elfvars/internal/xelf"
)

// Variable is one merged static variable record.
type Variable = merge.Record

// TypeRecord is one aggregate type with its canonical identity.
type TypeRecord = dwarfgraph.TypeRecord

// Category re-exports the memory categories for callers of the library.
type Category = xelf.Category

// File is the fully processed view of one ELF object: merged variable
// records, aggregate types, and the comparable [Descriptor].
type File struct {
	Path       string
	BuildID    string
	DbgsymPath string // external debug file used, "" when embedded

	Variables []Variable
	Types     []TypeRecord

	Descriptor Descriptor

	// Diagnostics counts the warnings and notes emitted while processing;
	// a nonzero warning count marks the fingerprint as degraded.
	Diagnostics *diag.Sink
}

// Open processes one ELF object to completion: classification, debug-info
// extraction, the symbol/debug merge and digest composition. The underlying
// file handles are closed before Open returns.
func Open(path string, opts ...Option) (*File, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	sink := diag.New(o.diagW)

	f, err := open(path, &o, sink)
	if err != nil {
		return nil, classify(err)
	}
	return f, nil
}

func open(path string, o *options, sink *diag.Sink) (*File, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	ef, err := xelf.Open(path)
	if err != nil {
		return nil, err
	}
	defer ef.Close()

	out := &File{
		Path:        path,
		BuildID:     ef.BuildID,
		Diagnostics: sink,
	}

	// Locate debug information: embedded, or looked up by policy.
	var dd *dwarf.Data
	switch {
	case ef.HasDWARF():
		dd, err = ef.DWARF()
		if err != nil {
			return nil, err
		}
	case o.dbgsym:
		dbgPath, cleanup, err := xelf.FindDebug(o.root, path, ef.BuildID, o.debuginfod)
		if err != nil {
			return nil, err
		}
		if cleanup != nil {
			defer cleanup()
		}
		dbgFile, err := xelf.Open(dbgPath)
		if err != nil {
			return nil, err
		}
		defer dbgFile.Close()
		dd, err = dbgFile.DWARF()
		if err != nil {
			return nil, err
		}
		out.DbgsymPath = dbgPath
	default:
		return nil, fmt.Errorf("%w: %s has no embedded DWARF", xelf.ErrNoDebugInfo, path)
	}

	store, err := dwarfgraph.Parse(dd)
	if err != nil {
		return nil, err
	}
	resolver := dwarfgraph.NewResolver(store, o.aliases, o.names)

	dbgRecords, err := debugRecords(resolver, ef)
	if err != nil {
		return nil, err
	}
	symRecords := symbolRecords(ef)

	merged, err := merge.Merge(symRecords, dbgRecords, sink)
	if err != nil {
		return nil, err
	}
	out.Variables = merged

	cats := digest.Compose(merged, o.names, o.writableOnly)
	out.Descriptor.Categories = cats
	if o.typeSet {
		types, err := resolver.Aggregates()
		if err != nil {
			return nil, err
		}
		out.Types = types
		out.Descriptor.TypeSet = digest.TypeSet(types)
	}
	return out, nil
}

// debugRecords converts the extractor's absolute and TLS variables into
// categorized merge records.
func debugRecords(r *dwarfgraph.Resolver, ef *xelf.File) ([]merge.Record, error) {
	var recs []merge.Record
	for _, tls := range []bool{false, true} {
		vars, err := r.Variables(tls)
		if err != nil {
			return nil, err
		}
		for _, v := range vars {
			cat := xelf.CatTLS
			if !tls {
				cat = ef.Category(v.Value)
				if cat == "" {
					// Debug info referring to unmapped addresses has no
					// category to digest under; this happens for linker
					// script artifacts and is not worth a diagnostic.
					continue
				}
			}
			rel, align := ef.Place(cat, v.Value)
			recs = append(recs, merge.Record{
				Name:     v.Name,
				Value:    v.Value,
				Relative: rel,
				Align:    align,
				Size:     v.Size,
				Cat:      cat,
				External: v.External,
				HasType:  true,
				TypeID:   v.Type.Identifier,
				TypeHash: v.Type.Hash,
				Decl:     v.Decl,

				FromDebug: true,
			})
		}
	}
	return recs, nil
}

func symbolRecords(ef *xelf.File) []merge.Record {
	syms := ef.StaticSymbols()
	recs := make([]merge.Record, 0, len(syms))
	for _, s := range syms {
		rel, align := ef.Place(s.Cat, s.Value)
		recs = append(recs, merge.Record{
			Name:     s.Name,
			Value:    s.Value,
			Relative: rel,
			Align:    align,
			Size:     int64(s.Size),
			Cat:      s.Cat,
			External: s.External,

			FromSymtab: true,
		})
	}
	return recs
}
