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

// Package xelf classifies the address space of an ELF object: load and TLS
// segments by access category, the RELRO overlay, the build id, and a
// symbol-table view of statically sized objects.
package xelf

import (
	"bytes"
	"debug/dwarf"
	"debug/elf"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"slices"

	"github.com/edsrzf/mmap-go"
)

// Category is the coarse classification of an address range. RELRO is an
// overlay over a writable load segment that the loader remaps read-only.
type Category string

const (
	CatR     Category = "R"
	CatRW    Category = "RW"
	CatRX    Category = "RX"
	CatRWX   Category = "RWX"
	CatTLS   Category = "TLS"
	CatRELRO Category = "RELRO"
)

func flagCategory(f elf.ProgFlag) Category {
	var c []byte
	if f&elf.PF_R != 0 {
		c = append(c, 'R')
	}
	if f&elf.PF_W != 0 {
		c = append(c, 'W')
	}
	if f&elf.PF_X != 0 {
		c = append(c, 'X')
	}
	return Category(c)
}

// Segment is one load or TLS segment with its category.
type Segment struct {
	Cat   Category
	Vaddr uint64
	Memsz uint64
}

func (s Segment) contains(addr uint64) bool {
	return addr >= s.Vaddr && addr < s.Vaddr+s.Memsz
}

// Symbol is one defined OBJECT or TLS symbol with nonzero size, placed into
// its segment category. Value is a virtual address, or a template-relative
// offset for TLS symbols.
type Symbol struct {
	Name     string
	Value    uint64
	Size     uint64
	Cat      Category
	External bool
}

// File is one mapped ELF object. It owns the mapping and must be closed
// before the next input is opened.
type File struct {
	Path     string
	Segments []Segment
	Relro    *Segment // nil when the object has no PT_GNU_RELRO
	BuildID  string   // lowercase hex, "" when absent

	elf    *elf.File
	mm     mmap.MMap
	osf    *os.File
	secCat []Category // section index -> category of enclosing segment
}

// Open maps path and parses its headers.
func Open(path string) (*File, error) {
	osf, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	mm, err := mmap.Map(osf, mmap.RDONLY, 0)
	if err != nil {
		osf.Close()
		return nil, err
	}
	ef, err := elf.NewFile(bytes.NewReader(mm))
	if err != nil {
		mm.Unmap()
		osf.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	f := &File{Path: path, elf: ef, mm: mm, osf: osf}
	f.classify()
	f.BuildID = findBuildID(ef)
	return f, nil
}

// Close unmaps the file. Safe to call more than once.
func (f *File) Close() error {
	var err error
	if f.mm != nil {
		err = f.mm.Unmap()
		f.mm = nil
	}
	if f.osf != nil {
		if cerr := f.osf.Close(); err == nil {
			err = cerr
		}
		f.osf = nil
	}
	return err
}

// classify builds the segment list, the RELRO overlay and the
// section-to-category map from the program headers.
func (f *File) classify() {
	for _, p := range f.elf.Progs {
		switch p.Type {
		case elf.PT_LOAD:
			f.Segments = append(f.Segments, Segment{
				Cat:   flagCategory(p.Flags),
				Vaddr: p.Vaddr,
				Memsz: p.Memsz,
			})
		case elf.PT_TLS:
			f.Segments = append(f.Segments, Segment{Cat: CatTLS, Vaddr: p.Vaddr, Memsz: p.Memsz})
		case elf.PT_GNU_RELRO:
			f.Relro = &Segment{Cat: CatRELRO, Vaddr: p.Vaddr, Memsz: p.Memsz}
		}
	}

	f.secCat = make([]Category, len(f.elf.Sections))
	for i, sec := range f.elf.Sections {
		if sec.Flags&elf.SHF_ALLOC == 0 {
			continue
		}
		for _, seg := range f.Segments {
			if seg.Cat == CatTLS && sec.Flags&elf.SHF_TLS == 0 {
				continue
			}
			if sec.Addr >= seg.Vaddr && sec.Addr+sec.Size <= seg.Vaddr+seg.Memsz {
				f.secCat[i] = seg.Cat
				break
			}
		}
	}
}

// Categories returns the categories present in this object, sorted.
func (f *File) Categories() []Category {
	seen := map[Category]bool{}
	var cats []Category
	add := func(c Category) {
		if c != "" && !seen[c] {
			seen[c] = true
			cats = append(cats, c)
		}
	}
	for _, s := range f.Segments {
		add(s.Cat)
	}
	if f.Relro != nil {
		add(CatRELRO)
	}
	slices.Sort(cats)
	return cats
}

// Category classifies a virtual address. Addresses inside the RELRO overlay
// of a writable segment report RELRO.
func (f *File) Category(addr uint64) Category {
	for _, seg := range f.Segments {
		if seg.Cat == CatTLS || !seg.contains(addr) {
			continue
		}
		if f.Relro != nil && f.Relro.contains(addr) && seg.Cat != CatR && seg.Cat != CatRX {
			return CatRELRO
		}
		return seg.Cat
	}
	return ""
}

// Place returns the segment-relative value and page alignment of addr in
// category cat. TLS and RELRO addresses are relative to their own record.
func (f *File) Place(cat Category, addr uint64) (relative, align uint64) {
	align = addr % 4096
	if cat == CatRELRO && f.Relro != nil {
		return addr - f.Relro.Vaddr, align
	}
	for _, seg := range f.Segments {
		if seg.Cat == cat && seg.contains(addr) {
			return addr - seg.Vaddr, align
		}
	}
	return addr, align
}

// StaticSymbols enumerates defined OBJECT and TLS symbols with nonzero size
// from both symbol tables, categorized by enclosing segment and reclassified
// into RELRO where the overlay applies.
func (f *File) StaticSymbols() []Symbol {
	var out []Symbol
	for _, table := range [](func() ([]elf.Symbol, error)){f.elf.Symbols, f.elf.DynamicSymbols} {
		syms, err := table()
		if err != nil {
			// A missing table is normal (stripped or static objects).
			continue
		}
		for _, sym := range syms {
			st := elf.ST_TYPE(sym.Info)
			if st != elf.STT_OBJECT && st != elf.STT_TLS {
				continue
			}
			if sym.Size == 0 || sym.Section == elf.SHN_UNDEF || sym.Section >= elf.SHN_LORESERVE {
				continue
			}
			cat := CatTLS
			if st != elf.STT_TLS {
				cat = f.symbolCategory(sym)
				if cat == "" {
					continue
				}
			}
			out = append(out, Symbol{
				Name:     sym.Name,
				Value:    sym.Value,
				Size:     sym.Size,
				Cat:      cat,
				External: elf.ST_BIND(sym.Info) == elf.STB_GLOBAL,
			})
		}
	}
	return out
}

func (f *File) symbolCategory(sym elf.Symbol) Category {
	cat := Category("")
	if int(sym.Section) < len(f.secCat) {
		cat = f.secCat[sym.Section]
	}
	if cat == "" {
		cat = f.Category(sym.Value)
	}
	if f.Relro != nil && f.Relro.contains(sym.Value) && (cat == CatRW || cat == CatRWX) {
		cat = CatRELRO
	}
	return cat
}

// HasDWARF reports whether the object embeds debug information.
func (f *File) HasDWARF() bool {
	return f.elf.Section(".debug_info") != nil || f.elf.Section(".zdebug_info") != nil
}

// DWARF returns the object's debug information.
func (f *File) DWARF() (*dwarf.Data, error) {
	return f.elf.DWARF()
}

// findBuildID extracts the GNU build id from the object's note sections.
func findBuildID(ef *elf.File) string {
	for _, sec := range ef.Sections {
		if sec.Type != elf.SHT_NOTE {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			continue
		}
		if id := parseBuildIDNote(ef.ByteOrder, data); id != "" {
			return id
		}
	}
	return ""
}

func parseBuildIDNote(order binary.ByteOrder, data []byte) string {
	const ntGNUBuildID = 3
	for len(data) >= 12 {
		namesz := order.Uint32(data[0:4])
		descsz := order.Uint32(data[4:8])
		typ := order.Uint32(data[8:12])
		data = data[12:]
		nameEnd := align4(namesz)
		descEnd := align4(descsz)
		if uint64(nameEnd)+uint64(descEnd) > uint64(len(data)) {
			return ""
		}
		name := data[:namesz]
		desc := data[nameEnd : nameEnd+descsz]
		if typ == ntGNUBuildID && string(bytes.TrimRight(name, "\x00")) == "GNU" {
			return hex.EncodeToString(desc)
		}
		data = data[nameEnd+descEnd:]
	}
	return ""
}

func align4(n uint32) uint32 { return (n + 3) &^ 3 }
