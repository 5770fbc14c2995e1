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

// Package dwarfgraph rebuilds the DIE forest of a binary's debug information
// and folds its type graph into canonical identifiers and stable fingerprints.
//
// The entry point is [Parse], which consumes a [dwarf.Data] and produces a
// [Store]: one flat DIE vector per compile unit, with parent/child links and
// an offset index. A [Resolver] over the store computes type identities, and
// [Resolver.Variables] extracts the statically allocated variables.
package dwarfgraph

import (
	"debug/dwarf"
	"errors"
	"fmt"
	"strconv"

	"go.elfvars.dev/elfvars/internal/debug"
)

// ErrStructure reports a malformed DIE forest: a depth discontinuity, a
// dangling reference, or a cached size that disagrees with a recomputation.
// It is fatal for the file being processed.
var ErrStructure = errors.New("debug info structure violation")

// Tag is the closed vocabulary of DIE tags the layout walker cares about.
// Everything else maps to [TagOther] and is carried only for tree shape.
type Tag uint8

const (
	TagOther Tag = iota
	TagCompileUnit
	TagStructure
	TagClass
	TagUnion
	TagEnumeration
	TagEnumerator
	TagTypedef
	TagConst
	TagPointer
	TagArray
	TagSubrange
	TagBase
	TagMember
	TagVariable
)

var tagNames = [...]string{
	TagOther:       "other",
	TagCompileUnit: "compile_unit",
	TagStructure:   "structure_type",
	TagClass:       "class_type",
	TagUnion:       "union_type",
	TagEnumeration: "enumeration_type",
	TagEnumerator:  "enumerator",
	TagTypedef:     "typedef",
	TagConst:       "const_type",
	TagPointer:     "pointer_type",
	TagArray:       "array_type",
	TagSubrange:    "subrange_type",
	TagBase:        "base_type",
	TagMember:      "member",
	TagVariable:    "variable",
}

func (t Tag) String() string { return tagNames[t] }

// IsAggregate reports whether the tag describes a user-defined aggregate
// (the tags whose identities make up the type-set digest).
func (t Tag) IsAggregate() bool {
	switch t {
	case TagStructure, TagClass, TagUnion, TagEnumeration:
		return true
	}
	return false
}

func tagOf(t dwarf.Tag) Tag {
	switch t {
	case dwarf.TagCompileUnit:
		return TagCompileUnit
	case dwarf.TagStructType:
		return TagStructure
	case dwarf.TagClassType:
		return TagClass
	case dwarf.TagUnionType:
		return TagUnion
	case dwarf.TagEnumerationType:
		return TagEnumeration
	case dwarf.TagEnumerator:
		return TagEnumerator
	case dwarf.TagTypedef:
		return TagTypedef
	case dwarf.TagConstType:
		return TagConst
	case dwarf.TagPointerType:
		return TagPointer
	case dwarf.TagArrayType:
		return TagArray
	case dwarf.TagSubrangeType:
		return TagSubrange
	case dwarf.TagBaseType:
		return TagBase
	case dwarf.TagMember:
		return TagMember
	case dwarf.TagVariable:
		return TagVariable
	}
	return TagOther
}

// DIE is one attributed node of a compile-unit-local tree.
//
// DIEs are created once during parse; the only post-parse mutation is the
// memoization of resolved type identity ([Resolver]).
type DIE struct {
	Offset   dwarf.Offset
	Tag      Tag
	Name     string
	Decl     string // "file:line[:column]", folded from the declaration attrs
	External bool

	Type    dwarf.Offset // referent of the type attribute
	HasType bool

	ByteSize    int64
	HasByteSize bool

	MemberOffset    int64 // byte offset within the parent aggregate
	HasMemberOffset bool

	Encoding string // base types only; "" otherwise

	ConstValue    int64 // enumerators only
	HasConstValue bool

	LowerBound    int64 // subranges only
	UpperBound    int64
	HasUpperBound bool

	Location []byte // raw DWARF expression; nil if absent

	parent   int32
	children []int32

	// Memoization slots for the resolver: deep and flat identity, plus the
	// total size shared by both.
	memo         [2]*identity
	totalSize    int64
	hasTotalSize bool
}

// Event is one decoded DIE from the debug-info collaborator: a depth, an
// offset, a tag, and the attributes the walker consumes. [Store.Insert]
// rebuilds the forest from the event stream.
type Event struct {
	Level int
	DIE   DIE
}

// Unit is one compile unit's worth of DIEs, indexed by a compact local id.
type Unit struct {
	dies []DIE
	ids  map[dwarf.Offset]int32
}

// Len returns the number of DIEs in the unit.
func (u *Unit) Len() int { return len(u.dies) }

// Store is the DIE forest of one binary. It is owned by exactly one file and
// never shared, so the memoization attached to its DIEs needs no locking.
type Store struct {
	units []Unit

	// Reconstruction state: depth and local id of the last inserted DIE.
	level int
	last  int32
}

// NewStore returns an empty store ready for [Store.Insert].
func NewStore() *Store { return &Store{} }

// Units returns the number of compile units parsed so far.
func (s *Store) Units() int { return len(s.units) }

// Lookup returns the DIE at the given offset inside unit, or nil.
func (s *Store) Lookup(unit int, off dwarf.Offset) *DIE {
	if unit < 0 || unit >= len(s.units) {
		return nil
	}
	u := &s.units[unit]
	id, ok := u.ids[off]
	if !ok {
		return nil
	}
	return &u.dies[id]
}

func (s *Store) die(unit int, id int32) *DIE {
	return &s.units[unit].dies[id]
}

// Children iterates over the direct children of die in textual order.
func (s *Store) Children(unit int, die *DIE, yield func(*DIE) bool) {
	for _, id := range die.children {
		if !yield(s.die(unit, id)) {
			return
		}
	}
}

// Each calls yield for every DIE of every unit, in the order encountered.
func (s *Store) Each(yield func(unit int, die *DIE) bool) {
	for i := range s.units {
		for j := range s.units[i].dies {
			if !yield(i, &s.units[i].dies[j]) {
				return
			}
		}
	}
}

// Insert appends one event to the forest, linking it to its parent according
// to the reconstruction rule:
//
//   - level 0 starts a fresh compile unit whose root is its own parent;
//   - level == last+1 nests under the last inserted DIE;
//   - level <= last's level climbs from the last DIE's parent upward.
//
// A depth discontinuity is fatal.
func (s *Store) Insert(ev Event) error {
	die := ev.DIE
	l := ev.Level

	if l == 0 || die.Tag == TagCompileUnit {
		if l != 0 || die.Tag != TagCompileUnit {
			return fmt.Errorf("%w: compile unit at depth %d (offset %#x)", ErrStructure, l, die.Offset)
		}
		s.units = append(s.units, Unit{ids: make(map[dwarf.Offset]int32)})
		die.parent = 0
		s.level = 0
		s.last = 0
		return s.append(die)
	}

	if len(s.units) == 0 {
		return fmt.Errorf("%w: DIE %#x before any compile unit", ErrStructure, die.Offset)
	}

	unit := len(s.units) - 1
	var parent int32
	switch {
	case l > s.level:
		if l != s.level+1 {
			return fmt.Errorf("%w: depth jump from %d to %d at offset %#x", ErrStructure, s.level, l, die.Offset)
		}
		parent = s.last
	default:
		parent = s.die(unit, s.last).parent
		for n := s.level - l; n > 0; n-- {
			parent = s.die(unit, parent).parent
		}
	}
	s.level = l

	die.parent = parent
	id := int32(len(s.units[unit].dies))
	s.die(unit, parent).children = append(s.die(unit, parent).children, id)
	return s.append(die)
}

func (s *Store) append(die DIE) error {
	unit := len(s.units) - 1
	u := &s.units[unit]
	if _, dup := u.ids[die.Offset]; dup {
		return fmt.Errorf("%w: duplicate DIE offset %#x in unit %d", ErrStructure, die.Offset, unit)
	}
	id := int32(len(u.dies))
	u.ids[die.Offset] = id
	u.dies = append(u.dies, die)
	s.last = id
	debug.Log(nil, "insert", "unit=%d id=%d tag=%v off=%#x", unit, id, die.Tag, die.Offset)
	return nil
}

// Parse consumes the DIE stream of d and rebuilds the forest. Depth is
// tracked from the reader's nesting (an entry with children opens a level, a
// null entry closes it), preserving per-unit grouping.
func Parse(d *dwarf.Data) (*Store, error) {
	s := NewStore()
	r := d.Reader()
	depth := 0
	var files []*dwarf.LineFile
	for {
		e, err := r.Next()
		if err != nil {
			return nil, err
		}
		if e == nil {
			break
		}
		if e.Tag == 0 {
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unbalanced null entry", ErrStructure)
			}
			continue
		}
		if e.Tag == dwarf.TagCompileUnit {
			files = nil
			if lr, err := d.LineReader(e); err == nil && lr != nil {
				files = lr.Files()
			}
		}
		ev, err := eventOf(depth, e, files)
		if err != nil {
			return nil, err
		}
		if err := s.Insert(ev); err != nil {
			return nil, err
		}
		if e.Children {
			depth++
		}
	}
	return s, nil
}

func eventOf(depth int, e *dwarf.Entry, files []*dwarf.LineFile) (Event, error) {
	die := DIE{Offset: e.Offset, Tag: tagOf(e.Tag)}

	var declFile, declLine, declCol int64
	hasDecl := false
	for _, f := range e.Field {
		switch f.Attr {
		case dwarf.AttrName:
			if v, ok := f.Val.(string); ok {
				die.Name = v
			}
		case dwarf.AttrType:
			if v, ok := f.Val.(dwarf.Offset); ok {
				die.Type = v
				die.HasType = true
			}
		case dwarf.AttrByteSize:
			if v, ok := intAttr(f.Val); ok {
				die.ByteSize = v
				die.HasByteSize = true
			} else {
				return Event{}, fmt.Errorf("%w: non-integer byte size at offset %#x", ErrStructure, e.Offset)
			}
		case dwarf.AttrDataMemberLoc:
			// Only plain integer offsets participate; expression-valued
			// member locations (virtual bases) stay opaque.
			if v, ok := intAttr(f.Val); ok {
				die.MemberOffset = v
				die.HasMemberOffset = true
			}
		case dwarf.AttrEncoding:
			if v, ok := intAttr(f.Val); ok {
				die.Encoding = encodingName(v)
			}
		case dwarf.AttrConstValue:
			if v, ok := intAttr(f.Val); ok {
				die.ConstValue = v
				die.HasConstValue = true
			}
		case dwarf.AttrLowerBound:
			if v, ok := intAttr(f.Val); ok {
				die.LowerBound = v
			}
		case dwarf.AttrUpperBound:
			if v, ok := intAttr(f.Val); ok {
				die.UpperBound = v
				die.HasUpperBound = true
			}
		case dwarf.AttrCount:
			// Some producers emit a count instead of an upper bound.
			if v, ok := intAttr(f.Val); ok && v > 0 {
				die.UpperBound = v - 1
				die.HasUpperBound = true
			}
		case dwarf.AttrLocation:
			if v, ok := f.Val.([]byte); ok {
				die.Location = v
			}
		case dwarf.AttrExternal:
			if v, ok := f.Val.(bool); ok {
				die.External = v
			}
		case dwarf.AttrDeclFile:
			if v, ok := intAttr(f.Val); ok {
				declFile = v
				hasDecl = true
			}
		case dwarf.AttrDeclLine:
			if v, ok := intAttr(f.Val); ok {
				declLine = v
			}
		case dwarf.AttrDeclColumn:
			if v, ok := intAttr(f.Val); ok {
				declCol = v
			}
		}
	}

	if hasDecl && declLine > 0 {
		die.Decl = declName(files, declFile) + ":" + strconv.FormatInt(declLine, 10)
		if declCol > 0 {
			die.Decl += ":" + strconv.FormatInt(declCol, 10)
		}
	}
	return Event{Level: depth, DIE: die}, nil
}

// declName resolves a decl_file index against the unit's line table. Failure
// degrades to the bare index; the decl string is informational only.
func declName(files []*dwarf.LineFile, idx int64) string {
	if idx < 0 || idx >= int64(len(files)) || files[idx] == nil {
		return strconv.FormatInt(idx, 10)
	}
	return files[idx].Name
}

func intAttr(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

// encodingName maps DW_ATE_* constants to the names a human would read in a
// dump. Unknown encodings keep their numeric form.
func encodingName(enc int64) string {
	switch enc {
	case 0x01:
		return "address"
	case 0x02:
		return "boolean"
	case 0x03:
		return "complex float"
	case 0x04:
		return "float"
	case 0x05:
		return "signed"
	case 0x06:
		return "signed char"
	case 0x07:
		return "unsigned"
	case 0x08:
		return "unsigned char"
	case 0x09:
		return "imaginary float"
	case 0x0a:
		return "packed decimal"
	case 0x0b:
		return "numeric string"
	case 0x0c:
		return "edited"
	case 0x0d:
		return "signed fixed"
	case 0x0e:
		return "unsigned fixed"
	case 0x0f:
		return "decimal float"
	case 0x10:
		return "UTF"
	case 0x11:
		return "UCS"
	case 0x12:
		return "ASCII"
	}
	return "encoding " + strconv.FormatInt(enc, 10)
}
