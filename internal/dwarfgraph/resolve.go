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

package dwarfgraph

import (
	"cmp"
	"debug/dwarf"
	"fmt"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Identity is the canonical identity of a type: a human-readable identifier,
// the total size in bytes (element size times all array factors), and a
// stable 64-bit fingerprint. The hash is authoritative for comparison; the
// identifier is a byproduct for humans.
type Identity struct {
	Identifier string
	Size       int64
	Hash       uint64
}

// HexHash renders the fingerprint the way it participates in digests.
func (id Identity) HexHash() string { return fmt.Sprintf("%016x", id.Hash) }

type identity struct {
	id   string
	hash uint64
	busy bool // cycle guard while this slot is being computed
}

// Resolver folds type DIEs into [Identity] values.
//
// Resolution is memoized with two slots per DIE: deep (aggregate members
// fully expanded) and flat (members unexpanded). Recursing through a pointer
// switches the subtree to flat permanently, which is what breaks cycles: the
// pointee contributes its tag and name but never its member list, so every
// recursive call descends strictly toward a leaf.
//
// The aliases and names switches are immutable for the life of the resolver;
// they participate in the cache key by virtue of the caches living on the
// DIEs of a store that is never shared between configurations.
type Resolver struct {
	store   *Store
	aliases bool
	names   bool
}

// NewResolver returns a resolver over s. aliases controls whether typedef
// and const decorations are visible; names controls whether type names are
// mixed into identifiers and hashes.
func NewResolver(s *Store, aliases, names bool) *Resolver {
	return &Resolver{store: s, aliases: aliases, names: names}
}

// Store returns the DIE store the resolver reads from.
func (r *Resolver) Store() *Store { return r.store }

// Type resolves the deep identity of the type DIE at off inside unit.
func (r *Resolver) Type(unit int, off dwarf.Offset) (Identity, error) {
	die := r.store.Lookup(unit, off)
	if die == nil {
		return Identity{}, fmt.Errorf("%w: dangling type reference %#x in unit %d", ErrStructure, off, unit)
	}
	return r.resolve(unit, die, true)
}

const (
	slotDeep = 0
	slotFlat = 1
)

func (r *Resolver) resolve(unit int, die *DIE, deep bool) (Identity, error) {
	// Even a DIE without children (a typedef, const, array or member) can
	// differ between modes through its referent, so each mode has its own slot.
	slot := slotDeep
	if !deep {
		slot = slotFlat
	}
	if m := die.memo[slot]; m != nil {
		if m.busy {
			return Identity{}, fmt.Errorf("%w: type cycle without pointer through offset %#x", ErrStructure, die.Offset)
		}
		return Identity{Identifier: m.id, Size: die.totalSize, Hash: m.hash}, nil
	}
	guard := &identity{busy: true}
	die.memo[slot] = guard

	id, err := r.compute(unit, die, deep)
	if err != nil {
		die.memo[slot] = nil
		return Identity{}, err
	}
	die.memo[slot] = &identity{id: id.Identifier, hash: id.Hash}
	return id, nil
}

func (r *Resolver) compute(unit int, die *DIE, deep bool) (Identity, error) {
	// Alias tags are fully transparent when alias decoration is off: both
	// identifier and hash are exactly those of the referent.
	if (die.Tag == TagTypedef || die.Tag == TagConst) && !r.aliases && die.HasType {
		ref := r.store.Lookup(unit, die.Type)
		if ref == nil {
			return Identity{}, fmt.Errorf("%w: dangling type reference %#x in unit %d", ErrStructure, die.Type, unit)
		}
		id, err := r.resolve(unit, ref, deep)
		if err != nil {
			return Identity{}, err
		}
		if err := r.cacheSize(die, id.Size, 1); err != nil {
			return Identity{}, err
		}
		return id, nil
	}

	h := xxhash.New()
	ident := ""
	var size int64
	var factor int64 = 1
	includeMembers := false

	h.WriteString("%" + die.Tag.String())

	switch die.Tag {
	case TagStructure:
		ident = "struct"
		includeMembers = true
	case TagClass:
		ident = "class"
		includeMembers = true
	case TagUnion:
		ident = "union"
		includeMembers = true
	case TagEnumeration:
		ident = "enum"
		includeMembers = true
	case TagConst:
		ident = "const"
	case TagTypedef:
		ident = "typedef"
	case TagPointer:
		// Everything below a pointer is fingerprinted flat.
		deep = false
	}

	if die.Name != "" && r.names {
		h.WriteString("." + die.Name)
		if ident != "" {
			ident += " "
		}
		ident += die.Name
	}

	if includeMembers && deep {
		ident += " { "
		var memberErr error
		r.store.Children(unit, die, func(child *DIE) bool {
			switch child.Tag {
			case TagMember:
				cid, err := r.resolve(unit, child, deep)
				if err != nil {
					memberErr = err
					return false
				}
				h.WriteString(">" + cid.HexHash())
				ident += cid.Identifier
				// Member offsets matter: padding is part of the layout.
				if child.HasMemberOffset {
					h.WriteString("@" + strconv.FormatInt(child.MemberOffset, 10))
					ident += " @ " + strconv.FormatInt(child.MemberOffset, 10)
				}
				ident += "; "
			case TagEnumerator:
				v := strconv.FormatInt(child.ConstValue, 10)
				h.WriteString(">" + child.Name + "=" + v)
				ident += child.Name + " = " + v + "; "
			}
			return true
		})
		if memberErr != nil {
			return Identity{}, memberErr
		}
		ident += "}"
	}

	if die.HasType {
		ref := r.store.Lookup(unit, die.Type)
		if ref == nil {
			return Identity{}, fmt.Errorf("%w: dangling type reference %#x in unit %d", ErrStructure, die.Type, unit)
		}
		tid, err := r.resolve(unit, ref, deep)
		if err != nil {
			return Identity{}, err
		}
		if ident != "" {
			ident += "(" + tid.Identifier + ")"
		} else {
			ident = tid.Identifier
		}
		size = tid.Size
		h.WriteString("#" + tid.HexHash())
	}

	switch die.Tag {
	case TagPointer:
		ident += "*"
	case TagArray:
		r.store.Children(unit, die, func(child *DIE) bool {
			if child.Tag != TagSubrange {
				return true
			}
			lower := child.LowerBound
			if !child.HasUpperBound {
				// Flexible array member: contributes no elements.
				h.WriteString("[" + strconv.FormatInt(lower, 10) + ":]")
				ident += "[]"
				factor = 0
				return true
			}
			n := child.UpperBound - lower + 1
			h.WriteString("[" + strconv.FormatInt(lower, 10) + ":" + strconv.FormatInt(child.UpperBound, 10) + "]")
			ident += "[" + strconv.FormatInt(n, 10) + "]"
			factor *= n
			return true
		})
	}

	// An explicit byte size overrides whatever propagated from the referent.
	// A pointer always has one, so its size never leaks from the pointee.
	if die.HasByteSize {
		size = die.ByteSize
	}

	if die.Encoding != "" {
		h.WriteString(die.Encoding)
		enc := strconv.FormatInt(size, 10) + " byte " + die.Encoding
		if ident != "" {
			ident += "(" + enc + ")"
		} else {
			ident = enc
		}
	}

	h.WriteString(":" + strconv.FormatInt(size, 10) + "*" + strconv.FormatInt(factor, 10))

	if err := r.cacheSize(die, size, factor); err != nil {
		return Identity{}, err
	}
	return Identity{Identifier: ident, Size: die.totalSize, Hash: h.Sum64()}, nil
}

// cacheSize records factor*size on the DIE. Deep and flat walks must agree;
// a recomputation that differs is a consistency failure in the input.
func (r *Resolver) cacheSize(die *DIE, size, factor int64) error {
	total := factor * size
	if die.hasTotalSize {
		if die.totalSize != total {
			return fmt.Errorf("%w: size of DIE %#x resolved to both %d and %d",
				ErrStructure, die.Offset, die.totalSize, total)
		}
		return nil
	}
	die.totalSize = total
	die.hasTotalSize = true
	return nil
}

// Enumerator is one named constant of an enumeration.
type Enumerator struct {
	Name  string
	Value int64
}

// TypeRecord is one aggregate type as it participates in the type-set digest.
type TypeRecord struct {
	Identity
	Name string // the aggregate's own name, "" when anonymous
	Unit int

	// Enumerators holds an enumeration's constants sorted by value, for
	// declaration-style listings. The identifier and hash keep the DIE
	// encounter order; only this view is sorted.
	Enumerators []Enumerator
}

// Aggregates resolves every struct, class, union and enumeration in the
// store, sorted by identifier then hash. The result is independent of which
// variables use which types.
func (r *Resolver) Aggregates() ([]TypeRecord, error) {
	var types []TypeRecord
	var resolveErr error
	r.store.Each(func(unit int, die *DIE) bool {
		if !die.Tag.IsAggregate() {
			return true
		}
		id, err := r.resolve(unit, die, true)
		if err != nil {
			resolveErr = err
			return false
		}
		rec := TypeRecord{Identity: id, Name: die.Name, Unit: unit}
		if die.Tag == TagEnumeration {
			r.store.Children(unit, die, func(child *DIE) bool {
				if child.Tag == TagEnumerator {
					rec.Enumerators = append(rec.Enumerators, Enumerator{
						Name:  child.Name,
						Value: child.ConstValue,
					})
				}
				return true
			})
			slices.SortFunc(rec.Enumerators, func(a, b Enumerator) int {
				if c := cmp.Compare(a.Value, b.Value); c != 0 {
					return c
				}
				return cmp.Compare(a.Name, b.Name)
			})
		}
		types = append(types, rec)
		return true
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	slices.SortFunc(types, func(a, b TypeRecord) int {
		if c := cmp.Compare(a.Identifier, b.Identifier); c != 0 {
			return c
		}
		return cmp.Compare(a.Hash, b.Hash)
	})
	return types, nil
}
