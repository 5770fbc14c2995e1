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

package dwarfgraph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.elfvars.dev/elfvars/internal/dwarfgraph"
)

// intBase is a 4-byte signed base type at offset 0x10.
func intBase() dwarfgraph.Event {
	return ev(1, dwarfgraph.DIE{
		Offset: 0x10, Tag: dwarfgraph.TagBase, Name: "int",
		ByteSize: 4, HasByteSize: true, Encoding: "signed",
	})
}

func cu() dwarfgraph.Event {
	return ev(0, dwarfgraph.DIE{Offset: 0x0b, Tag: dwarfgraph.TagCompileUnit})
}

func TestBaseType(t *testing.T) {
	t.Parallel()

	s := build(t, cu(), intBase())
	r := dwarfgraph.NewResolver(s, false, true)

	id, err := r.Type(0, 0x10)
	require.NoError(t, err)
	assert.Equal(t, "int(4 byte signed)", id.Identifier)
	assert.EqualValues(t, 4, id.Size)
	assert.NotZero(t, id.Hash)
}

// listNode builds struct node { struct node *next; int value; } with the
// pointer cycle back to itself.
func listNode() []dwarfgraph.Event {
	return []dwarfgraph.Event{
		cu(),
		intBase(),
		ev(1, dwarfgraph.DIE{
			Offset: 0x20, Tag: dwarfgraph.TagStructure, Name: "node",
			ByteSize: 16, HasByteSize: true,
		}),
		ev(2, dwarfgraph.DIE{
			Offset: 0x28, Tag: dwarfgraph.TagMember, Name: "next",
			Type: 0x40, HasType: true, MemberOffset: 0, HasMemberOffset: true,
		}),
		ev(2, dwarfgraph.DIE{
			Offset: 0x30, Tag: dwarfgraph.TagMember, Name: "value",
			Type: 0x10, HasType: true, MemberOffset: 8, HasMemberOffset: true,
		}),
		ev(1, dwarfgraph.DIE{
			Offset: 0x40, Tag: dwarfgraph.TagPointer,
			Type: 0x20, HasType: true, ByteSize: 8, HasByteSize: true,
		}),
	}
}

func TestPointerCycleTerminates(t *testing.T) {
	t.Parallel()

	s := build(t, listNode()...)
	r := dwarfgraph.NewResolver(s, false, true)

	id, err := r.Type(0, 0x20)
	require.NoError(t, err)
	assert.EqualValues(t, 16, id.Size)
	assert.Contains(t, id.Identifier, "struct node")
	assert.Contains(t, id.Identifier, "*")

	// Memoized recomputation is stable.
	again, err := r.Type(0, 0x20)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestDeterminismAcrossStores(t *testing.T) {
	t.Parallel()

	a := dwarfgraph.NewResolver(build(t, listNode()...), false, true)
	b := dwarfgraph.NewResolver(build(t, listNode()...), false, true)

	ida, err := a.Type(0, 0x20)
	require.NoError(t, err)
	idb, err := b.Type(0, 0x20)
	require.NoError(t, err)
	assert.Equal(t, ida, idb)
}

func TestPointerSizeIndependentOfPointee(t *testing.T) {
	t.Parallel()

	s := build(t, listNode()...)
	r := dwarfgraph.NewResolver(s, false, true)

	id, err := r.Type(0, 0x40)
	require.NoError(t, err)
	assert.EqualValues(t, 8, id.Size)
}

// typedefChain builds typedef A -> typedef B -> int.
func typedefChain() []dwarfgraph.Event {
	return []dwarfgraph.Event{
		cu(),
		intBase(),
		ev(1, dwarfgraph.DIE{Offset: 0x50, Tag: dwarfgraph.TagTypedef, Name: "B", Type: 0x10, HasType: true}),
		ev(1, dwarfgraph.DIE{Offset: 0x58, Tag: dwarfgraph.TagTypedef, Name: "A", Type: 0x50, HasType: true}),
	}
}

func TestAliasTransparency(t *testing.T) {
	t.Parallel()

	s := build(t, typedefChain()...)
	r := dwarfgraph.NewResolver(s, false, true)

	direct, err := r.Type(0, 0x10)
	require.NoError(t, err)
	chained, err := r.Type(0, 0x58)
	require.NoError(t, err)

	assert.Equal(t, direct.Hash, chained.Hash)
	assert.Equal(t, direct.Identifier, chained.Identifier)
	assert.Equal(t, direct.Size, chained.Size)
}

func TestAliasesVisible(t *testing.T) {
	t.Parallel()

	s := build(t, typedefChain()...)
	r := dwarfgraph.NewResolver(s, true, true)

	direct, err := r.Type(0, 0x10)
	require.NoError(t, err)
	chained, err := r.Type(0, 0x58)
	require.NoError(t, err)

	assert.NotEqual(t, direct.Hash, chained.Hash)
	assert.Contains(t, chained.Identifier, "typedef A")
}

// namedStruct builds struct s { int <field>; } for the rename experiments.
func namedStruct(field string) []dwarfgraph.Event {
	return []dwarfgraph.Event{
		cu(),
		intBase(),
		ev(1, dwarfgraph.DIE{
			Offset: 0x20, Tag: dwarfgraph.TagStructure, Name: "s",
			ByteSize: 4, HasByteSize: true,
		}),
		ev(2, dwarfgraph.DIE{
			Offset: 0x28, Tag: dwarfgraph.TagMember, Name: field,
			Type: 0x10, HasType: true, MemberOffset: 0, HasMemberOffset: true,
		}),
	}
}

func TestNameToggleMonotonicity(t *testing.T) {
	t.Parallel()

	v := build(t, namedStruct("v")...)
	val := build(t, namedStruct("val")...)

	// Names off: a field rename is invisible.
	a, err := dwarfgraph.NewResolver(v, false, false).Type(0, 0x20)
	require.NoError(t, err)
	b, err := dwarfgraph.NewResolver(val, false, false).Type(0, 0x20)
	require.NoError(t, err)
	assert.Equal(t, a.Hash, b.Hash)

	// Names on: it changes the fingerprint.
	a, err = dwarfgraph.NewResolver(build(t, namedStruct("v")...), false, true).Type(0, 0x20)
	require.NoError(t, err)
	b, err = dwarfgraph.NewResolver(build(t, namedStruct("val")...), false, true).Type(0, 0x20)
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestMemberOffsetsMatter(t *testing.T) {
	t.Parallel()

	packed := []dwarfgraph.Event{
		cu(), intBase(),
		ev(1, dwarfgraph.DIE{Offset: 0x20, Tag: dwarfgraph.TagStructure, ByteSize: 16, HasByteSize: true}),
		ev(2, dwarfgraph.DIE{Offset: 0x28, Tag: dwarfgraph.TagMember, Type: 0x10, HasType: true, MemberOffset: 0, HasMemberOffset: true}),
		ev(2, dwarfgraph.DIE{Offset: 0x30, Tag: dwarfgraph.TagMember, Type: 0x10, HasType: true, MemberOffset: 4, HasMemberOffset: true}),
	}
	padded := []dwarfgraph.Event{
		cu(), intBase(),
		ev(1, dwarfgraph.DIE{Offset: 0x20, Tag: dwarfgraph.TagStructure, ByteSize: 16, HasByteSize: true}),
		ev(2, dwarfgraph.DIE{Offset: 0x28, Tag: dwarfgraph.TagMember, Type: 0x10, HasType: true, MemberOffset: 0, HasMemberOffset: true}),
		ev(2, dwarfgraph.DIE{Offset: 0x30, Tag: dwarfgraph.TagMember, Type: 0x10, HasType: true, MemberOffset: 8, HasMemberOffset: true}),
	}

	a, err := dwarfgraph.NewResolver(build(t, packed...), false, false).Type(0, 0x20)
	require.NoError(t, err)
	b, err := dwarfgraph.NewResolver(build(t, padded...), false, false).Type(0, 0x20)
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestArrays(t *testing.T) {
	t.Parallel()

	t.Run("bounded", func(t *testing.T) {
		t.Parallel()
		s := build(t,
			cu(), intBase(),
			ev(1, dwarfgraph.DIE{Offset: 0x60, Tag: dwarfgraph.TagArray, Type: 0x10, HasType: true}),
			ev(2, dwarfgraph.DIE{Offset: 0x68, Tag: dwarfgraph.TagSubrange, UpperBound: 9, HasUpperBound: true}),
		)
		id, err := dwarfgraph.NewResolver(s, false, true).Type(0, 0x60)
		require.NoError(t, err)
		assert.EqualValues(t, 40, id.Size)
		assert.Contains(t, id.Identifier, "[10]")
	})

	t.Run("multidimensional", func(t *testing.T) {
		t.Parallel()
		s := build(t,
			cu(), intBase(),
			ev(1, dwarfgraph.DIE{Offset: 0x60, Tag: dwarfgraph.TagArray, Type: 0x10, HasType: true}),
			ev(2, dwarfgraph.DIE{Offset: 0x68, Tag: dwarfgraph.TagSubrange, UpperBound: 2, HasUpperBound: true}),
			ev(2, dwarfgraph.DIE{Offset: 0x70, Tag: dwarfgraph.TagSubrange, UpperBound: 3, HasUpperBound: true}),
		)
		id, err := dwarfgraph.NewResolver(s, false, true).Type(0, 0x60)
		require.NoError(t, err)
		assert.EqualValues(t, 48, id.Size)
		assert.Contains(t, id.Identifier, "[3][4]")
	})

	t.Run("flexible member", func(t *testing.T) {
		t.Parallel()
		s := build(t,
			cu(), intBase(),
			ev(1, dwarfgraph.DIE{Offset: 0x60, Tag: dwarfgraph.TagArray, Type: 0x10, HasType: true}),
			ev(2, dwarfgraph.DIE{Offset: 0x68, Tag: dwarfgraph.TagSubrange}),
		)
		id, err := dwarfgraph.NewResolver(s, false, true).Type(0, 0x60)
		require.NoError(t, err)
		assert.Zero(t, id.Size)
		assert.Contains(t, id.Identifier, "[]")
	})
}

func TestEnumeration(t *testing.T) {
	t.Parallel()

	s := build(t,
		cu(),
		ev(1, dwarfgraph.DIE{Offset: 0x20, Tag: dwarfgraph.TagEnumeration, Name: "color", ByteSize: 4, HasByteSize: true}),
		ev(2, dwarfgraph.DIE{Offset: 0x28, Tag: dwarfgraph.TagEnumerator, Name: "RED", ConstValue: 0, HasConstValue: true}),
		ev(2, dwarfgraph.DIE{Offset: 0x30, Tag: dwarfgraph.TagEnumerator, Name: "BLUE", ConstValue: 1, HasConstValue: true}),
	)
	id, err := dwarfgraph.NewResolver(s, false, true).Type(0, 0x20)
	require.NoError(t, err)
	assert.Equal(t, "enum color { RED = 0; BLUE = 1; }", id.Identifier)
	assert.EqualValues(t, 4, id.Size)
}

func TestAggregates(t *testing.T) {
	t.Parallel()

	s := build(t, listNode()...)
	r := dwarfgraph.NewResolver(s, false, true)

	types, err := r.Aggregates()
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Contains(t, types[0].Identifier, "struct node")

	// The set digests identically regardless of variable placement, so the
	// record must not depend on anything but the type graph.
	again, err := dwarfgraph.NewResolver(build(t, listNode()...), false, true).Aggregates()
	require.NoError(t, err)
	assert.Equal(t, types, again)
}

func TestAggregatesSortEnumeratorsByValue(t *testing.T) {
	t.Parallel()

	// Declared out of order; the listing view sorts by constant value while
	// the identifier keeps the declaration order.
	s := build(t,
		cu(),
		ev(1, dwarfgraph.DIE{Offset: 0x20, Tag: dwarfgraph.TagEnumeration, Name: "prio", ByteSize: 4, HasByteSize: true}),
		ev(2, dwarfgraph.DIE{Offset: 0x28, Tag: dwarfgraph.TagEnumerator, Name: "HIGH", ConstValue: 2, HasConstValue: true}),
		ev(2, dwarfgraph.DIE{Offset: 0x30, Tag: dwarfgraph.TagEnumerator, Name: "LOW", ConstValue: 0, HasConstValue: true}),
		ev(2, dwarfgraph.DIE{Offset: 0x38, Tag: dwarfgraph.TagEnumerator, Name: "MID", ConstValue: 1, HasConstValue: true}),
	)
	types, err := dwarfgraph.NewResolver(s, false, true).Aggregates()
	require.NoError(t, err)
	require.Len(t, types, 1)

	assert.Equal(t, "prio", types[0].Name)
	assert.Equal(t, []dwarfgraph.Enumerator{
		{Name: "LOW", Value: 0},
		{Name: "MID", Value: 1},
		{Name: "HIGH", Value: 2},
	}, types[0].Enumerators)
	assert.Equal(t, "enum prio { HIGH = 2; LOW = 0; MID = 1; }", types[0].Identifier)
}

func TestCycleWithoutPointerIsFatal(t *testing.T) {
	t.Parallel()

	// A typedef loop cannot come out of a real compiler; the resolver must
	// refuse it instead of recursing forever.
	s := build(t,
		cu(),
		ev(1, dwarfgraph.DIE{Offset: 0x50, Tag: dwarfgraph.TagTypedef, Name: "B", Type: 0x58, HasType: true}),
		ev(1, dwarfgraph.DIE{Offset: 0x58, Tag: dwarfgraph.TagTypedef, Name: "A", Type: 0x50, HasType: true}),
	)
	_, err := dwarfgraph.NewResolver(s, true, true).Type(0, 0x58)
	assert.ErrorIs(t, err, dwarfgraph.ErrStructure)
}
