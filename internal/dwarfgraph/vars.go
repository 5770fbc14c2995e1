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

import "encoding/binary"

// Variable is one statically allocated variable paired with its resolved
// type identity. Value is a virtual address, or a TLS-base-relative offset
// when TLS is set.
type Variable struct {
	Name     string
	Value    uint64
	Size     int64
	External bool
	TLS      bool
	Type     Identity
	Decl     string
	Unit     int
}

// DWARF expression opcodes for the two location shapes that describe static
// storage. Everything else (frame-relative, register, optimized-out) is
// skipped on purpose.
const (
	opAddr           = 0x03
	opConst1u        = 0x08
	opConst1s        = 0x09
	opConst2u        = 0x0a
	opConst2s        = 0x0b
	opConst4u        = 0x0c
	opConst4s        = 0x0d
	opConst8u        = 0x0e
	opConst8s        = 0x0f
	opConstu         = 0x10
	opConsts         = 0x11
	opFormTLSAddress = 0x9b
	opGNUPushTLSAddr = 0xe0
)

// decodeLocation recognizes the two admissible location shapes:
//
//	DW_OP_addr <address>
//	DW_OP_const<n><u|s> <offset> DW_OP_{GNU_push,form}_tls_address
//
// ok is false for every other expression.
func decodeLocation(expr []byte) (value uint64, tls, ok bool) {
	if len(expr) == 0 {
		return 0, false, false
	}
	op, rest := expr[0], expr[1:]

	if op == opAddr {
		switch len(rest) {
		case 4:
			return uint64(binary.LittleEndian.Uint32(rest)), false, true
		case 8:
			return binary.LittleEndian.Uint64(rest), false, true
		}
		return 0, false, false
	}

	v, rest, ok := decodeConst(op, rest)
	if !ok || len(rest) != 1 {
		return 0, false, false
	}
	if rest[0] != opGNUPushTLSAddr && rest[0] != opFormTLSAddress {
		return 0, false, false
	}
	return v, true, true
}

func decodeConst(op byte, rest []byte) (uint64, []byte, bool) {
	fixed := func(n int) (uint64, []byte, bool) {
		if len(rest) < n {
			return 0, nil, false
		}
		var v uint64
		for i := n - 1; i >= 0; i-- {
			v = v<<8 | uint64(rest[i])
		}
		return v, rest[n:], true
	}
	switch op {
	case opConst1u, opConst1s:
		return fixed(1)
	case opConst2u, opConst2s:
		return fixed(2)
	case opConst4u, opConst4s:
		return fixed(4)
	case opConst8u, opConst8s:
		return fixed(8)
	case opConstu:
		return uleb(rest)
	case opConsts:
		// TLS offsets are non-negative; decode the sleb and reinterpret.
		v, rest, ok := sleb(rest)
		return uint64(v), rest, ok
	}
	return 0, nil, false
}

func uleb(b []byte) (uint64, []byte, bool) {
	var v uint64
	var shift uint
	for i, c := range b {
		v |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, b[i+1:], true
		}
		shift += 7
		if shift >= 64 {
			break
		}
	}
	return 0, nil, false
}

func sleb(b []byte) (int64, []byte, bool) {
	var v int64
	var shift uint
	for i, c := range b {
		v |= int64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			if shift < 64 && c&0x40 != 0 {
				v |= -1 << shift
			}
			return v, b[i+1:], true
		}
		if shift >= 64 {
			break
		}
	}
	return 0, nil, false
}

// Variables walks every variable DIE and admits those that carry a type
// reference and a static location. When tls is true only TLS-resident
// variables are returned, otherwise only absolute ones.
func (r *Resolver) Variables(tls bool) ([]Variable, error) {
	var vars []Variable
	var walkErr error
	r.store.Each(func(unit int, die *DIE) bool {
		if die.Tag != TagVariable || !die.HasType || die.Location == nil {
			return true
		}
		value, isTLS, ok := decodeLocation(die.Location)
		if !ok || isTLS != tls {
			return true
		}
		id, err := r.Type(unit, die.Type)
		if err != nil {
			walkErr = err
			return false
		}
		vars = append(vars, Variable{
			Name:     die.Name,
			Value:    value,
			Size:     id.Size,
			External: die.External,
			TLS:      isTLS,
			Type:     id,
			Decl:     die.Decl,
			Unit:     unit,
		})
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return vars, nil
}
