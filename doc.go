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

// Package elfvars extracts, canonicalizes and fingerprints the static data
// layout of ELF executables and shared libraries: every global and
// thread-local variable, together with the structure of every user-defined
// type reachable through debug information.
//
// To use this package, open a binary with [Open]. The resulting [File]
// carries the merged variable records, the aggregate types, and a
// [Descriptor] whose per-category digests can be compared across builds with
// [Partition] or [Identical].
//
// # What is fingerprinted
//
// Variables are grouped by the access category of the segment they live in
// (R, RW, RX, RWX, TLS, and the RELRO overlay). Each category digests the
// ordered sequence of (name, type fingerprint, segment-relative address,
// page alignment, size) tuples. Type fingerprints fold the full member
// structure of aggregates; pointer cycles are broken by fingerprinting
// pointees without their member lists.
//
// The following inputs deliberately do not participate:
//
//   - Dynamic or runtime state, code, and the call graph.
//   - Stack-resident, register-resident and optimized-out variables.
//   - Mangled-name demangling; names are compared as the producer wrote them.
package elfvars
