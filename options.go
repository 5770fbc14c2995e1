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

import "io"

type options struct {
	aliases      bool
	names        bool
	writableOnly bool
	typeSet      bool
	root         string
	dbgsym       bool
	debuginfod   []string
	diagW        io.Writer
}

// Option is a configuration setting for [Open].
type Option func(*options)

// WithAliases makes typedef and const qualifiers visible in identifiers and
// fingerprints. Off, alias chains are transparent: a typedef of int
// fingerprints exactly like int.
func WithAliases(enabled bool) Option {
	return func(o *options) { o.aliases = enabled }
}

// WithNames mixes type, member and variable names into identifiers and
// digests. Off, only structure matters, so renaming a field does not change
// a fingerprint.
func WithNames(enabled bool) Option {
	return func(o *options) { o.names = enabled }
}

// WithWritableOnly restricts the descriptor to writable and TLS categories,
// the tighter ABI view.
func WithWritableOnly(enabled bool) Option {
	return func(o *options) { o.writableOnly = enabled }
}

// WithTypeSetDigest adds a digest over all declared aggregate types,
// independent of which variables instantiate them.
func WithTypeSetDigest(enabled bool) Option {
	return func(o *options) { o.typeSet = enabled }
}

// WithRoot prefixes every external debug-file lookup path, the way a
// sysroot does.
func WithRoot(root string) Option {
	return func(o *options) { o.root = root }
}

// WithDebugLookup enables searching for external debug files when the
// object embeds no DWARF. urls optionally names debuginfod services to
// query by build id after the filesystem paths are exhausted.
func WithDebugLookup(enabled bool, urls ...string) Option {
	return func(o *options) {
		o.dbgsym = enabled
		o.debuginfod = urls
	}
}

// WithDiagnostics directs warnings and notes to w. By default diagnostics
// are counted but not written anywhere.
func WithDiagnostics(w io.Writer) Option {
	return func(o *options) { o.diagW = w }
}
