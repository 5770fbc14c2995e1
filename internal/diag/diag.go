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

// Package diag collects the non-fatal diagnostics of a run: warnings that
// degrade fingerprint quality and informational notes. Nothing here aborts
// processing; fatal conditions are errors.
package diag

import (
	"fmt"
	"io"
)

// Sink writes diagnostics to a stream and counts them by severity.
type Sink struct {
	W        io.Writer
	Warnings int
	Infos    int
}

// New returns a sink writing to w. A nil w discards the text but still
// counts, which is what the silent diff mode wants.
func New(w io.Writer) *Sink {
	return &Sink{W: w}
}

// Warnf records a fingerprint-quality warning.
func (s *Sink) Warnf(format string, args ...any) {
	s.Warnings++
	s.emit("warning: "+format, args...)
}

// Infof records an informational note.
func (s *Sink) Infof(format string, args ...any) {
	s.Infos++
	s.emit("note: "+format, args...)
}

func (s *Sink) emit(format string, args ...any) {
	if s.W == nil {
		return
	}
	fmt.Fprintf(s.W, format+"\n", args...)
}

// Degraded reports whether any warning was recorded, i.e. whether the
// digests of this run should be trusted less.
func (s *Sink) Degraded() bool { return s.Warnings > 0 }
