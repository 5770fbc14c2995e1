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

//go:build debug

// Package debug includes debugging helpers.
package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Enabled is true if the binary is being built with the debug tag, which
// enables trace logging in the DIE store.
const Enabled = true

// Log prints debugging information to stderr.
//
// context is optional args for fmt.Printf that are printed before operation,
// to identify a set of related operations.
func Log(context []any, operation string, format string, args ...any) {
	pc, file, line, _ := runtime.Caller(1)
	fn := runtime.FuncForPC(pc)
	pkg := "?"
	if fn != nil {
		name := fn.Name()
		if i := strings.LastIndex(name, "/"); i >= 0 {
			name = name[i+1:]
		}
		pkg, _, _ = strings.Cut(name, ".")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s/%s:%d: ", pkg, filepath.Base(file), line)
	for _, c := range context {
		fmt.Fprintf(&sb, "%v ", c)
	}
	sb.WriteString(operation)
	if format != "" {
		sb.WriteString(": ")
		fmt.Fprintf(&sb, format, args...)
	}
	sb.WriteString("\n")
	os.Stderr.WriteString(sb.String())
}
