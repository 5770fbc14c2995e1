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
	"errors"

	"go.elfvars.dev/elfvars/internal/dwarfgraph"
	"go.elfvars.dev/elfvars/internal/merge"
	"go.elfvars.dev/elfvars/internal/xelf"
)

// The error taxonomy. Input errors mean the file could not be used at all;
// structural errors mean the file's debug information or its agreement with
// the symbol table is broken. Both terminate processing of the current file.
var (
	// ErrInput wraps missing or unreadable inputs and absent debug info.
	ErrInput = errors.New("input error")

	// ErrStructural wraps inconsistencies inside an input: DIE forest
	// violations, disagreeing cached sizes, category mismatches.
	ErrStructural = errors.New("structural inconsistency")
)

// classify wraps err into the taxonomy. Errors already inside it pass
// through unchanged.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInput) || errors.Is(err, ErrStructural):
		return err
	case errors.Is(err, dwarfgraph.ErrStructure) || errors.Is(err, merge.ErrMismatch):
		return errors.Join(ErrStructural, err)
	case errors.Is(err, xelf.ErrNoDebugInfo):
		return errors.Join(ErrInput, err)
	}
	return errors.Join(ErrInput, err)
}

// ExitCode maps an error to the process exit status: 0 for nil, 2 for input
// errors, 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInput):
		return 2
	}
	return 1
}
