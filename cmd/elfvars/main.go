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

// Command elfvars fingerprints the static data layout of ELF binaries.
//
// Without a subcommand it digests each input file per memory category and
// partitions the inputs into equivalence classes; with --identical it is
// silent and answers through the exit status. The variables, datatypes and
// globals subcommands dump the underlying records.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"go.elfvars.dev/elfvars"
)

type flags struct {
	configPath   string
	aliases      bool
	names        bool
	source       bool
	tls          bool
	jsonOut      bool
	verbose      bool
	writable     bool
	identical    bool
	root         string
	dbgsym       bool
	dbgsymExtern bool
	datatypes    bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "elfvars:", err)
		os.Exit(elfvars.ExitCode(err))
	}
}

// errNotIdentical distinguishes the diff verdict from real failures; it maps
// to exit status 1 without a message under --identical.
type errNotIdentical struct{}

func (errNotIdentical) Error() string { return "input files are not identical" }

func run() error {
	var fl flags

	root := &cobra.Command{
		Use:          "elfvars [flags] FILE...",
		Short:        "fingerprint the static data layout of ELF binaries",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return digestCmd(&fl, args)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&fl.configPath, "config", "", "YAML file with lookup and fingerprint defaults")
	pf.BoolVarP(&fl.aliases, "aliases", "a", false, "make typedef and const decorations visible")
	pf.BoolVarP(&fl.names, "names", "n", false, "mix type, member and variable names into fingerprints")
	pf.StringVar(&fl.root, "root", "", "sysroot prefix for external debug file lookup")
	pf.BoolVar(&fl.dbgsym, "dbgsym", false, "search for external debug files when DWARF is not embedded")
	pf.BoolVar(&fl.dbgsymExtern, "dbgsym-extern", false, "also query debuginfod services by build id")
	pf.BoolVarP(&fl.verbose, "verbose", "v", false, "verbose output")

	df := root.Flags()
	df.BoolVarP(&fl.writable, "writable", "w", false, "restrict to writable and TLS categories")
	df.BoolVarP(&fl.identical, "identical", "i", false, "no output; exit 0 iff all files are identical")
	df.BoolVarP(&fl.datatypes, "datatypes", "d", false, "include the type-set digest")

	vars := &cobra.Command{
		Use:   "variables FILE...",
		Short: "enumerate static and TLS variables",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return variablesCmd(&fl, args)
		},
	}
	vars.Flags().BoolVarP(&fl.source, "source", "s", false, "append the declaration source as a comment")
	vars.Flags().BoolVarP(&fl.tls, "tls", "t", false, "thread-local variables only")
	vars.Flags().BoolVarP(&fl.jsonOut, "json", "j", false, "emit JSON")

	data := &cobra.Command{
		Use:   "datatypes FILE...",
		Short: "enumerate aggregate types with their fingerprints",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return datatypesCmd(&fl, args)
		},
	}

	globals := &cobra.Command{
		Use:   "globals FILE...",
		Short: "emit equivalent declarations for types and variables",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return globalsCmd(&fl, args)
		},
	}
	globals.Flags().BoolVarP(&fl.source, "source", "s", false, "include declaration source comments")

	root.AddCommand(vars, data, globals)

	err := root.Execute()
	if _, ok := err.(errNotIdentical); ok {
		os.Exit(1)
	}
	return err
}

// open loads one file with the effective option set. A boolean switch is on
// when either the config file or its flag turns it on; a flag cannot turn
// off a switch the config enables. A non-empty --root replaces the config root.
func (fl *flags) open(path string) (*elfvars.File, error) {
	cfg, err := loadConfig(fl.configPath)
	if err != nil {
		return nil, err
	}
	aliases := cfg.Aliases || fl.aliases
	names := cfg.Names || fl.names
	writable := cfg.Writable || fl.writable
	root := fl.root
	if root == "" {
		root = cfg.Root
	}
	var urls []string
	if fl.dbgsymExtern {
		urls = cfg.Debuginfod
	}

	opts := []elfvars.Option{
		elfvars.WithAliases(aliases),
		elfvars.WithNames(names),
		elfvars.WithWritableOnly(writable),
		elfvars.WithTypeSetDigest(fl.datatypes),
		elfvars.WithRoot(root),
		elfvars.WithDebugLookup(fl.dbgsym || fl.dbgsymExtern, urls...),
	}
	if !fl.identical {
		opts = append(opts, elfvars.WithDiagnostics(os.Stderr))
	}
	return elfvars.Open(path, opts...)
}

// digestCmd is the default mode: digest every input, print one block per
// equivalence class, and fail under --identical when more than one class
// remains.
func digestCmd(fl *flags, paths []string) error {
	files := make([]*elfvars.File, 0, len(paths))
	for _, p := range paths {
		f, err := fl.open(p)
		if err != nil {
			return err
		}
		files = append(files, f)
	}

	if !fl.identical {
		for _, group := range elfvars.Partition(files) {
			for _, f := range group {
				printDigests(fl, f)
			}
			fmt.Println()
		}
	}
	if !elfvars.Identical(files) && fl.identical {
		return errNotIdentical{}
	}
	return nil
}

func printDigests(fl *flags, f *elfvars.File) {
	header := "# " + f.Path
	if f.BuildID != "" {
		header += " [" + f.BuildID + "]"
	}
	if f.DbgsymPath != "" {
		header += " (" + f.DbgsymPath + ")"
	}
	fmt.Println(header)
	for _, c := range f.Descriptor.Categories {
		line := c.Digest + " " + string(c.Cat)
		if fl.verbose {
			var parts []string
			for _, r := range c.Records {
				parts = append(parts, fmt.Sprintf("%s@%d/%d:%d", r.Name, r.Relative, r.Align, r.Size))
			}
			line += " [ " + strings.Join(parts, ", ") + " ]"
		}
		fmt.Println(line)
	}
	if f.Descriptor.TypeSet != "" {
		fmt.Println(f.Descriptor.TypeSet + " TYPES")
	}
}

func variablesCmd(fl *flags, paths []string) error {
	for _, p := range paths {
		f, err := fl.open(p)
		if err != nil {
			return err
		}
		var out []elfvars.Variable
		for _, v := range f.Variables {
			// Only debug-info-backed records have a type to print.
			if !v.FromDebug || fl.tls != (v.Cat == "TLS") {
				continue
			}
			out = append(out, v)
		}
		if fl.jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			continue
		}
		for _, v := range out {
			printVariable(fl, v)
		}
	}
	return nil
}

func printVariable(fl *flags, v elfvars.Variable) {
	extern := ""
	if v.External {
		extern = "extern "
	}
	line := fmt.Sprintf("%s%s(%s) %d byte @ %016x", extern, v.Name, v.TypeID, v.Size, v.Value)
	if v.HasType {
		line += fmt.Sprintf(" # %016x", v.TypeHash)
	}
	if fl.source && v.Decl != "" {
		line += " /* " + v.Decl + " */"
	}
	fmt.Println(line)
}

func datatypesCmd(fl *flags, paths []string) error {
	fl.datatypes = true
	for _, p := range paths {
		f, err := fl.open(p)
		if err != nil {
			return err
		}
		for _, t := range f.Types {
			fmt.Printf("%s %d bytes # %s\n", t.Identifier, t.Size, t.HexHash())
		}
		fmt.Println(f.Descriptor.TypeSet)
	}
	return nil
}

// globalsCmd renders pseudo-C declarations: one block per aggregate type,
// then one line per variable, the human review surface for layout drift.
func globalsCmd(fl *flags, paths []string) error {
	fl.datatypes = true
	for _, p := range paths {
		f, err := fl.open(p)
		if err != nil {
			return err
		}
		for _, t := range f.Types {
			// Enumerations list their constants sorted by value, the way a
			// reviewer expects to read them; identifiers keep DIE order.
			if len(t.Enumerators) > 0 {
				decl := "enum"
				if t.Name != "" {
					decl += " " + t.Name
				}
				parts := make([]string, 0, len(t.Enumerators))
				for _, e := range t.Enumerators {
					parts = append(parts, fmt.Sprintf("%s = %d", e.Name, e.Value))
				}
				fmt.Printf("%s { %s }; /* %d bytes # %s */\n",
					decl, strings.Join(parts, "; "), t.Size, t.HexHash())
				continue
			}
			fmt.Printf("%s; /* %d bytes # %s */\n", t.Identifier, t.Size, t.HexHash())
		}
		if len(f.Types) > 0 {
			fmt.Println()
		}
		for _, v := range f.Variables {
			extern := ""
			if v.External {
				extern = "extern "
			}
			typeID := v.TypeID
			if typeID == "" {
				typeID = "?"
			}
			line := fmt.Sprintf("%s%s %s; /* %d byte @ %#x %s */", extern, typeID, v.Name, v.Size, v.Value, v.Cat)
			if fl.source && v.Decl != "" {
				line += " // " + v.Decl
			}
			fmt.Println(line)
		}
	}
	return nil
}
