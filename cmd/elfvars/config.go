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

package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// config carries defaults combined with the flags: the sysroot for
// debug-file lookup (replaced by --root), debuginfod endpoints, and the
// fingerprinting switches (on when either the config or the flag sets them).
type config struct {
	Root       string   `yaml:"root"`
	Debuginfod []string `yaml:"debuginfod_urls"`
	Aliases    bool     `yaml:"aliases"`
	Names      bool     `yaml:"names"`
	Writable   bool     `yaml:"writable"`
}

func loadConfig(path string) (config, error) {
	var c config
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, err
	}
	return c, nil
}
