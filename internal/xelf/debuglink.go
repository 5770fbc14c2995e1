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

package xelf

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// ErrNoDebugInfo reports that an object has no embedded DWARF and none of
// the lookup locations produced a debug file.
var ErrNoDebugInfo = errors.New("no debug information available")

// FindDebug locates an external debug file for an object at path with the
// given build id, searching under root:
//
//  1. <root>/usr/lib/debug/.build-id/XX/YYYY....debug
//  2. <root><path>.debug
//  3. <root><dir>/.debug/<base>.debug
//  4. <root>/usr/lib/debug<path>.debug
//  5. a debuginfod service keyed by build id, for each url in urls
//
// The returned cleanup is non-nil when the file was downloaded and must be
// called once the file is no longer needed.
func FindDebug(root, path, buildID string, urls []string) (string, func(), error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	var candidates []string
	if len(buildID) > 2 {
		candidates = append(candidates, filepath.Join(root,
			"usr/lib/debug/.build-id", buildID[:2], buildID[2:]+".debug"))
	}
	candidates = append(candidates,
		filepath.Join(root, abs+".debug"),
		filepath.Join(root, filepath.Dir(abs), ".debug", filepath.Base(abs)+".debug"),
		filepath.Join(root, "usr/lib/debug", abs+".debug"),
	)
	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && st.Mode().IsRegular() {
			return c, nil, nil
		}
	}

	if buildID != "" {
		for _, url := range urls {
			file, err := fetchDebuginfod(url, buildID)
			if err != nil {
				continue
			}
			cleanup := func() { os.Remove(file) }
			return file, cleanup, nil
		}
	}
	return "", nil, fmt.Errorf("%w for %s", ErrNoDebugInfo, path)
}

// fetchDebuginfod downloads debug info for a build id into a temporary file
// using the debuginfod protocol.
func fetchDebuginfod(base, buildID string) (string, error) {
	resp, err := http.Get(fmt.Sprintf("%s/buildid/%s/debuginfo", base, buildID))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("debuginfod %s: %s", base, resp.Status)
	}

	tmp, err := os.CreateTemp("", "elfvars-*.debug")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
