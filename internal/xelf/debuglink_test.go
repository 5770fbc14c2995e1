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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("debug"), 0o644))
}

func TestFindDebugSearchOrder(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	elfPath := filepath.Join(root, "bin", "app")
	buildID := "deadbeefcafe"

	byID := filepath.Join(root, "usr/lib/debug/.build-id/de/adbeefcafe.debug")
	sibling := filepath.Join(root, elfPath+".debug")
	hidden := filepath.Join(root, filepath.Dir(elfPath), ".debug", "app.debug")
	mirror := filepath.Join(root, "usr/lib/debug", elfPath+".debug")

	// All four present: the build-id path wins.
	for _, p := range []string{byID, sibling, hidden, mirror} {
		touch(t, p)
	}
	got, cleanup, err := FindDebug(root, elfPath, buildID, nil)
	require.NoError(t, err)
	assert.Nil(t, cleanup)
	assert.Equal(t, byID, got)

	// Then the adjacent .debug file.
	require.NoError(t, os.Remove(byID))
	got, _, err = FindDebug(root, elfPath, buildID, nil)
	require.NoError(t, err)
	assert.Equal(t, sibling, got)

	// Then the hidden sibling directory.
	require.NoError(t, os.Remove(sibling))
	got, _, err = FindDebug(root, elfPath, buildID, nil)
	require.NoError(t, err)
	assert.Equal(t, hidden, got)

	// Then the /usr/lib/debug mirror.
	require.NoError(t, os.Remove(hidden))
	got, _, err = FindDebug(root, elfPath, buildID, nil)
	require.NoError(t, err)
	assert.Equal(t, mirror, got)

	// Nothing left and no service: the object is unusable.
	require.NoError(t, os.Remove(mirror))
	_, _, err = FindDebug(root, elfPath, buildID, nil)
	assert.ErrorIs(t, err, ErrNoDebugInfo)
}

func TestFindDebugDebuginfod(t *testing.T) {
	t.Parallel()

	const buildID = "deadbeefcafe"
	payload := []byte("dwarf payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/buildid/"+buildID+"/debuginfo" {
			http.NotFound(w, r)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	got, cleanup, err := FindDebug(t.TempDir(), "/no/such/bin", buildID, []string{srv.URL})
	require.NoError(t, err)
	require.NotNil(t, cleanup)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	// Cleanup must release the temporary download.
	cleanup()
	_, err = os.Stat(got)
	assert.True(t, os.IsNotExist(err))
}

func TestFindDebugNoBuildID(t *testing.T) {
	t.Parallel()

	// Without a build id the service cannot be keyed; only paths are tried.
	_, _, err := FindDebug(t.TempDir(), "/no/such/bin", "", []string{"http://127.0.0.1:1"})
	assert.ErrorIs(t, err, ErrNoDebugInfo)
}
