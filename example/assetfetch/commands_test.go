// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{
		"--primary", filepath.Join(dir, "p"),
		"--secondary", filepath.Join(dir, "s"),
	}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommands(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("asset" + r.URL.Path))
	}))
	defer upstream.Close()
	dir := t.TempDir()

	out, err := run(t, dir, "fetch", upstream.URL+"/a", upstream.URL+"/b")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Contains(t, line, filepath.Join(dir, "p"))
	}

	_, err = run(t, dir, "fetch", upstream.URL+"/bad")
	require.Error(t, err)

	out, err = run(t, dir, "locate", upstream.URL+"/a")
	require.NoError(t, err)
	b, err := os.ReadFile(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "asset/a", string(b))

	src := filepath.Join(dir, "local.bin")
	require.NoError(t, os.WriteFile(src, []byte("local"), 0o0600))
	_, err = run(t, dir, "--scope", "secondary", "save", "local", src)
	require.NoError(t, err)

	out, err = run(t, dir, "--scope", "secondary", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "local")

	_, err = run(t, dir, "delete", upstream.URL+"/a", upstream.URL+"/b")
	require.NoError(t, err)
	_, err = run(t, dir, "locate", upstream.URL+"/a")
	require.Error(t, err)

	_, err = run(t, dir, "--scope", "secondary", "delete", "--key", "local")
	require.NoError(t, err)
	_, err = run(t, dir, "--scope", "secondary", "locate", "--key", "local")
	require.Error(t, err)

	_, err = run(t, dir, "--scope", "third", "list")
	require.Error(t, err)
}
