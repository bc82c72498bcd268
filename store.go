// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package assetcache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"github.com/petar/GoLLRB/llrb"
)

// BlobStore is the interface implemented by the local storage of blobs. Each
// blob is identified by a key and a scope. Implementations are not required to
// coordinate concurrent writes to the same key, but a write must replace the
// whole blob so that readers never observe a partial one.
type BlobStore interface {
	// Exists reports whether a blob is stored under the key.
	Exists(key string, scope Scope) bool

	// Read returns the blob stored under the key, or ErrNotFound.
	Read(key string, scope Scope) ([]byte, error)

	// Write stores the data under the key, replacing the existing blob if
	// any. It returns ErrIO on failure.
	Write(key string, scope Scope, data []byte) error

	// Delete removes the blob stored under the key. It returns ErrNotFound
	// if there is no such blob, or ErrIO on failure.
	Delete(key string, scope Scope) error

	// Path returns the location of the blob stored under the key. The blob
	// does not need to exist.
	Path(key string, scope Scope) string

	// Entries returns all the blobs of the scope, oldest first.
	Entries(scope Scope) ([]*EntryInfo, error)
}

// stagingDir is the sub directory of each scope directory where blobs are
// written before being renamed into place. Entries never lists it.
const stagingDir = ".staging"

// DirStore is a BlobStore that stores each blob as a file named by its key in
// the root directory of the scope.
type DirStore struct {
	dirs [numScopes]string
}

// NewDirStore creates a DirStore whose scope directories are given by the
// resolver. The directories are created if they do not exist.
func NewDirStore(resolver DirResolver) (*DirStore, error) {
	st := &DirStore{}
	for _, s := range Scopes {
		dir, err := resolver.ScopeDir(s)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", s, err)
		}
		if err := os.MkdirAll(filepath.Join(dir, stagingDir), 0o0700); err != nil {
			return nil, fmt.Errorf("%s: %w", dir, err)
		}
		st.dirs[s] = dir
	}
	if st.dirs[ScopePrimary] == st.dirs[ScopeSecondary] {
		return nil, fmt.Errorf(
			"%w: primary and secondary share the directory %s",
			ErrInvalidConfig, st.dirs[ScopePrimary],
		)
	}

	return st, nil
}

// Dir returns the root directory of the scope.
func (st *DirStore) Dir(scope Scope) string { return st.dirs[scope%numScopes] }

// Path returns the full path of the file for the key.
func (st *DirStore) Path(key string, scope Scope) string {
	return filepath.Join(st.Dir(scope), key)
}

// Exists reports whether a regular file exists for the key.
func (st *DirStore) Exists(key string, scope Scope) bool {
	finfo, err := os.Stat(st.Path(key, scope))
	return err == nil && finfo.Mode().IsRegular()
}

// Read reads the whole file for the key.
func (st *DirStore) Read(key string, scope Scope) ([]byte, error) {
	b, err := os.ReadFile(st.Path(key, scope))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("%s: %w: %w", key, ErrIO, err)
	}

	return b, nil
}

// Write writes the data to a temporary file in the staging directory and
// renames it to the file for the key.
func (st *DirStore) Write(key string, scope Scope, data []byte) error {
	tmp, err := st.stage(scope, data)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", key, ErrIO, err)
	}
	if err := atomic.ReplaceFile(tmp, st.Path(key, scope)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%s: %w: %w", key, ErrIO, err)
	}

	return nil
}

func (st *DirStore) stage(scope Scope, data []byte) (string, error) {
	dir := filepath.Join(st.Dir(scope), stagingDir)
	if err := os.Mkdir(dir, 0o0700); err != nil && !errors.Is(err, fs.ErrExist) {
		return "", err
	}
	f, err := os.CreateTemp(dir, "blob-*")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}

	return f.Name(), nil
}

// Delete removes the file for the key.
func (st *DirStore) Delete(key string, scope Scope) error {
	err := os.Remove(st.Path(key, scope))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	case err != nil:
		return fmt.Errorf("%s: %w: %w", key, ErrIO, err)
	}

	return nil
}

// Entries lists the files in the root directory of the scope, ordered by
// their modification time, oldest first. Sub directories are not visited.
func (st *DirStore) Entries(scope Scope) ([]*EntryInfo, error) {
	root := st.Dir(scope)
	tree := llrb.New()

	walker := func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil && path == root:
			return err
		case err != nil:
			return fs.SkipDir
		case d.IsDir() && path == root:
			return nil
		case d.IsDir():
			return fs.SkipDir
		case !d.Type().IsRegular():
			return nil
		}
		finfo, err := d.Info()
		if err != nil {
			return nil // file disappeared?
		}
		tree.InsertNoReplace(&EntryInfo{
			key:     d.Name(),
			scope:   scope,
			path:    path,
			size:    finfo.Size(),
			modTime: finfo.ModTime(),
		})
		return nil
	}
	if err := filepath.WalkDir(root, walker); err != nil {
		return nil, fmt.Errorf("%s: failed to read dir: %w", root, err)
	}

	list := make([]*EntryInfo, 0, tree.Len())
	iterator := func(item llrb.Item) bool {
		list = append(list, item.(*EntryInfo)) //nolint:forcetypeassert
		return true
	}
	tree.AscendGreaterOrEqual(&EntryInfo{}, iterator)

	return list, nil
}
