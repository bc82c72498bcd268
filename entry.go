// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package assetcache

import (
	"io/fs"
	"time"

	"github.com/petar/GoLLRB/llrb"
	"github.com/tunabay/go-infounit"
)

// EntryInfo describes a blob stored in a BlobStore. It implements fs.FileInfo.
type EntryInfo struct {
	key     string
	scope   Scope
	path    string
	size    int64
	modTime time.Time
}

// NewEntryInfo creates an EntryInfo. It is intended for BlobStore
// implementations other than DirStore.
func NewEntryInfo(key string, scope Scope, path string, size int64, modTime time.Time) *EntryInfo {
	return &EntryInfo{key: key, scope: scope, path: path, size: size, modTime: modTime}
}

// Name returns the key of the blob.
func (i *EntryInfo) Name() string { return i.key }

// Scope returns the scope the blob is stored in.
func (i *EntryInfo) Scope() Scope { return i.scope }

// Path returns the location of the blob.
func (i *EntryInfo) Path() string { return i.path }

// Size returns the blob size in byte.
func (i *EntryInfo) Size() int64 { return i.size }

// ByteCount returns the blob size as infounit.ByteCount.
func (i *EntryInfo) ByteCount() infounit.ByteCount { return infounit.ByteCount(i.size) }

// Mode always returns 0600.
func (*EntryInfo) Mode() fs.FileMode { return 0o0600 }

// ModTime returns the time the blob was last written.
func (i *EntryInfo) ModTime() time.Time { return i.modTime }

// IsDir always returns false.
func (*EntryInfo) IsDir() bool { return false }

// Sys returns the scope.
func (i *EntryInfo) Sys() any { return i.scope }

// Less orders entries by modification time, then by key. It implements
// llrb.Item.
func (i *EntryInfo) Less(xif llrb.Item) bool {
	x := xif.(*EntryInfo) //nolint:forcetypeassert
	if !i.modTime.Equal(x.modTime) {
		return i.modTime.Before(x.modTime)
	}
	return i.key < x.key
}
