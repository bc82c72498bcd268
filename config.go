// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package assetcache

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/tunabay/go-infounit"
)

// Config represents the parameters to configure Cache creation.
type Config struct {
	// The path to the directory for blobs of the primary scope. It should
	// be a durable directory used exclusively for this cache. The directory
	// will be automatically created if it does not exist. A relative path
	// is treated as relative from the user-specific configuration directory
	// returned by os.UserConfigDir(). If it is empty, use the program name
	// directory. Ignored if Resolver or Store is set.
	PrimaryDir string

	// The path to the directory for blobs of the secondary scope. It is
	// meant to be a purgeable directory the operating system may clean up.
	// A relative path is treated as relative from the user-specific cache
	// directory returned by os.UserCacheDir(). If it is empty, use the
	// program name directory. Ignored if Resolver or Store is set.
	SecondaryDir string

	// If not nil, it resolves the scope directories instead of PrimaryDir
	// and SecondaryDir. Ignored if Store is set.
	Resolver DirResolver

	// If not nil, blobs are stored in this store instead of a DirStore.
	Store BlobStore

	// If not nil, remote assets are retrieved with this Transport instead of
	// an HTTPTransport built from HTTPClient, UserAgent and MaxBlobSize.
	Transport Transport

	// The HTTP client used by the default transport. If nil, a client with
	// no timeout is used.
	HTTPClient *http.Client

	// The User-Agent header sent by the default transport.
	UserAgent string

	// The upper limit on the size of a single downloaded asset. Larger
	// responses are treated as transport failures. Zero value means the
	// default limit of 32 MB.
	MaxBlobSize infounit.ByteCount

	// The function to derive file names from identifiers. If nil, HashKey
	// is used.
	KeyFunc KeyFunc

	// The number of items of a batch fetched concurrently. Zero value means
	// the default window size of 12.
	WindowSize int

	// If true, concurrent fetches of the same asset are not coalesced into
	// a single download. Each of them hits the transport and writes the
	// blob, the last write wins.
	NoCoalesce bool

	// If not nil, Cache outputs log messages to this Logger.
	Logger *zerolog.Logger
}

const (
	// DefaultWindowSize defines the default value for Config.WindowSize.
	DefaultWindowSize = 12

	// DefaultUserAgent defines the default value for Config.UserAgent.
	DefaultUserAgent = "go-assetcache/1.0"

	// DefaultMaxBlobSize defines the default value for Config.MaxBlobSize.
	DefaultMaxBlobSize = infounit.Megabyte * 32
)
