// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package assetcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tunabay/go-infounit"
	"golang.org/x/sync/singleflight"
)

// Cache represents the asset cache. All of its methods are safe for
// concurrent use.
type Cache struct {
	store     BlobStore
	transport Transport
	keyFunc   KeyFunc
	window    int
	coalesce  bool
	flights   singleflight.Group

	numRequested uint64
	numHit       uint64
	numFetched   uint64
	numShared    uint64
	numFailed    uint64
	numStored    uint64
	numDeleted   uint64
	numBatches   uint64
	sizeFetched  infounit.ByteCount
	numOps       int
	numTasks     int
	closed       bool
	mu           sync.Mutex

	tasks sync.WaitGroup // running batches and bulk deletes

	log zerolog.Logger
}

// Request represents a request for a single asset. The zero value of each
// optional field selects the default behavior: the cache is used and the blob
// is stored in the primary scope.
type Request struct {
	// The remote URL of the asset. If not empty, it takes precedence over
	// Key for deriving the storage location.
	Identifier string

	// The explicit name of the blob, used verbatim as the file name when
	// Identifier is empty.
	Key string

	// If true, the local copy is neither read nor written.
	NoCache bool

	// The storage root of the blob.
	Scope Scope
}

// New creates a cache with the default configuration, storing blobs in the
// given directories.
func New(primaryDir, secondaryDir string) (*Cache, error) {
	return NewWithConfig(
		&Config{
			PrimaryDir:   primaryDir,
			SecondaryDir: secondaryDir,
		},
	)
}

// NewWithConfig creates a cache using the given configuration parameters.
func NewWithConfig(conf *Config) (*Cache, error) {
	switch {
	case conf == nil:
		return nil, fmt.Errorf("%w: nil Config", ErrInvalidConfig)
	case conf.WindowSize < 0:
		return nil, fmt.Errorf("%w: negative WindowSize", ErrInvalidConfig)
	}

	c := &Cache{
		store:     conf.Store,
		transport: conf.Transport,
		keyFunc:   conf.KeyFunc,
		window:    conf.WindowSize,
		coalesce:  !conf.NoCoalesce,
		log:       zerolog.Nop(),
	}
	if conf.Logger != nil {
		c.log = conf.Logger.With().Str("module", "assetcache").Logger()
	}
	if c.window == 0 {
		c.window = DefaultWindowSize
	}
	if c.keyFunc == nil {
		c.keyFunc = HashKey
	}
	if c.transport == nil {
		c.transport = NewHTTPTransport(conf.HTTPClient, conf.UserAgent, conf.MaxBlobSize)
	}
	if c.store == nil {
		resolver := conf.Resolver
		if resolver == nil {
			resolver = Dirs{Primary: conf.PrimaryDir, Secondary: conf.SecondaryDir}
		}
		st, err := NewDirStore(resolver)
		if err != nil {
			return nil, err
		}
		c.store = st
	}

	for _, s := range Scopes {
		list, err := c.store.Entries(s)
		if err != nil {
			c.log.Error().Err(err).Stringer("scope", s).Msg("Failed to read cache dir.")
			return nil, fmt.Errorf("%v: failed to read cache dir: %w", s, err)
		}
		var total infounit.ByteCount
		for _, e := range list {
			total += e.ByteCount()
		}
		c.log.Info().
			Stringer("scope", s).
			Str("dir", c.store.Path("", s)).
			Int("files", len(list)).
			Str("total", fmt.Sprintf("%.1S", total)).
			Msg("Cache directory ready.")
	}

	return c, nil
}

// deriveKey derives the key using the configured KeyFunc.
func (c *Cache) deriveKey(identifier, key string) (string, error) {
	return deriveKey(c.keyFunc, identifier, key)
}

// Fetch returns the asset for the request. If caching is enabled and the blob
// exists, it is returned without any network access. Otherwise the asset is
// downloaded if the identifier is a remote locator, and stored if caching is
// enabled. A failure to store the blob does not affect the returned data.
//
// It never fails. It returns nil if the asset can not be resolved for any
// reason.
func (c *Cache) Fetch(ctx context.Context, req Request) []byte {
	c.mu.Lock()
	c.numRequested++
	c.numOps++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.numOps--
		c.mu.Unlock()
	}()

	data, err := c.fetch(ctx, &req)
	if err != nil {
		c.mu.Lock()
		c.numFailed++
		c.mu.Unlock()
		c.log.Debug().Err(err).
			Str("identifier", req.Identifier).
			Str("key", req.Key).
			Msg("Fetch: Unresolved.")
		return nil
	}

	return data
}

func (c *Cache) fetch(ctx context.Context, req *Request) ([]byte, error) {
	if !req.Scope.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, req.Scope)
	}
	key, err := c.deriveKey(req.Identifier, req.Key)
	if err != nil {
		return nil, err
	}
	useCache := !req.NoCache

	if useCache && c.store.Exists(key, req.Scope) {
		data, err := c.store.Read(key, req.Scope)
		if err == nil {
			c.mu.Lock()
			c.numHit++
			c.mu.Unlock()
			c.log.Debug().Str("key", key).Stringer("scope", req.Scope).Msg("Fetch: Cache hit.")
			return data, nil
		}
		// removed concurrently, or unreadable
		c.log.Warn().Err(err).Str("key", key).Msg("Fetch: Failed to read cached blob.")
	}

	if !IsRemoteLocator(req.Identifier) {
		return nil, fmt.Errorf("%w: %q is not a remote locator", ErrNotFound, req.Identifier)
	}
	c.log.Debug().Str("key", key).Str("identifier", req.Identifier).Msg("Fetch: Downloading...")

	if !c.coalesce {
		return c.download(ctx, req.Identifier, key, req.Scope, useCache)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The shared download outlives any single caller; each caller only stops
	// waiting for it when its own context is done.
	flight := fmt.Sprintf("%d:%t:%s", req.Scope, useCache, key)
	ch := c.flights.DoChan(flight, func() (any, error) {
		return c.download(context.WithoutCancel(ctx), req.Identifier, key, req.Scope, useCache)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		c.log.Debug().Str("key", key).Msg("Fetch: Stopped waiting for download.")
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	data, ok := res.Val.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected flight result %T", ErrInternal, res.Val)
	}
	if res.Shared {
		c.mu.Lock()
		c.numShared++
		c.mu.Unlock()
		data = bytes.Clone(data)
	}

	return data, nil
}

// download retrieves the asset with the transport and stores it if useCache
// is true.
func (c *Cache) download(ctx context.Context, locator, key string, scope Scope, useCache bool) ([]byte, error) {
	data, err := c.transport.Fetch(ctx, locator)
	switch {
	case err != nil:
		c.log.Warn().Err(err).Str("identifier", locator).Msg("Fetch: Download failed.")
		return nil, err
	case len(data) == 0:
		c.log.Warn().Str("identifier", locator).Msg("Fetch: Download returned no bytes.")
		return nil, fmt.Errorf("%w: no bytes", ErrTransport)
	}

	sz := infounit.ByteCount(len(data))
	c.mu.Lock()
	c.numFetched++
	c.sizeFetched += sz
	c.mu.Unlock()

	if !useCache {
		return data, nil
	}
	if err := c.store.Write(key, scope, data); err != nil {
		c.log.Warn().Err(err).Str("key", key).Stringer("scope", scope).Msg("Fetch: Failed to store blob.")
		return data, nil
	}
	c.mu.Lock()
	c.numStored++
	c.mu.Unlock()
	c.log.Info().
		Str("key", key).
		Stringer("scope", scope).
		Str("size", fmt.Sprintf("%.1S", sz)).
		Msg("Fetch: Blob downloaded and cached.")

	return data, nil
}

// Save stores the data under the explicit key, replacing the existing blob.
// It reports whether the data was stored.
func (c *Cache) Save(data []byte, key string, scope Scope) bool {
	if err := c.save(data, key, scope); err != nil {
		c.mu.Lock()
		c.numFailed++
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("key", key).Stringer("scope", scope).Msg("Save: Failed.")
		return false
	}

	return true
}

func (c *Cache) save(data []byte, key string, scope Scope) error {
	switch {
	case !scope.Valid():
		return fmt.Errorf("%w: %v", ErrInvalidKey, scope)
	case len(data) == 0:
		return fmt.Errorf("%w: no data", ErrIO)
	}
	k, err := c.deriveKey("", key)
	if err != nil {
		return err
	}
	if err := c.store.Write(k, scope, data); err != nil {
		return err
	}
	c.mu.Lock()
	c.numStored++
	c.mu.Unlock()
	c.log.Debug().Str("key", k).Stringer("scope", scope).Int("size", len(data)).Msg("Save: Stored.")

	return nil
}

// Delete removes the blob for the identifier, or for the explicit key if
// identifier is empty. It reports whether a blob was removed.
func (c *Cache) Delete(identifier, key string, scope Scope) bool {
	err := c.delete(identifier, key, scope)
	switch {
	case errors.Is(err, ErrNotFound):
		c.log.Debug().Err(err).Stringer("scope", scope).Msg("Delete: Nothing to delete.")
		return false
	case err != nil:
		c.mu.Lock()
		c.numFailed++
		c.mu.Unlock()
		c.log.Warn().Err(err).Stringer("scope", scope).Msg("Delete: Failed.")
		return false
	}

	return true
}

func (c *Cache) delete(identifier, key string, scope Scope) error {
	if !scope.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidKey, scope)
	}
	k, err := c.deriveKey(identifier, key)
	if err != nil {
		return err
	}
	if err := c.store.Delete(k, scope); err != nil {
		return err
	}
	c.mu.Lock()
	c.numDeleted++
	c.mu.Unlock()
	c.log.Debug().Str("key", k).Stringer("scope", scope).Msg("Delete: Removed.")

	return nil
}

// DeleteMany removes the blobs for the identifiers in the background. Empty
// identifiers are skipped. There is no completion signal other than Close,
// which waits for it to finish.
func (c *Cache) DeleteMany(identifiers []string, scope Scope) {
	ids := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if !c.startTask() {
		c.log.Warn().Int("identifiers", len(ids)).Msg("DeleteMany: Cache closed, ignored.")
		return
	}
	go func() {
		defer c.endTask()
		n := 0
		for _, id := range ids {
			if c.Delete(id, "", scope) {
				n++
			}
		}
		c.log.Debug().Int("requested", len(ids)).Int("removed", n).Msg("DeleteMany: Finished.")
	}()
}

// Locate returns the path of the blob for the identifier, or for the explicit
// key if identifier is empty. The blob does not need to exist. It returns
// false if no key can be derived.
func (c *Cache) Locate(identifier, key string, scope Scope) (string, bool) {
	if !scope.Valid() {
		return "", false
	}
	k, err := c.deriveKey(identifier, key)
	if err != nil {
		return "", false
	}

	return c.store.Path(k, scope), true
}

// Exists reports whether the blob for the identifier, or for the explicit key
// if identifier is empty, is stored.
func (c *Cache) Exists(identifier, key string, scope Scope) bool {
	if !scope.Valid() {
		return false
	}
	k, err := c.deriveKey(identifier, key)
	if err != nil {
		return false
	}

	return c.store.Exists(k, scope)
}

// List returns the blobs stored in the scope, oldest first.
func (c *Cache) List(scope Scope) ([]*EntryInfo, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, scope)
	}
	return c.store.Entries(scope)
}

// startTask registers a background task. It returns false if the cache is
// closed.
func (c *Cache) startTask() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.numTasks++
	c.tasks.Add(1)

	return true
}

func (c *Cache) endTask() {
	c.mu.Lock()
	c.numTasks--
	c.mu.Unlock()
	c.tasks.Done()
}

// Close waits for all the running batches and bulk deletions to finish. After
// Close, new batches report every item as nil and new bulk deletions are
// ignored. Single operations keep working.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.log.Debug().Msg("Closing, waiting for running tasks...")
	c.tasks.Wait()
	c.log.Debug().Msg("Closed.")

	return nil
}

// Status represents the cache status and statistics.
type Status struct {
	NumRequested uint64             // total number of single fetches.
	NumHit       uint64             // total number of cache hits.
	NumFetched   uint64             // total number of successful downloads.
	NumShared    uint64             // total number of fetches that shared a concurrent download.
	NumFailed    uint64             // total number of operation failures.
	NumStored    uint64             // total number of blobs written.
	NumDeleted   uint64             // total number of blobs removed.
	NumBatches   uint64             // total number of batches started.
	SizeFetched  infounit.ByteCount // total size of downloaded assets.
	NumOps       int                // number of fetches currently being processed.
	NumTasks     int                // number of running batches and bulk deletions.
}

// String returns the string representation of Status.
func (s Status) String() string {
	return fmt.Sprintf(
		"req=%d, hit=%d, get=%d, shared=%d, fail=%d, put=%d, del=%d, batch=%d, size=%.1S, op=%d, task=%d",
		s.NumRequested,
		s.NumHit,
		s.NumFetched,
		s.NumShared,
		s.NumFailed,
		s.NumStored,
		s.NumDeleted,
		s.NumBatches,
		s.SizeFetched,
		s.NumOps,
		s.NumTasks,
	)
}

// Status returns the current cache status and statistics.
func (c *Cache) Status() *Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Status{
		NumRequested: c.numRequested,
		NumHit:       c.numHit,
		NumFetched:   c.numFetched,
		NumShared:    c.numShared,
		NumFailed:    c.numFailed,
		NumStored:    c.numStored,
		NumDeleted:   c.numDeleted,
		NumBatches:   c.numBatches,
		SizeFetched:  c.sizeFetched,
		NumOps:       c.numOps,
		NumTasks:     c.numTasks,
	}
}
