// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package assetcache

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunabay/go-assetcache/mocks"
	"go.uber.org/mock/gomock"
)

// fakeTransport serves the identifier itself as the payload, except for the
// identifiers listed in fail. It counts the calls and the maximum number of
// concurrent calls.
type fakeTransport struct {
	fail    map[string]bool
	delay   time.Duration
	release chan struct{}

	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
}

func (f *fakeTransport) Fetch(ctx context.Context, locator string) ([]byte, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay != 0 {
		time.Sleep(f.delay)
	}
	if f.fail[locator] {
		return nil, ErrTransport
	}
	return []byte("data:" + locator), nil
}

// failingStore is a DirStore whose writes always fail.
type failingStore struct {
	*DirStore
}

func (failingStore) Write(key string, _ Scope, _ []byte) error {
	return errors.New(key + ": disk full")
}

func newTestCache(t *testing.T, conf *Config) *Cache {
	t.Helper()
	if conf == nil {
		conf = &Config{}
	}
	if conf.Store == nil && conf.Resolver == nil {
		root := t.TempDir()
		conf.PrimaryDir = filepath.Join(root, "durable")
		conf.SecondaryDir = filepath.Join(root, "purgeable")
	}
	if conf.Logger == nil {
		log := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
		conf.Logger = &log
	}
	c, err := NewWithConfig(conf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewWithConfig_Invalid(t *testing.T) {
	_, err := NewWithConfig(nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewWithConfig(&Config{WindowSize: -1})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNew(t *testing.T) {
	root := t.TempDir()
	c, err := New(filepath.Join(root, "p"), filepath.Join(root, "s"))
	require.NoError(t, err)
	defer c.Close()

	p, ok := c.Locate("", "x", ScopePrimary)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "p", "x"), p)
	assert.Equal(t, DefaultWindowSize, c.window)
}

// A stored blob is returned without touching the transport.
func TestFetch_CacheHit(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	tr.EXPECT().Fetch(gomock.Any(), gomock.Any()).Times(0)

	c := newTestCache(t, &Config{Transport: tr})
	const id = "https://example.com/a.png"
	key, err := DeriveKey(id, "")
	require.NoError(t, err)
	require.NoError(t, c.store.Write(key, ScopePrimary, []byte("stored")))

	got := c.Fetch(context.Background(), Request{Identifier: id})
	assert.Equal(t, "stored", string(got))
	assert.Equal(t, uint64(1), c.Status().NumHit)
}

// A miss downloads and stores the blob, after which it is a hit.
func TestFetch_MissThenPopulate(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	const id = "https://example.com/b.png"
	tr.EXPECT().Fetch(gomock.Any(), id).Return([]byte("remote"), nil).Times(1)

	c := newTestCache(t, &Config{Transport: tr})

	assert.False(t, c.Exists(id, "", ScopeSecondary))
	got := c.Fetch(context.Background(), Request{Identifier: id, Scope: ScopeSecondary})
	assert.Equal(t, "remote", string(got))
	assert.True(t, c.Exists(id, "", ScopeSecondary))
	assert.False(t, c.Exists(id, "", ScopePrimary))

	got = c.Fetch(context.Background(), Request{Identifier: id, Scope: ScopeSecondary})
	assert.Equal(t, "remote", string(got))

	st := c.Status()
	assert.Equal(t, uint64(2), st.NumRequested)
	assert.Equal(t, uint64(1), st.NumHit)
	assert.Equal(t, uint64(1), st.NumFetched)
	assert.Equal(t, uint64(1), st.NumStored)
}

func TestFetch_NoCache(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestCache(t, &Config{Transport: tr})
	const id = "https://example.com/c.png"
	require.True(t, c.Save([]byte("old"), HashKey(id), ScopePrimary))

	got := c.Fetch(context.Background(), Request{Identifier: id, NoCache: true})
	assert.Equal(t, "data:"+id, string(got))
	assert.Equal(t, int64(1), tr.calls.Load())

	// Neither read nor written.
	b, err := c.store.Read(HashKey(id), ScopePrimary)
	require.NoError(t, err)
	assert.Equal(t, "old", string(b))
}

func TestFetch_Unresolvable(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	c := newTestCache(t, &Config{Transport: tr})
	ctx := context.Background()

	assert.Nil(t, c.Fetch(ctx, Request{}))
	assert.Nil(t, c.Fetch(ctx, Request{Key: "missing"}))
	assert.Nil(t, c.Fetch(ctx, Request{Identifier: "not a url"}))
	assert.Nil(t, c.Fetch(ctx, Request{Identifier: "https://example.com/x", Scope: Scope(9)}))
	assert.Equal(t, uint64(4), c.Status().NumFailed)
}

func TestFetch_ByKey(t *testing.T) {
	c := newTestCache(t, &Config{Transport: &fakeTransport{}})
	require.True(t, c.Save([]byte("named"), "logo", ScopePrimary))

	got := c.Fetch(context.Background(), Request{Key: "logo"})
	assert.Equal(t, "named", string(got))
}

func TestFetch_TransportFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	const id = "https://example.com/broken.png"
	tr.EXPECT().Fetch(gomock.Any(), id).Return(nil, errors.New("connection refused"))
	tr.EXPECT().Fetch(gomock.Any(), id).Return([]byte{}, nil)

	c := newTestCache(t, &Config{Transport: tr})
	assert.Nil(t, c.Fetch(context.Background(), Request{Identifier: id}))
	assert.Nil(t, c.Fetch(context.Background(), Request{Identifier: id}))
	assert.False(t, c.Exists(id, "", ScopePrimary))
	assert.Equal(t, uint64(2), c.Status().NumFailed)
}

// A failure to store the downloaded blob does not affect the result.
func TestFetch_StoreFailureIsSwallowed(t *testing.T) {
	st := newTestStore(t)
	c := newTestCache(t, &Config{Store: failingStore{st}, Transport: &fakeTransport{}})
	const id = "https://example.com/d.png"

	got := c.Fetch(context.Background(), Request{Identifier: id})
	assert.Equal(t, "data:"+id, string(got))
	assert.False(t, c.Exists(id, "", ScopePrimary))
	assert.Equal(t, uint64(0), c.Status().NumStored)
}

func TestFetch_Coalesce(t *testing.T) {
	const n = 8
	tests := []struct {
		name       string
		noCoalesce bool
		wantCalls  int64
	}{
		{name: "coalesced", wantCalls: 1},
		{name: "not coalesced", noCoalesce: true, wantCalls: n},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTransport{release: make(chan struct{})}
			c := newTestCache(t, &Config{Transport: tr, NoCoalesce: tt.noCoalesce})
			const id = "https://example.com/same.png"

			var wg sync.WaitGroup
			results := make([][]byte, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					results[i] = c.Fetch(context.Background(), Request{Identifier: id})
				}()
			}
			// every fetch is either inside the transport or waiting on it
			require.Eventually(t, func() bool {
				return c.Status().NumOps == n && tr.inFlight.Load() == tt.wantCalls
			}, 5*time.Second, time.Millisecond)
			close(tr.release)
			wg.Wait()

			assert.Equal(t, tt.wantCalls, tr.calls.Load())
			for _, r := range results {
				assert.Equal(t, "data:"+id, string(r))
			}
			assert.True(t, c.Exists(id, "", ScopePrimary))
		})
	}
}

// A caller giving up does not fail the others sharing its download.
func TestFetch_CoalesceCancelledCaller(t *testing.T) {
	tr := &fakeTransport{release: make(chan struct{})}
	c := newTestCache(t, &Config{Transport: tr})
	const id = "https://example.com/shared.png"

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	gotA := make(chan []byte, 1)
	go func() { gotA <- c.Fetch(ctxA, Request{Identifier: id}) }()
	require.Eventually(t, func() bool { return tr.inFlight.Load() == 1 }, 5*time.Second, time.Millisecond)

	gotB := make(chan []byte, 1)
	go func() { gotB <- c.Fetch(context.Background(), Request{Identifier: id}) }()
	require.Eventually(t, func() bool { return c.Status().NumOps == 2 }, 5*time.Second, time.Millisecond)

	cancelA()
	select {
	case data := <-gotA:
		assert.Nil(t, data)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(tr.release)
	select {
	case data := <-gotB:
		assert.Equal(t, "data:"+id, string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("live caller did not return")
	}
	assert.Equal(t, int64(1), tr.calls.Load())
	assert.True(t, c.Exists(id, "", ScopePrimary))
}

// Save, Locate and Delete round trip.
func TestSaveLocateDelete(t *testing.T) {
	c := newTestCache(t, &Config{Transport: &fakeTransport{}})
	payload := []byte{0x89, 'P', 'N', 'G'}

	require.True(t, c.Save(payload, "x", ScopeSecondary))
	path, ok := c.Locate("", "x", ScopeSecondary)
	require.True(t, ok)
	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, onDisk))

	require.True(t, c.Delete("", "x", ScopeSecondary))
	path, ok = c.Locate("", "x", ScopeSecondary)
	require.True(t, ok)
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.False(t, c.Exists("", "x", ScopeSecondary))

	assert.False(t, c.Delete("", "x", ScopeSecondary), "already deleted")
}

func TestSave_Invalid(t *testing.T) {
	c := newTestCache(t, &Config{Transport: &fakeTransport{}})

	assert.False(t, c.Save([]byte("x"), "", ScopePrimary))
	assert.False(t, c.Save([]byte("x"), "a/b", ScopePrimary))
	assert.False(t, c.Save(nil, "a", ScopePrimary))
	assert.False(t, c.Save([]byte("x"), "a", Scope(3)))

	_, ok := c.Locate("", "", ScopePrimary)
	assert.False(t, ok)
}

func TestSave_StoreFailure(t *testing.T) {
	c := newTestCache(t, &Config{Store: failingStore{newTestStore(t)}, Transport: &fakeTransport{}})
	assert.False(t, c.Save([]byte("x"), "a", ScopePrimary))
	assert.Equal(t, uint64(1), c.Status().NumFailed)
}

func TestDeleteMany(t *testing.T) {
	c := newTestCache(t, &Config{Transport: &fakeTransport{}})
	ids := []string{
		"https://example.com/1.png",
		"",
		"https://example.com/2.png",
		"https://example.com/never-stored.png",
	}
	for _, id := range []string{ids[0], ids[2]} {
		require.NotNil(t, c.Fetch(context.Background(), Request{Identifier: id}))
	}

	c.DeleteMany(ids, ScopePrimary)
	require.NoError(t, c.Close())

	for _, id := range ids {
		if id != "" {
			assert.False(t, c.Exists(id, "", ScopePrimary), id)
		}
	}
	assert.Equal(t, uint64(2), c.Status().NumDeleted)
	assert.Equal(t, 0, c.Status().NumTasks)
}

func TestList(t *testing.T) {
	c := newTestCache(t, &Config{Transport: &fakeTransport{}})
	require.True(t, c.Save([]byte("abc"), "one", ScopePrimary))

	list, err := c.List(ScopePrimary)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "one", list[0].Name())
	assert.Equal(t, int64(3), list[0].Size())
	assert.False(t, list[0].IsDir())

	_, err = c.List(Scope(5))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStatus_String(t *testing.T) {
	s := Status{NumRequested: 3, NumHit: 1}
	assert.True(t, strings.HasPrefix(s.String(), "req=3, hit=1,"))
}
