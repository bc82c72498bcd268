// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package assetcache

import (
	"context"
	"sync/atomic"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"
)

// ItemFunc is the callback function called once for each item of a batch. The
// index is the position of the item in the original sequence. The data is nil
// if the item could not be resolved.
type ItemFunc func(data []byte, index int)

// Batch represents a batch started by FetchAll or FetchMany.
type Batch struct {
	id          xid.ID
	size        int
	windows     int
	windowsDone atomic.Int32
	done        chan struct{}
}

// ID returns the unique identifier of the batch, as it appears in log
// messages.
func (b *Batch) ID() string { return b.id.String() }

// Len returns the number of items in the batch.
func (b *Batch) Len() int { return b.size }

// Windows returns the number of windows the batch is partitioned into.
func (b *Batch) Windows() int { return b.windows }

// WindowsDone returns the number of windows whose items have all been
// reported.
func (b *Batch) WindowsDone() int { return int(b.windowsDone.Load()) }

// Done returns a channel that is closed after the completion callback of the
// batch returned.
func (b *Batch) Done() <-chan struct{} { return b.done }

// Wait blocks until the batch is done.
func (b *Batch) Wait() { <-b.done }

// itemResult is the completion message posted by each fetch of a window.
type itemResult struct {
	index int
	data  []byte
}

// FetchMany fetches the assets for the identifiers as a batch, storing them in
// the primary scope if useCache is true. Empty identifiers are reported as nil
// data. See FetchAll.
func (c *Cache) FetchMany(
	ctx context.Context,
	identifiers []string,
	useCache bool,
	onItem ItemFunc,
	onDone func(),
) *Batch {
	reqs := make([]Request, len(identifiers))
	for i, id := range identifiers {
		reqs[i] = Request{Identifier: id, NoCache: !useCache}
	}

	return c.fetchAll(ctx, reqs, onItem, onDone)
}

// FetchAll fetches the requested assets in the background and returns
// immediately.
//
// The requests are partitioned into consecutive windows of the configured
// window size. All the items of a window are fetched concurrently, and the
// next window is started only after every item of the current one has been
// reported. onItem is called exactly once for each item, with its index in
// reqs, and onDone is called exactly once after the last item. An item with
// an empty identifier is reported as nil data without being fetched.
//
// The callbacks of a batch are never called concurrently with each other.
// Within a window they are called in completion order. Either callback may be
// nil.
func (c *Cache) FetchAll(ctx context.Context, reqs []Request, onItem ItemFunc, onDone func()) *Batch {
	return c.fetchAll(ctx, append([]Request(nil), reqs...), onItem, onDone)
}

func (c *Cache) fetchAll(ctx context.Context, reqs []Request, onItem ItemFunc, onDone func()) *Batch {
	b := &Batch{
		id:      xid.New(),
		size:    len(reqs),
		windows: (len(reqs) + c.window - 1) / c.window,
		done:    make(chan struct{}),
	}

	accepted := c.startTask()
	if accepted {
		c.mu.Lock()
		c.numBatches++
		c.mu.Unlock()
	}

	go func() {
		if accepted {
			defer c.endTask()
		}
		defer close(b.done)
		c.runBatch(ctx, b, reqs, accepted, onItem, onDone)
	}()

	return b
}

// runBatch processes the windows one after another on the calling goroutine,
// which is the only goroutine that calls the callbacks of the batch.
func (c *Cache) runBatch(
	ctx context.Context,
	b *Batch,
	reqs []Request,
	accepted bool,
	onItem ItemFunc,
	onDone func(),
) {
	log := c.log.With().Str("batch", b.ID()).Logger()
	if accepted {
		log.Debug().Int("items", b.size).Int("windows", b.windows).Msg("Batch started.")
	} else {
		log.Warn().Int("items", b.size).Msg("Cache closed, reporting every item as empty.")
	}

	for w := 0; w < b.windows; w++ {
		start := w * c.window
		end := min(start+c.window, len(reqs))
		resolved := c.runWindow(ctx, reqs[start:end], start, accepted, onItem)
		b.windowsDone.Add(1)
		log.Debug().
			Int("window", w).
			Int("first", start).
			Int("items", end-start).
			Int("resolved", resolved).
			Msg("Window completed.")
	}

	if onDone != nil {
		onDone()
	}
	log.Debug().Msg("Batch finished.")
}

// runWindow fetches all the items concurrently and reports each completion as
// it arrives. It returns after every item has been reported, with the number
// of items that resolved to data.
func (c *Cache) runWindow(ctx context.Context, items []Request, base int, accepted bool, onItem ItemFunc) int {
	results := make(chan itemResult, len(items))

	var g errgroup.Group
	g.SetLimit(c.window)
	for i := range items {
		index := base + i
		if !accepted || items[i].Identifier == "" {
			results <- itemResult{index: index}
			continue
		}
		req := items[i]
		g.Go(func() error {
			results <- itemResult{index: index, data: c.Fetch(ctx, req)}
			return nil
		})
	}

	resolved := 0
	for outstanding := len(items); 0 < outstanding; outstanding-- {
		r := <-results
		if r.data != nil {
			resolved++
		}
		if onItem != nil {
			onItem(r.data, r.index)
		}
	}
	_ = g.Wait()

	return resolved
}
