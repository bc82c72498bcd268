// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/tunabay/go-assetcache"
	"github.com/tunabay/go-assetcache/imgcodec"
)

// server is a caching HTTP proxy for remote images. It holds one
// assetcache.Cache instance.
type server struct {
	cache *assetcache.Cache
	log   zerolog.Logger
}

// serve logs the cache status periodically until ctx is done.
func (sv *server) serve(ctx context.Context) {
	ticker := time.NewTicker(time.Second * 30)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		sv.log.Info().Stringer("status", sv.cache.Status()).Msg("Cache status.")
	}
}

// ServeHTTP responds to incoming HTTP requests.
//
//	GET /asset?url=...[&scope=secondary][&nocache=1][&format=png|jpeg][&quality=0.8]
//	GET /status
//
// The asset is served from the cache if present, or downloaded and cached. If
// format is given, the image is re-encoded. If the asset can not be
// resolved, a placeholder image is served with status 404.
func (sv *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	errf := func(code int, format string, v ...any) {
		b := []byte(fmt.Sprintf(format, v...) + "\n")
		w.Header().Add("Content-Type", "text/plain")
		w.Header().Add("Content-Length", strconv.FormatInt(int64(len(b)), 10))
		w.WriteHeader(code)
		if _, err := w.Write(b); err != nil {
			sv.log.Warn().Err(err).Msg("ResponseWriter.Write")
		}
	}

	switch {
	case r.Method != http.MethodGet:
		errf(http.StatusMethodNotAllowed, "Method %s not allowed.", r.Method)
		return

	case r.URL.Path == "/status":
		errf(http.StatusOK, "%v", sv.cache.Status())
		return

	case r.URL.Path == "/asset":

	default:
		errf(http.StatusNotFound, "Resource %s not found.", r.URL.Path)
		return
	}

	qvals := r.URL.Query()
	req := assetcache.Request{
		Identifier: qvals.Get("url"),
		NoCache:    qvals.Get("nocache") != "",
	}
	if !assetcache.IsRemoteLocator(req.Identifier) {
		errf(http.StatusBadRequest, "Invalid url %q.", req.Identifier)
		return
	}
	if s := qvals.Get("scope"); s != "" {
		scope, err := assetcache.ParseScope(s)
		if err != nil {
			errf(http.StatusBadRequest, "Invalid scope %q.", s)
			return
		}
		req.Scope = scope
	}
	var opts *imgcodec.Options
	if s := qvals.Get("format"); s != "" {
		f, err := imgcodec.ParseFormat(s)
		if err != nil {
			errf(http.StatusBadRequest, "Invalid format %q.", s)
			return
		}
		opts = &imgcodec.Options{Format: f, Quality: imgcodec.DefaultQuality}
	}
	if s := qvals.Get("quality"); s != "" && opts != nil {
		v, err := strconv.ParseFloat(s, 64)
		switch {
		case err != nil:
			errf(http.StatusBadRequest, "Invalid quality %q: %v", s, err)
			return
		case v < 0, 1 < v:
			errf(http.StatusBadRequest, "Invalid quality %v, must be 0..1", v)
			return
		}
		opts.Quality = v
	}

	startedAt := time.Now()
	cached := !req.NoCache && sv.cache.Exists(req.Identifier, "", req.Scope)

	status := http.StatusOK
	data := sv.cache.Fetch(r.Context(), req)
	if data == nil {
		status = http.StatusNotFound
		data = sv.placeholder()
		opts = nil
	}
	if opts != nil {
		img, _, err := imgcodec.Decode(data)
		if err != nil {
			errf(http.StatusUnsupportedMediaType, "Not an image: %v", err)
			return
		}
		if data, err = imgcodec.EncodeBytes(img, opts); err != nil {
			errf(http.StatusInternalServerError, "Failed to encode: %v", err)
			return
		}
	}

	w.Header().Add("Content-Length", strconv.Itoa(len(data)))
	w.Header().Add("Content-Type", http.DetectContentType(data))
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		sv.log.Error().Err(err).Msg("ResponseWriter.Write")
		return
	}

	tag := "downloaded"
	switch {
	case status != http.StatusOK:
		tag = "placeholder"
	case cached:
		tag = "cached"
	}
	sv.log.Info().
		Str("url", req.Identifier).
		Str("source", tag).
		Int("size", len(data)).
		Dur("elapsed", time.Since(startedAt)).
		Msg("Served.")
}

// placeholderKey is the key the placeholder image is saved under.
const placeholderKey = "placeholder.png"

// placeholder returns the encoded placeholder image, generating and saving it
// in the secondary scope on first use.
func (sv *server) placeholder() []byte {
	req := assetcache.Request{Key: placeholderKey, Scope: assetcache.ScopeSecondary}
	if data := sv.cache.Fetch(context.Background(), req); data != nil {
		return data
	}

	img := createPlaceholder(64, 64)
	opts := &imgcodec.Options{Format: imgcodec.PNG}
	if !sv.cache.SaveImage(img, placeholderKey, assetcache.ScopeSecondary, opts) {
		sv.log.Warn().Msg("Failed to save placeholder.")
	}
	data, err := imgcodec.EncodeBytes(img, opts)
	if err != nil {
		sv.log.Error().Err(err).Msg("Failed to encode placeholder.")
		return nil
	}

	return data
}

// createPlaceholder generates a grey checkerboard image.
func createPlaceholder(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	light := color.NRGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
	dark := color.NRGBA{R: 0xaa, G: 0xaa, B: 0xaa, A: 0xff}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := light
			if (x/8+y/8)&1 == 1 {
				c = dark
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}
