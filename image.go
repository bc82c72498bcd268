// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package assetcache

import (
	"context"
	"image"

	"github.com/tunabay/go-assetcache/imgcodec"
)

// FetchImage fetches the asset for the request like Fetch and decodes it. It
// returns nil if the asset can not be resolved or is not a supported image.
func (c *Cache) FetchImage(ctx context.Context, req Request) image.Image {
	data := c.Fetch(ctx, req)
	if data == nil {
		return nil
	}
	img, _, err := imgcodec.Decode(data)
	if err != nil {
		c.log.Warn().Err(err).
			Str("identifier", req.Identifier).
			Str("key", req.Key).
			Msg("FetchImage: Not an image.")
		return nil
	}

	return img
}

// SaveImage encodes the image with the options and stores it under the
// explicit key. A nil opts means JPEG at the default quality. It reports
// whether the image was stored.
func (c *Cache) SaveImage(img image.Image, key string, scope Scope, opts *imgcodec.Options) bool {
	data, err := imgcodec.EncodeBytes(img, opts)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("SaveImage: Failed to encode.")
		return false
	}

	return c.Save(data, key, scope)
}
