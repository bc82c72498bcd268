// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

/*
Package assetcache provides a client-side cache for remote assets such as
images. Assets are downloaded once, stored as files in one of two local
directories, and served from the local copy on subsequent requests.

Batches of assets are fetched in fixed-size windows. All the items of a window
are fetched concurrently, and the next window is started only after every item
of the current one has been reported, so that the number of simultaneous
downloads stays bounded regardless of the batch size.

A failure never aborts anything. A single item that can not be resolved is
reported as nil data, and a batch always reports every item and then its
completion exactly once.
*/
package assetcache
