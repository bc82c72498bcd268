// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package assetcache

import "errors"

// ErrInvalidConfig is the error thrown when the passed configuration parameter
// is not valid.
var ErrInvalidConfig = errors.New("invalid config")

// ErrInternal is the error thrown when an internal error occurred.
var ErrInternal = errors.New("internal error")

// ErrInvalidKey is the error thrown when neither an identifier nor a usable
// explicit key is given, so that no storage location can be resolved.
var ErrInvalidKey = errors.New("invalid key")

// ErrNotFound is the error thrown when the requested blob does not exist in
// the store.
var ErrNotFound = errors.New("not found")

// ErrIO is the error thrown when the local storage fails to write or remove a
// blob.
var ErrIO = errors.New("i/o error")

// ErrTransport is the error thrown when a remote asset could not be retrieved
// for any reason.
var ErrTransport = errors.New("transport error")
