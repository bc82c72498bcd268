// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package assetcache

import (
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashSize is the size, in bytes, of the identifier hash used by HashKey.
const HashSize = 32

// maxKeyLen is the maximum length of an explicit key. Most file systems do not
// accept longer file names.
const maxKeyLen = 255

// legacyKeyLen is the length LegacyKey truncates its encoding to.
const legacyKeyLen = 100

// KeyFunc derives the file name under which the asset identified by the given
// remote identifier is stored. It must be deterministic, and the returned name
// must be a valid single file name.
type KeyFunc func(identifier string) string

// HashKey returns the hex representation of the SHA-512/256 hash of the
// identifier. The returned key is always HashSize*2 characters long.
func HashKey(identifier string) string {
	hash := sha512.Sum512_256([]byte(identifier))
	return hex.EncodeToString(hash[:])
}

// LegacyKey returns the URL-safe base64 encoding of the identifier truncated to
// 100 characters. It is only provided to reuse cache directories populated by
// older clients that named files this way. Two identifiers sharing a long
// common prefix map to the same key, so HashKey should be preferred.
func LegacyKey(identifier string) string {
	s := base64.URLEncoding.EncodeToString([]byte(identifier))
	if legacyKeyLen < len(s) {
		s = s[:legacyKeyLen]
	}
	return s
}

// DeriveKey derives the cache key using HashKey. See Cache.Locate for the
// precedence rules.
func DeriveKey(identifier, key string) (string, error) {
	return deriveKey(HashKey, identifier, key)
}

// deriveKey returns kf(identifier) if identifier is not empty, or key itself
// if it is a valid file name. Otherwise it returns ErrInvalidKey.
func deriveKey(kf KeyFunc, identifier, key string) (string, error) {
	switch {
	case identifier != "":
		return kf(identifier), nil
	case key == "":
		return "", fmt.Errorf("%w: no identifier nor key", ErrInvalidKey)
	case !validKey(key):
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	return key, nil
}

// validKey reports whether the key can be used verbatim as a file name inside
// a scope directory.
func validKey(key string) bool {
	switch {
	case key == "", key == ".", key == "..", key == stagingDir:
		return false
	case maxKeyLen < len(key):
		return false
	case strings.ContainsAny(key, "/\\\x00"):
		return false
	}
	return true
}
