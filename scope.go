// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package assetcache

import (
	"fmt"
	"os"
	"path/filepath"
)

// Scope selects one of the two storage roots. The retention policy of each
// root is up to the operating system, not this package.
type Scope uint8

const (
	// ScopePrimary is the durable storage root. It is the zero value.
	ScopePrimary Scope = iota

	// ScopeSecondary is the purgeable storage root.
	ScopeSecondary

	numScopes = 2
)

// Scopes lists all the valid scopes.
var Scopes = []Scope{ScopePrimary, ScopeSecondary}

// String returns the name of the scope.
func (s Scope) String() string {
	switch s {
	case ScopePrimary:
		return "primary"
	case ScopeSecondary:
		return "secondary"
	}
	return fmt.Sprintf("scope(%d)", uint8(s))
}

// Valid reports whether s is one of the defined scopes.
func (s Scope) Valid() bool { return s < numScopes }

// ParseScope returns the scope with the given name.
func ParseScope(name string) (Scope, error) {
	for _, s := range Scopes {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown scope %q", ErrInvalidConfig, name)
}

// DirResolver is the interface implemented to provide the absolute path of
// the root directory of each scope.
type DirResolver interface {
	ScopeDir(Scope) (string, error)
}

// Dirs is the default DirResolver. Relative paths are resolved against the
// user-specific configuration directory for the primary scope, and against
// the user-specific cache directory for the secondary scope.
type Dirs struct {
	Primary   string
	Secondary string
}

// ScopeDir returns the absolute path of the root directory of the scope.
func (d Dirs) ScopeDir(s Scope) (string, error) {
	var (
		dir  string
		base func() (string, error)
	)
	switch s {
	case ScopePrimary:
		dir, base = d.Primary, os.UserConfigDir
	case ScopeSecondary:
		dir, base = d.Secondary, os.UserCacheDir
	default:
		return "", fmt.Errorf("%w: %v", ErrInvalidConfig, s)
	}

	if dir == "" {
		dir = filepath.Base(os.Args[0])
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir), nil
	}
	bdir, err := base()
	if err != nil {
		return "", fmt.Errorf("%s: can not resolve relative %v dir: %w", dir, s, err)
	}

	return filepath.Join(bdir, dir), nil
}
