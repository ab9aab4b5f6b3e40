// Package anchor defines the identity anchor boundary used for gated
// registration.
package anchor

import (
	"context"
	"errors"
)

// ErrNotFound indicates the identifier has no resolvable anchor.
var ErrNotFound = errors.New("anchor not found")

// Resolver resolves a principal identifier to its verified owning identity.
type Resolver interface {
	// ResolveOwner returns the owner address behind an anchor identifier.
	// Returns ErrNotFound when the identifier has no anchor.
	ResolveOwner(ctx context.Context, identifier string) (string, error)
}

// StaticResolver is a fixed identifier-to-owner map for tests and the CLI.
type StaticResolver map[string]string

// ResolveOwner returns the owner address behind an anchor identifier.
func (r StaticResolver) ResolveOwner(_ context.Context, identifier string) (string, error) {
	owner, ok := r[identifier]
	if !ok {
		return "", ErrNotFound
	}
	return owner, nil
}
