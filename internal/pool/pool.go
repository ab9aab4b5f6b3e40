// Package pool models the configuration of a single funding pool.
//
// A pool is created once with a fixed strategy configuration and is never
// mutated afterwards; all recipient and milestone state hangs off it.
package pool

import (
	"errors"
	"strings"
)

// ErrEmptyPoolID indicates a pool ID is required.
var ErrEmptyPoolID = errors.New("pool id is required")

// Config holds one pool's strategy configuration.
type Config struct {
	ID string

	// RegistrationGated requires registrants to carry a resolvable identity
	// anchor; the anchor identifier becomes the recipient id.
	RegistrationGated bool
	// MetadataRequired rejects registrations without metadata.
	MetadataRequired bool
	// GrantAmountRequired rejects registrations with a zero grant amount.
	GrantAmountRequired bool

	// AllocationOverrideCapped bounds a manager's allocate-time grant
	// override at the recipient's requested amount.
	AllocationOverrideCapped bool
	// SelfDistributionAllowed lets a recipient's payout address trigger
	// distribution for itself.
	SelfDistributionAllowed bool
	// ManagerMilestones restricts milestone scheduling to pool managers
	// instead of recipient self-service.
	ManagerMilestones bool
}

// DefaultConfig returns the policy defaults for a new pool.
func DefaultConfig(id string) Config {
	return Config{
		ID:                       id,
		AllocationOverrideCapped: true,
	}
}

// Normalize canonicalizes and validates a pool configuration.
func Normalize(cfg Config) (Config, error) {
	cfg.ID = strings.TrimSpace(cfg.ID)
	if cfg.ID == "" {
		return Config{}, ErrEmptyPoolID
	}
	return cfg, nil
}
