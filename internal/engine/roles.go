package engine

import (
	"context"
	"fmt"

	apperrors "github.com/openpool/grantgate/internal/platform/errors"
)

// RoleManager authorizes pool management operations.
const RoleManager = "manager"

// RoleChecker answers whether a caller holds a role for this pool.
type RoleChecker interface {
	HasRole(ctx context.Context, caller string, role string) (bool, error)
}

// StaticRoles maps callers to fixed role sets for tests and the CLI.
type StaticRoles map[string][]string

// HasRole reports whether the caller holds the role.
func (r StaticRoles) HasRole(_ context.Context, caller string, role string) (bool, error) {
	for _, held := range r[caller] {
		if held == role {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) isManager(ctx context.Context, caller string) (bool, error) {
	ok, err := e.roles.HasRole(ctx, caller, RoleManager)
	if err != nil {
		return false, fmt.Errorf("check manager role: %w", err)
	}
	return ok, nil
}

func (e *Engine) requireManager(ctx context.Context, caller string) error {
	ok, err := e.isManager(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.WithMetadata(
			apperrors.CodeCallerNotManager,
			"caller lacks the pool manager role",
			map[string]string{"Caller": caller},
		)
	}
	return nil
}

func requireRecipientCaller(caller string, payoutAddress string) error {
	if caller != payoutAddress {
		return apperrors.WithMetadata(
			apperrors.CodeCallerNotRecipient,
			"caller is not the recipient's payout address",
			map[string]string{"Caller": caller},
		)
	}
	return nil
}
