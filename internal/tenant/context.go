// Package tenant carries tenant identity through request contexts and derives
// the per-tenant vector transform used to isolate embeddings.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrMissingTenant is returned when tenant info is missing from context.
	// Callers fail closed: no tenant, no data.
	ErrMissingTenant = errors.New("tenant info missing from context")

	// ErrInvalidTenantID is returned when a tenant identifier is malformed.
	ErrInvalidTenantID = errors.New("invalid tenant ID")
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:@-]{1,128}$`)

// ValidateID checks that id is a usable tenant identifier.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTenantID)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidTenantID, id)
	}
	return nil
}

// Info identifies the caller's tenant.
type Info struct {
	// TenantID is the user or account identifier (required).
	TenantID string
}

// Validate checks that required fields are present and valid.
func (i *Info) Validate() error {
	return ValidateID(i.TenantID)
}

type contextKey struct{}

// WithTenant adds tenant info to a context.
func WithTenant(ctx context.Context, info *Info) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

// WithTenantID is shorthand for WithTenant(ctx, &Info{TenantID: id}).
func WithTenantID(ctx context.Context, id string) context.Context {
	return WithTenant(ctx, &Info{TenantID: id})
}

// FromContext extracts tenant info from a context.
// Returns ErrMissingTenant if absent and ErrInvalidTenantID if malformed.
func FromContext(ctx context.Context) (*Info, error) {
	info, ok := ctx.Value(contextKey{}).(*Info)
	if !ok || info == nil {
		return nil, ErrMissingTenant
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	return info, nil
}

// IDFromContext returns the tenant ID from ctx, or "" if none is present.
func IDFromContext(ctx context.Context) string {
	info, ok := ctx.Value(contextKey{}).(*Info)
	if !ok || info == nil {
		return ""
	}
	return info.TenantID
}
