package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	List(ctx context.Context) ([]Organization, error)
	GetByID(ctx context.Context, id snowflake.ID) (Organization, error)
	GetBySlug(ctx context.Context, slug string) (Organization, error)
	// Settings returns the tenant's billing policy, substituting defaults
	// when no row exists.
	Settings(ctx context.Context, orgID snowflake.ID) (BillingSettings, error)
}

var (
	ErrOrganizationNotFound = errors.New("organization_not_found")
)
