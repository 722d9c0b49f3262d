package domain

import (
	"context"
	"errors"
	"time"

	tenantdomain "github.com/billfold/billfold/internal/tenant/domain"
)

var ErrInvalidPayload = errors.New("service_change_invalid_payload")

// Result summarizes one queue pass.
type Result struct {
	Completed int
	Canceled  int
	Errored   int
	Skipped   int
	Lines     []string
}

// Service consumes the pending change queue. Requests stay pending until
// their invoice settles or ages past the tenant's expiry window.
type Service interface {
	ProcessPending(ctx context.Context, org *tenantdomain.Organization, settings tenantdomain.BillingSettings, now time.Time) (Result, error)
}
