package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrStatusConflict       = errors.New("subscription_status_conflict")
)

// Service performs single-service lifecycle transitions. Each transition
// runs the provisioning module first, then flips the stored status with a
// conditional update so concurrent sweeps cannot double-apply it.
type Service interface {
	Suspend(ctx context.Context, sub *Subscription, now time.Time) error
	Unsuspend(ctx context.Context, sub *Subscription, now time.Time) error
	Cancel(ctx context.Context, sub *Subscription, now time.Time) error
	Activate(ctx context.Context, sub *Subscription, now time.Time) error
}
