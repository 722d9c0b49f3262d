package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Subscription, error)

	// ListDueForRenewal returns active services whose renewal timestamp has
	// passed, excluding the given ids.
	ListDueForRenewal(ctx context.Context, db *gorm.DB, orgID snowflake.ID, dueBy time.Time, exclude []snowflake.ID) ([]Subscription, error)

	// ListSuspendable returns active services overdue past the grace cutoff
	// whose suspension is not deferred beyond now.
	ListSuspendable(ctx context.Context, db *gorm.DB, orgID snowflake.ID, overdueBefore, now time.Time) ([]Subscription, error)

	// ListSuspendedPaid returns suspended services with no overdue unpaid
	// invoice, i.e. candidates for unsuspension.
	ListSuspendedPaid(ctx context.Context, db *gorm.DB, orgID snowflake.ID, now time.Time) ([]Subscription, error)

	// ListDueForCancellation returns services whose literal cancel instant
	// has passed, plus end-of-term cancellations whose term has rolled over.
	ListDueForCancellation(ctx context.Context, db *gorm.DB, orgID snowflake.ID, now time.Time) ([]Subscription, error)

	// ListPendingPaid returns pending services whose initial invoice is
	// fully settled.
	ListPendingPaid(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Subscription, error)

	// AdvanceRenewal moves the renewal timestamp forward from its expected
	// current value. Returns false when the row moved underneath us or the
	// target does not advance the timestamp.
	AdvanceRenewal(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, from, to time.Time) (bool, error)

	// TransitionStatus flips status only when the current value matches.
	TransitionStatus(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, from, to Status, at time.Time) (bool, error)

	// ApplyChange rewrites the billed package on an active service. Returns
	// false when the service is no longer active.
	ApplyChange(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, packageName string, cycle BillingCycleType, amount decimal.Decimal, at time.Time) (bool, error)

	// SetDoNotSuspendBefore defers suspension for one service.
	SetDoNotSuspendBefore(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, until *time.Time) error
}
