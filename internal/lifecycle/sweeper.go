// Package lifecycle drives the scheduled service state transitions:
// suspension, unsuspension, scheduled cancellation, and paid-pending
// activation.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/billfold/billfold/internal/providers/email"
	subscriptiondomain "github.com/billfold/billfold/internal/subscription/domain"
	tenantdomain "github.com/billfold/billfold/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Result summarizes one sweep.
type Result struct {
	Processed int
	Lines     []string
}

type Sweeper struct {
	db  *gorm.DB
	log *zap.Logger

	subRepo subscriptiondomain.Repository
	subsvc  subscriptiondomain.Service
	email   email.Provider
}

type SweeperParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger

	SubRepo subscriptiondomain.Repository
	Subsvc  subscriptiondomain.Service
	Email   email.Provider
}

func NewSweeper(p SweeperParam) *Sweeper {
	return &Sweeper{
		db:  p.DB,
		log: p.Log.Named("lifecycle.sweeper"),

		subRepo: p.SubRepo,
		subsvc:  p.Subsvc,
		email:   p.Email,
	}
}

// SuspendOverdue suspends active services whose unpaid invoices aged past
// the tenant's grace window. Selection already honors the client autosuspend
// flag and any deferred do-not-suspend-before override.
func (s *Sweeper) SuspendOverdue(ctx context.Context, org *tenantdomain.Organization, settings tenantdomain.BillingSettings, now time.Time) (Result, error) {
	var result Result
	if !settings.AutoSuspendEnabled {
		result.Lines = append(result.Lines, "auto-suspension disabled by tenant policy")
		return result, nil
	}

	cutoff := now.AddDate(0, 0, -settings.SuspendGraceDays)
	subs, err := s.subRepo.ListSuspendable(ctx, s.db, org.ID, cutoff, now)
	if err != nil {
		return result, err
	}
	return s.apply(ctx, org, subs, now, "suspend", s.subsvc.Suspend)
}

// UnsuspendCleared reactivates suspended services whose overdue balance has
// cleared.
func (s *Sweeper) UnsuspendCleared(ctx context.Context, org *tenantdomain.Organization, now time.Time) (Result, error) {
	subs, err := s.subRepo.ListSuspendedPaid(ctx, s.db, org.ID, now)
	if err != nil {
		return Result{}, err
	}
	return s.apply(ctx, org, subs, now, "unsuspend", s.subsvc.Unsuspend)
}

// CancelScheduled terminates services whose resolved cancellation instant
// has arrived. End-of-term markers resolve against the current renewal
// timestamp.
func (s *Sweeper) CancelScheduled(ctx context.Context, org *tenantdomain.Organization, now time.Time) (Result, error) {
	subs, err := s.subRepo.ListDueForCancellation(ctx, s.db, org.ID, now)
	if err != nil {
		return Result{}, err
	}
	// The recorded cancellation instant is the scheduled one, not the
	// sweep time.
	return s.apply(ctx, org, subs, now, "cancel", func(ctx context.Context, sub *subscriptiondomain.Subscription, swept time.Time) error {
		return s.subsvc.Cancel(ctx, sub, sub.EffectiveCancelAt(swept))
	})
}

// ActivatePaidPending promotes pending services with a settled initial
// invoice, replaying their stored provisioning payload.
func (s *Sweeper) ActivatePaidPending(ctx context.Context, org *tenantdomain.Organization, settings tenantdomain.BillingSettings, now time.Time) (Result, error) {
	var result Result
	if !settings.ActivatePaidPending {
		result.Lines = append(result.Lines, "paid-pending activation disabled by tenant policy")
		return result, nil
	}

	subs, err := s.subRepo.ListPendingPaid(ctx, s.db, org.ID)
	if err != nil {
		return result, err
	}
	return s.apply(ctx, org, subs, now, "activate", s.subsvc.Activate)
}

func (s *Sweeper) apply(ctx context.Context, org *tenantdomain.Organization, subs []subscriptiondomain.Subscription, now time.Time, action string, op func(context.Context, *subscriptiondomain.Subscription, time.Time) error) (Result, error) {
	var result Result
	var errs []error

	for i := range subs {
		sub := &subs[i]
		if err := op(ctx, sub, now); err != nil {
			errs = append(errs, err)
			result.Lines = append(result.Lines, fmt.Sprintf("%s failed for service %d: %v", action, sub.ID, err))
			s.notifyOperator(ctx, org, action, sub, err)
			continue
		}
		result.Processed++
		result.Lines = append(result.Lines, fmt.Sprintf("%s applied to service %d", action, sub.ID))
	}

	return result, errors.Join(errs...)
}

// notifyOperator emails the tenant's support contact about a provisioning
// failure. Clients are never notified of internal scheduling failures.
func (s *Sweeper) notifyOperator(ctx context.Context, org *tenantdomain.Organization, action string, sub *subscriptiondomain.Subscription, cause error) {
	if org.SupportEmail == "" {
		return
	}
	subject := fmt.Sprintf("Service %s failed for %s", action, org.Name)
	body := fmt.Sprintf(
		"<p>Automatic %s of service %d (%s) failed:</p><pre>%v</pre>",
		action, sub.ID, sub.PackageName, cause,
	)
	if err := s.email.Send(ctx, []string{org.SupportEmail}, subject, body); err != nil {
		s.log.Warn("operator notification failed",
			zap.String("action", action),
			zap.Int64("subscription_id", int64(sub.ID)),
			zap.Error(err),
		)
	}
}
