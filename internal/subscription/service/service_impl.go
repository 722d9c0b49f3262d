package service

import (
	"context"
	"fmt"
	"time"

	"github.com/billfold/billfold/internal/providers/provisioning"
	subscriptiondomain "github.com/billfold/billfold/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	repo    subscriptiondomain.Repository
	modules *provisioning.Registry
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    subscriptiondomain.Repository
	Modules *provisioning.Registry
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		repo:    p.Repo,
		modules: p.Modules,
	}
}

// Suspend implements domain.Service.
func (s *Service) Suspend(ctx context.Context, sub *subscriptiondomain.Subscription, now time.Time) error {
	if err := s.runModule(ctx, sub, provisioning.Provisioner.Suspend); err != nil {
		return fmt.Errorf("suspend %d: %w", sub.ID, err)
	}
	return s.transition(ctx, sub, subscriptiondomain.StatusActive, subscriptiondomain.StatusSuspended, now)
}

// Unsuspend implements domain.Service.
func (s *Service) Unsuspend(ctx context.Context, sub *subscriptiondomain.Subscription, now time.Time) error {
	if err := s.runModule(ctx, sub, provisioning.Provisioner.Unsuspend); err != nil {
		return fmt.Errorf("unsuspend %d: %w", sub.ID, err)
	}
	return s.transition(ctx, sub, subscriptiondomain.StatusSuspended, subscriptiondomain.StatusActive, now)
}

// Cancel implements domain.Service.
func (s *Service) Cancel(ctx context.Context, sub *subscriptiondomain.Subscription, now time.Time) error {
	if err := s.runModule(ctx, sub, provisioning.Provisioner.Terminate); err != nil {
		return fmt.Errorf("cancel %d: %w", sub.ID, err)
	}
	return s.transition(ctx, sub, sub.Status, subscriptiondomain.StatusCanceled, now)
}

// Activate replays the stored provisioning payload, then promotes the
// service out of pending.
func (s *Service) Activate(ctx context.Context, sub *subscriptiondomain.Subscription, now time.Time) error {
	if err := s.runModule(ctx, sub, provisioning.Provisioner.Create); err != nil {
		return fmt.Errorf("activate %d: %w", sub.ID, err)
	}
	return s.transition(ctx, sub, subscriptiondomain.StatusPending, subscriptiondomain.StatusActive, now)
}

func (s *Service) runModule(ctx context.Context, sub *subscriptiondomain.Subscription, op func(provisioning.Provisioner, context.Context, provisioning.Request) error) error {
	module, err := s.modules.Resolve(sub.ProvisionModule)
	if err != nil {
		return err
	}
	return op(module, ctx, provisioning.Request{
		OrgID:          sub.OrgID,
		SubscriptionID: sub.ID,
		ClientID:       sub.ClientID,
		PackageName:    sub.PackageName,
		Payload:        sub.ProvisionPayload,
	})
}

func (s *Service) transition(ctx context.Context, sub *subscriptiondomain.Subscription, from, to subscriptiondomain.Status, now time.Time) error {
	ok, err := s.repo.TransitionStatus(ctx, s.db, sub.OrgID, sub.ID, from, to, now)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Warn("status moved underneath transition",
			zap.Int64("subscription_id", int64(sub.ID)),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		return subscriptiondomain.ErrStatusConflict
	}
	sub.Status = to
	return nil
}
