package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	invoicedomain "github.com/billfold/billfold/internal/invoice/domain"
	servicechangedomain "github.com/billfold/billfold/internal/servicechange/domain"
	subscriptiondomain "github.com/billfold/billfold/internal/subscription/domain"
	tenantdomain "github.com/billfold/billfold/internal/tenant/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	repo        servicechangedomain.Repository
	invoiceRepo invoicedomain.Repository
	invoicesvc  invoicedomain.Service
	subRepo     subscriptiondomain.Repository
	tenantRepo  tenantdomain.Repository
}

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger

	Repo        servicechangedomain.Repository
	InvoiceRepo invoicedomain.Repository
	Invoicesvc  invoicedomain.Service
	SubRepo     subscriptiondomain.Repository
	TenantRepo  tenantdomain.Repository
}

func NewService(p ServiceParam) servicechangedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("servicechange.service"),

		repo:        p.Repo,
		invoiceRepo: p.InvoiceRepo,
		invoicesvc:  p.Invoicesvc,
		subRepo:     p.SubRepo,
		tenantRepo:  p.TenantRepo,
	}
}

// ProcessPending implements domain.Service.
func (s *Service) ProcessPending(ctx context.Context, org *tenantdomain.Organization, settings tenantdomain.BillingSettings, now time.Time) (servicechangedomain.Result, error) {
	var result servicechangedomain.Result
	var errs []error

	requests, err := s.repo.ListPending(ctx, s.db, org.ID)
	if err != nil {
		return result, err
	}

	for _, req := range requests {
		if err := s.process(ctx, org, settings, req, now, &result); err != nil {
			errs = append(errs, err)
		}
	}

	return result, errors.Join(errs...)
}

func (s *Service) process(ctx context.Context, org *tenantdomain.Organization, settings tenantdomain.BillingSettings, req servicechangedomain.Request, now time.Time, result *servicechangedomain.Result) error {
	invoice, err := s.invoiceRepo.FindByID(ctx, s.db, req.OrgID, req.InvoiceID)
	if err != nil {
		return err
	}
	if invoice == nil {
		result.Skipped++
		return nil
	}

	// Tenant-isolation safety: a request whose invoice no longer maps to a
	// resolvable tenant is skipped without noise.
	owner, err := s.tenantRepo.FindByID(ctx, s.db, invoice.OrgID)
	if err != nil {
		return err
	}
	if owner == nil {
		result.Skipped++
		return nil
	}

	sub, err := s.subRepo.FindByID(ctx, s.db, req.OrgID, req.SubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil || sub.Status != subscriptiondomain.StatusActive {
		// Guards against races with manual edits; the request stays pending.
		s.log.Info("change target not active, leaving request pending",
			zap.Int64("request_id", int64(req.ID)),
			zap.Int64("subscription_id", int64(req.SubscriptionID)),
		)
		result.Lines = append(result.Lines, fmt.Sprintf("request %d: service not active, not processed", req.ID))
		return nil
	}

	if settings.ProcessPaidChanges && invoice.Status == invoicedomain.StatusClosed {
		return s.complete(ctx, req, sub, invoice, now, result)
	}

	expiry := invoice.DueAt.AddDate(0, 0, settings.ChangeExpiryDays)
	if now.After(expiry) && invoice.Status != invoicedomain.StatusClosed {
		return s.expire(ctx, req, invoice, now, result)
	}

	return nil
}

func (s *Service) complete(ctx context.Context, req servicechangedomain.Request, sub *subscriptiondomain.Subscription, invoice *invoicedomain.Invoice, now time.Time, result *servicechangedomain.Result) error {
	packageName, cycle, amount, err := parsePayload(req.Payload)
	if err != nil {
		return s.fail(ctx, req, err, now, result)
	}

	ok, err := s.subRepo.ApplyChange(ctx, s.db, req.OrgID, sub.ID, packageName, cycle, amount, now)
	if err != nil {
		return err
	}
	if !ok {
		return s.fail(ctx, req, subscriptiondomain.ErrStatusConflict, now, result)
	}

	if err := s.invoicesvc.RewriteItemsForSubscription(ctx, req.OrgID, invoice.ID, sub.ID, []invoicedomain.ItemInput{{
		Description: fmt.Sprintf("Service change: %s to %s", sub.PackageName, packageName),
		Amount:      amount,
	}}, now); err != nil {
		s.log.Error("invoice line rewrite failed after change applied",
			zap.Int64("request_id", int64(req.ID)),
			zap.Error(err),
		)
	}

	if _, err := s.repo.MarkTerminal(ctx, s.db, req.OrgID, req.ID, servicechangedomain.StatusCompleted, nil, now); err != nil {
		return err
	}
	result.Completed++
	result.Lines = append(result.Lines, fmt.Sprintf("request %d completed: service %d now %s", req.ID, sub.ID, packageName))
	return nil
}

func (s *Service) expire(ctx context.Context, req servicechangedomain.Request, invoice *invoicedomain.Invoice, now time.Time, result *servicechangedomain.Result) error {
	err := s.invoicesvc.Void(ctx, req.OrgID, invoice.ID, true, now)
	if err != nil && !errors.Is(err, invoicedomain.ErrInvoiceNotVoidable) {
		return err
	}

	if _, err := s.repo.MarkTerminal(ctx, s.db, req.OrgID, req.ID, servicechangedomain.StatusCanceled, nil, now); err != nil {
		return err
	}
	result.Canceled++
	result.Lines = append(result.Lines, fmt.Sprintf("request %d expired: invoice %d voided", req.ID, invoice.ID))
	return nil
}

func (s *Service) fail(ctx context.Context, req servicechangedomain.Request, cause error, now time.Time, result *servicechangedomain.Result) error {
	message := cause.Error()
	if _, err := s.repo.MarkTerminal(ctx, s.db, req.OrgID, req.ID, servicechangedomain.StatusError, &message, now); err != nil {
		return err
	}
	result.Errored++
	result.Lines = append(result.Lines, fmt.Sprintf("request %d errored: %s", req.ID, message))
	return nil
}

func parsePayload(payload map[string]any) (string, subscriptiondomain.BillingCycleType, decimal.Decimal, error) {
	packageName, _ := payload["package_name"].(string)
	if packageName == "" {
		return "", "", decimal.Zero, fmt.Errorf("%w: missing package_name", servicechangedomain.ErrInvalidPayload)
	}

	cycleRaw, _ := payload["billing_cycle_type"].(string)
	if cycleRaw == "" {
		return "", "", decimal.Zero, fmt.Errorf("%w: missing billing_cycle_type", servicechangedomain.ErrInvalidPayload)
	}
	cycle := subscriptiondomain.BillingCycleType(cycleRaw)

	amount, err := parseAmount(payload["amount"])
	if err != nil {
		return "", "", decimal.Zero, fmt.Errorf("%w: %v", servicechangedomain.ErrInvalidPayload, err)
	}
	if amount.IsNegative() {
		return "", "", decimal.Zero, fmt.Errorf("%w: negative amount", servicechangedomain.ErrInvalidPayload)
	}

	return packageName, cycle, amount, nil
}

func parseAmount(raw any) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported amount type %T", raw)
	}
}
