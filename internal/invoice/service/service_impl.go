package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	clientdomain "github.com/billfold/billfold/internal/client/domain"
	"github.com/billfold/billfold/internal/clock"
	invoicedomain "github.com/billfold/billfold/internal/invoice/domain"
	"github.com/billfold/billfold/internal/providers/delivery"
	subscriptiondomain "github.com/billfold/billfold/internal/subscription/domain"
	tenantdomain "github.com/billfold/billfold/internal/tenant/domain"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Safety bound on the catch-up loop. Forward-only renewal advancement
// guarantees termination; the cap guards against clock regressions.
const maxCatchUpPasses = 120

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock

	repo       invoicedomain.Repository
	subRepo    subscriptiondomain.Repository
	clientRepo clientdomain.Repository
	delivery   delivery.Sender
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	Repo       invoicedomain.Repository
	SubRepo    subscriptiondomain.Repository
	ClientRepo clientdomain.Repository
	Delivery   delivery.Sender
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("invoice.service"),

		genID: p.GenID,
		clock: p.Clock,

		repo:       p.Repo,
		subRepo:    p.SubRepo,
		clientRepo: p.ClientRepo,
		delivery:   p.Delivery,
	}
}

// Create implements domain.Service.
func (s *Service) Create(ctx context.Context, orgID snowflake.ID, in invoicedomain.CreateInput) (*invoicedomain.Invoice, error) {
	if len(in.Items) == 0 {
		return nil, invoicedomain.ErrInvoiceEmpty
	}

	status := in.Status
	if status == "" {
		status = invoicedomain.StatusActive
	}

	now := s.clock.Now()
	total := decimal.Zero
	for _, item := range in.Items {
		total = total.Add(item.Amount)
	}

	invoice := &invoicedomain.Invoice{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		ClientID:    in.ClientID,
		Status:      status,
		Currency:    in.Currency,
		TotalAmount: total,
		BalanceDue:  total,
		DueAt:       in.DueAt,
		Metadata:    datatypes.JSONMap{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	items := make([]invoicedomain.Item, 0, len(in.Items))
	for _, line := range in.Items {
		items = append(items, invoicedomain.Item{
			ID:             s.genID.Generate(),
			OrgID:          orgID,
			InvoiceID:      invoice.ID,
			SubscriptionID: line.SubscriptionID,
			Description:    line.Description,
			Amount:         line.Amount,
			PeriodStart:    line.PeriodStart,
			PeriodEnd:      line.PeriodEnd,
			CreatedAt:      now,
		})
	}

	if err := s.repo.Insert(ctx, s.db, invoice, items); err != nil {
		return nil, err
	}
	return invoice, nil
}

// Find implements domain.Service.
func (s *Service) Find(ctx context.Context, orgID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

type renewalGroup struct {
	Client   snowflake.ID
	Currency string
	Family   snowflake.ID
}

// GenerateRenewalInvoices implements domain.Service.
func (s *Service) GenerateRenewalInvoices(ctx context.Context, org *tenantdomain.Organization, settings tenantdomain.BillingSettings, now time.Time) (invoicedomain.RenewalResult, error) {
	result := invoicedomain.RenewalResult{Failed: make(map[snowflake.ID]error)}
	var errs []error

	for pass := 0; pass < maxCatchUpPasses; pass++ {
		due, err := s.subRepo.ListDueForRenewal(ctx, s.db, org.ID, now, lo.Keys(result.Failed))
		if err != nil {
			return result, err
		}
		if len(due) == 0 {
			break
		}

		groups := lo.GroupBy(due, func(sub subscriptiondomain.Subscription) renewalGroup {
			key := renewalGroup{Client: sub.ClientID, Currency: sub.Currency}
			if settings.SplitInvoicesByFamily {
				key.Family = sub.FamilyID()
			}
			return key
		})

		progressed := false
		for key, subs := range groups {
			invoice, err := s.createRenewalInvoice(ctx, org.ID, key, subs)
			if err != nil {
				for _, sub := range subs {
					result.Failed[sub.ID] = err
				}
				errs = append(errs, err)
				result.Lines = append(result.Lines, fmt.Sprintf(
					"renewal invoice failed for client %d currency %s: %v",
					key.Client, key.Currency, err,
				))
				continue
			}
			result.Invoices++

			for _, sub := range subs {
				next := sub.BillingCycleType.NextPeriod(sub.NextDueAt)
				ok, err := s.subRepo.AdvanceRenewal(ctx, s.db, org.ID, sub.ID, sub.NextDueAt, next)
				if err != nil {
					result.Failed[sub.ID] = err
					errs = append(errs, err)
					continue
				}
				if !ok {
					result.Failed[sub.ID] = subscriptiondomain.ErrStatusConflict
					continue
				}
				result.Renewals++
				progressed = true
			}

			s.deliverCreated(ctx, org, invoice, &result)
		}

		if !progressed {
			break
		}
	}

	return result, errors.Join(errs...)
}

func (s *Service) createRenewalInvoice(ctx context.Context, orgID snowflake.ID, key renewalGroup, subs []subscriptiondomain.Subscription) (*invoicedomain.Invoice, error) {
	items := make([]invoicedomain.ItemInput, 0, len(subs))
	dueAt := subs[0].NextDueAt
	for _, sub := range subs {
		start := sub.NextDueAt
		end := sub.BillingCycleType.NextPeriod(start)
		subID := sub.ID
		items = append(items, invoicedomain.ItemInput{
			SubscriptionID: &subID,
			Description: fmt.Sprintf("%s (%s - %s)",
				sub.PackageName,
				start.Format("2006-01-02"),
				end.AddDate(0, 0, -1).Format("2006-01-02"),
			),
			Amount:      sub.EffectiveAmount(),
			PeriodStart: &start,
			PeriodEnd:   &end,
		})
		if sub.NextDueAt.Before(dueAt) {
			dueAt = sub.NextDueAt
		}
	}

	return s.Create(ctx, orgID, invoicedomain.CreateInput{
		ClientID: key.Client,
		Currency: key.Currency,
		DueAt:    dueAt,
		Items:    items,
	})
}

func (s *Service) deliverCreated(ctx context.Context, org *tenantdomain.Organization, invoice *invoicedomain.Invoice, result *invoicedomain.RenewalResult) {
	client, err := s.clientRepo.FindByID(ctx, s.db, org.ID, invoice.ClientID)
	if err == nil && client == nil {
		result.Lines = append(result.Lines, fmt.Sprintf("invoice %d: client missing, created notice skipped", invoice.ID))
		return
	}
	if err == nil {
		err = s.delivery.Send(ctx, org, client, invoice, invoicedomain.DeliveryKindCreated)
	}
	if err != nil {
		s.log.Warn("invoice created notice failed",
			zap.Int64("invoice_id", int64(invoice.ID)),
			zap.Error(err),
		)
		result.Lines = append(result.Lines, fmt.Sprintf("invoice %d created notice failed: %v", invoice.ID, err))
		return
	}

	record := &invoicedomain.Delivery{
		ID:        s.genID.Generate(),
		OrgID:     org.ID,
		InvoiceID: invoice.ID,
		Kind:      invoicedomain.DeliveryKindCreated,
		Recipient: client.Email,
		SentAt:    s.clock.Now(),
	}
	if err := s.repo.InsertDelivery(ctx, s.db, record); err != nil {
		s.log.Warn("invoice delivery record failed", zap.Error(err))
	}
}

// RecordPayment implements domain.Service.
func (s *Service) RecordPayment(ctx context.Context, orgID, clientID snowflake.ID, gateway, transactionRef string, allocations map[snowflake.ID]decimal.Decimal, at time.Time) error {
	if len(allocations) == 0 {
		return invoicedomain.ErrNothingToApply
	}

	var errs []error
	for invoiceID, amount := range allocations {
		if amount.LessThanOrEqual(decimal.Zero) {
			continue
		}
		payment := &invoicedomain.Payment{
			ID:             s.genID.Generate(),
			OrgID:          orgID,
			InvoiceID:      invoiceID,
			ClientID:       clientID,
			Gateway:        gateway,
			TransactionRef: transactionRef,
			Amount:         amount,
			AppliedAt:      at,
		}
		if err := s.repo.InsertPayment(ctx, s.db, payment); err != nil {
			errs = append(errs, fmt.Errorf("payment insert for invoice %d: %w", invoiceID, err))
			continue
		}
		if _, err := s.repo.ApplyAmount(ctx, s.db, orgID, invoiceID, amount, at); err != nil {
			errs = append(errs, fmt.Errorf("payment apply for invoice %d: %w", invoiceID, err))
		}
	}
	return errors.Join(errs...)
}

// Void implements domain.Service.
func (s *Service) Void(ctx context.Context, orgID, invoiceID snowflake.ID, unapply bool, at time.Time) error {
	if unapply {
		if err := s.repo.UnapplyPayments(ctx, s.db, orgID, invoiceID, at); err != nil {
			return err
		}
	}
	ok, err := s.repo.Void(ctx, s.db, orgID, invoiceID, at)
	if err != nil {
		return err
	}
	if !ok {
		return invoicedomain.ErrInvoiceNotVoidable
	}
	return nil
}

// RewriteItemsForSubscription implements domain.Service.
func (s *Service) RewriteItemsForSubscription(ctx context.Context, orgID, invoiceID, subscriptionID snowflake.ID, items []invoicedomain.ItemInput, at time.Time) error {
	if err := s.repo.DeleteItemsForSubscription(ctx, s.db, orgID, invoiceID, subscriptionID); err != nil {
		return err
	}

	rows := make([]invoicedomain.Item, 0, len(items))
	for _, in := range items {
		subID := subscriptionID
		if in.SubscriptionID != nil {
			subID = *in.SubscriptionID
		}
		rows = append(rows, invoicedomain.Item{
			ID:             s.genID.Generate(),
			OrgID:          orgID,
			InvoiceID:      invoiceID,
			SubscriptionID: &subID,
			Description:    in.Description,
			Amount:         in.Amount,
			PeriodStart:    in.PeriodStart,
			PeriodEnd:      in.PeriodEnd,
			CreatedAt:      at,
		})
	}
	if err := s.repo.InsertItems(ctx, s.db, rows); err != nil {
		return err
	}
	return s.repo.RecomputeTotals(ctx, s.db, orgID, invoiceID, at)
}
