package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	invoicedomain "github.com/billfold/billfold/internal/invoice/domain"
	recurringdomain "github.com/billfold/billfold/internal/recurring/domain"
	tenantdomain "github.com/billfold/billfold/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	repo       recurringdomain.Repository
	invoicesvc invoicedomain.Service
}

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger

	Repo       recurringdomain.Repository
	Invoicesvc invoicedomain.Service
}

func NewService(p ServiceParam) recurringdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("recurring.service"),

		repo:       p.Repo,
		invoicesvc: p.Invoicesvc,
	}
}

// GenerateDue implements domain.Service.
func (s *Service) GenerateDue(ctx context.Context, org *tenantdomain.Organization, now time.Time) (recurringdomain.Result, error) {
	var result recurringdomain.Result
	var errs []error

	templates, err := s.repo.ListDue(ctx, s.db, org.ID, now)
	if err != nil {
		return result, err
	}

	for _, tmpl := range templates {
		if err := s.generateOccurrence(ctx, org, tmpl); err != nil {
			errs = append(errs, err)
			result.Lines = append(result.Lines, fmt.Sprintf("template %d occurrence failed: %v", tmpl.ID, err))
			continue
		}
		result.Created++
		result.Lines = append(result.Lines, fmt.Sprintf("template %d invoiced for %s", tmpl.ID, tmpl.NextRenewalAt.Format("2006-01-02")))
	}

	return result, errors.Join(errs...)
}

func (s *Service) generateOccurrence(ctx context.Context, org *tenantdomain.Organization, tmpl recurringdomain.Template) error {
	if len(tmpl.Items) == 0 {
		return recurringdomain.ErrTemplateEmpty
	}

	items := make([]invoicedomain.ItemInput, 0, len(tmpl.Items))
	for _, line := range tmpl.Items {
		items = append(items, invoicedomain.ItemInput{
			Description: line.Description,
			Amount:      line.Amount,
		})
	}

	if _, err := s.invoicesvc.Create(ctx, org.ID, invoicedomain.CreateInput{
		ClientID: tmpl.ClientID,
		Currency: tmpl.Currency,
		DueAt:    tmpl.NextRenewalAt,
		Items:    items,
	}); err != nil {
		return err
	}

	next := tmpl.BillingCycleType.NextPeriod(tmpl.NextRenewalAt)
	ok, err := s.repo.AdvanceOccurrence(ctx, s.db, org.ID, tmpl.ID, tmpl.NextRenewalAt, next)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Warn("template advanced underneath occurrence",
			zap.Int64("template_id", int64(tmpl.ID)),
		)
	}
	return nil
}
