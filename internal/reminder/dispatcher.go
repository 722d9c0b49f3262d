// Package reminder sends due-date notices for open invoices. An offset
// fires only when the tenant-local calendar date lands exactly on its
// boundary, so each offset sends at most once per invoice.
package reminder

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
	tenantdomain "github.com/billfold/billfold/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Result summarizes one dispatch pass.
type Result struct {
	Sent  int
	Lines []string
}

type offset struct {
	kind          string
	days          *int
	autodebitOnly bool
}

type Dispatcher struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock

	invoiceRepo invoicedomain.Repository
	clientRepo  clientdomain.Repository
	delivery    delivery.Sender
}

type DispatcherParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	InvoiceRepo invoicedomain.Repository
	ClientRepo  clientdomain.Repository
	Delivery    delivery.Sender
}

func NewDispatcher(p DispatcherParam) *Dispatcher {
	return &Dispatcher{
		db:  p.DB,
		log: p.Log.Named("reminder.dispatcher"),

		genID: p.GenID,
		clock: p.Clock,

		invoiceRepo: p.InvoiceRepo,
		clientRepo:  p.ClientRepo,
		delivery:    p.Delivery,
	}
}

// Run evaluates every configured offset against every open invoice.
func (d *Dispatcher) Run(ctx context.Context, org *tenantdomain.Organization, settings tenantdomain.BillingSettings, now time.Time) (Result, error) {
	var result Result
	var errs []error

	offsets := make([]offset, 0, len(invoicedomain.ReminderKinds)+1)
	for i, days := range settings.ReminderOffsets() {
		offsets = append(offsets, offset{kind: invoicedomain.ReminderKinds[i], days: days})
	}
	offsets = append(offsets, offset{kind: invoicedomain.DeliveryKindDebitNotice, days: settings.AutodebitNoticeDays, autodebitOnly: true})

	loc := org.Location()
	today := localDay(now, loc)

	invoices, err := d.invoiceRepo.ListOpen(ctx, d.db, org.ID)
	if err != nil {
		return result, err
	}

	for _, invoice := range invoices {
		dueDay := localDay(invoice.DueAt, loc)
		for _, off := range offsets {
			if off.days == nil {
				continue
			}
			if !dueDay.AddDate(0, 0, *off.days).Equal(today) {
				continue
			}
			if err := d.send(ctx, org, invoice, off, &result); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return result, errors.Join(errs...)
}

func (d *Dispatcher) send(ctx context.Context, org *tenantdomain.Organization, invoice invoicedomain.Invoice, off offset, result *Result) error {
	sent, err := d.invoiceRepo.HasDelivery(ctx, d.db, org.ID, invoice.ID, off.kind)
	if err != nil {
		return err
	}
	if sent {
		return nil
	}

	client, err := d.clientRepo.FindByID(ctx, d.db, org.ID, invoice.ClientID)
	if err != nil {
		return err
	}
	if client == nil {
		result.Lines = append(result.Lines, fmt.Sprintf("invoice %d: client missing, %s skipped", invoice.ID, off.kind))
		return nil
	}
	if off.autodebitOnly && !client.AutodebitEnabled {
		return nil
	}

	if err := d.delivery.Send(ctx, org, client, &invoice, off.kind); err != nil {
		result.Lines = append(result.Lines, fmt.Sprintf("invoice %d: %s to %s failed: %v", invoice.ID, off.kind, client.Email, err))
		return fmt.Errorf("invoice %d %s: %w", invoice.ID, off.kind, err)
	}

	record := &invoicedomain.Delivery{
		ID:        d.genID.Generate(),
		OrgID:     org.ID,
		InvoiceID: invoice.ID,
		Kind:      off.kind,
		Recipient: client.Email,
		SentAt:    d.clock.Now(),
	}
	if err := d.invoiceRepo.InsertDelivery(ctx, d.db, record); err != nil {
		return err
	}

	result.Sent++
	result.Lines = append(result.Lines, fmt.Sprintf("invoice %d: %s sent to %s", invoice.ID, off.kind, client.Email))
	return nil
}

func localDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
