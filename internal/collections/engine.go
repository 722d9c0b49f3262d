// Package collections runs unattended automatic debit collection against
// open invoices inside their pre-due window.
package collections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	clientdomain "github.com/billfold/billfold/internal/client/domain"
	invoicedomain "github.com/billfold/billfold/internal/invoice/domain"
	"github.com/billfold/billfold/internal/providers/payment"
	tenantdomain "github.com/billfold/billfold/internal/tenant/domain"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options tunes one collection run. An empty UnlockPassphrase keeps the run
// strictly unattended: raw non-vaulted instruments are skipped rather than
// decrypted.
type Options struct {
	UnlockPassphrase string
}

// Result summarizes one collection run.
type Result struct {
	Charged int
	Skipped int
	Lines   []string
}

type Engine struct {
	db  *gorm.DB
	log *zap.Logger

	invoiceRepo invoicedomain.Repository
	invoicesvc  invoicedomain.Service
	clientRepo  clientdomain.Repository
	processors  *payment.Registry
}

type EngineParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger

	InvoiceRepo invoicedomain.Repository
	Invoicesvc  invoicedomain.Service
	ClientRepo  clientdomain.Repository
	Processors  *payment.Registry
}

func NewEngine(p EngineParam) *Engine {
	return &Engine{
		db:  p.DB,
		log: p.Log.Named("collections.engine"),

		invoiceRepo: p.InvoiceRepo,
		invoicesvc:  p.Invoicesvc,
		clientRepo:  p.ClientRepo,
		processors:  p.Processors,
	}
}

// Run collects every eligible invoice for one tenant. Each client+currency
// group charges independently; one failing group never aborts the rest.
func (e *Engine) Run(ctx context.Context, org *tenantdomain.Organization, settings tenantdomain.BillingSettings, now time.Time, opts Options) (Result, error) {
	var result Result
	var errs []error

	dueBy := now.AddDate(0, 0, settings.AutodebitPreDueDays)
	invoices, err := e.invoiceRepo.ListCollectible(ctx, e.db, org.ID, dueBy)
	if err != nil {
		return result, err
	}

	byClient := lo.GroupBy(invoices, func(inv invoicedomain.Invoice) snowflake.ID {
		return inv.ClientID
	})

	for clientID, clientInvoices := range byClient {
		client, err := e.clientRepo.FindByID(ctx, e.db, org.ID, clientID)
		if err != nil {
			errs = append(errs, err)
			result.Lines = append(result.Lines, fmt.Sprintf("client %d lookup failed: %v", clientID, err))
			continue
		}
		if client == nil || !client.AutodebitEnabled {
			result.Skipped += len(clientInvoices)
			continue
		}

		byCurrency := lo.GroupBy(clientInvoices, func(inv invoicedomain.Invoice) string {
			return inv.Currency
		})
		for currency, group := range byCurrency {
			if err := e.chargeGroup(ctx, org, client, currency, group, now, opts, &result); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return result, errors.Join(errs...)
}

func (e *Engine) chargeGroup(ctx context.Context, org *tenantdomain.Organization, client *clientdomain.Client, currency string, group []invoicedomain.Invoice, now time.Time, opts Options, result *Result) error {
	instrument, err := e.clientRepo.FindAutodebitInstrument(ctx, e.db, org.ID, client.ID)
	if err != nil {
		return err
	}
	if instrument == nil {
		result.Skipped += len(group)
		result.Lines = append(result.Lines, fmt.Sprintf("client %d: no designated debit instrument", client.ID))
		return nil
	}
	if !instrument.Vaulted && opts.UnlockPassphrase == "" {
		result.Skipped += len(group)
		result.Lines = append(result.Lines, fmt.Sprintf("client %d: raw instrument locked in unattended run", client.ID))
		return nil
	}

	processor, err := e.processors.ResolveForCurrency(currency)
	if err != nil {
		result.Skipped += len(group)
		result.Lines = append(result.Lines, fmt.Sprintf("client %d: no processor for %s", client.ID, currency))
		return nil
	}

	allocations := make(map[snowflake.ID]decimal.Decimal, len(group))
	total := decimal.Zero
	for _, inv := range group {
		allocations[inv.ID] = inv.BalanceDue
		total = total.Add(inv.BalanceDue)
	}
	if total.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	charge, err := processor.Charge(ctx, payment.ChargeRequest{
		OrgID:      org.ID,
		ClientID:   client.ID,
		Currency:   currency,
		Amount:     total,
		Invoices:   allocations,
		Instrument: instrument,
	})
	if err != nil {
		result.Lines = append(result.Lines, fmt.Sprintf(
			"client %d %s charge failed via %s: %v",
			client.ID, currency, processor.Name(), err,
		))
		return fmt.Errorf("client %d %s charge: %w", client.ID, currency, err)
	}

	if err := e.invoicesvc.RecordPayment(ctx, org.ID, client.ID, processor.Name(), charge.TransactionRef, allocations, now); err != nil {
		e.log.Error("charge succeeded but application failed",
			zap.Int64("client_id", int64(client.ID)),
			zap.String("transaction_ref", charge.TransactionRef),
			zap.Error(err),
		)
		return fmt.Errorf("apply transaction %s: %w", charge.TransactionRef, err)
	}

	result.Charged += len(group)
	result.Lines = append(result.Lines, fmt.Sprintf(
		"client %d charged %s %s across %d invoice(s) via %s",
		client.ID, total.StringFixed(2), currency, len(group), processor.Name(),
	))
	return nil
}
