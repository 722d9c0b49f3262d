package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/billfold/billfold/internal/tenant/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrInvoiceNotFound    = errors.New("invoice_not_found")
	ErrInvoiceEmpty       = errors.New("invoice_has_no_lines")
	ErrInvoiceNotVoidable = errors.New("invoice_not_voidable")
	ErrNothingToApply     = errors.New("payment_has_no_allocations")
)

// ItemInput is one requested invoice line.
type ItemInput struct {
	SubscriptionID *snowflake.ID
	Description    string
	Amount         decimal.Decimal
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
}

// CreateInput describes a new invoice. A zero Status creates an active
// (collectible) invoice.
type CreateInput struct {
	ClientID snowflake.ID
	Currency string
	Status   Status
	DueAt    time.Time
	Items    []ItemInput
}

// RenewalResult summarizes one renewal generator pass.
type RenewalResult struct {
	Invoices int
	Renewals int
	// Failed holds the services excluded after their group's invoice
	// creation failed; their renewal timestamps were not advanced.
	Failed map[snowflake.ID]error
	Lines  []string
}

type Service interface {
	Create(ctx context.Context, orgID snowflake.ID, in CreateInput) (*Invoice, error)
	Find(ctx context.Context, orgID, id snowflake.ID) (*Invoice, error)

	// GenerateRenewalInvoices drains every due service renewal, catching up
	// multiple periods in one call. Groups that fail invoice creation are
	// excluded from the rest of the pass.
	GenerateRenewalInvoices(ctx context.Context, org *tenantdomain.Organization, settings tenantdomain.BillingSettings, now time.Time) (RenewalResult, error)

	// RecordPayment inserts one payment application per allocation and
	// reduces each invoice balance, closing invoices that reach zero.
	RecordPayment(ctx context.Context, orgID, clientID snowflake.ID, gateway, transactionRef string, allocations map[snowflake.ID]decimal.Decimal, at time.Time) error

	// Void terminates an invoice, optionally stripping partial payments
	// first so the balance reflects the full total at void time.
	Void(ctx context.Context, orgID, invoiceID snowflake.ID, unapply bool, at time.Time) error

	// RewriteItemsForSubscription replaces a service's lines on one invoice
	// and recomputes the totals.
	RewriteItemsForSubscription(ctx context.Context, orgID, invoiceID, subscriptionID snowflake.ID, items []ItemInput, at time.Time) error
}
