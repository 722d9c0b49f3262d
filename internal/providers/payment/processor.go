// Package payment defines the processor contract used by unattended
// collection runs, plus the installed gateway implementations.
package payment

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	clientdomain "github.com/billfold/billfold/internal/client/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrNoProcessorForCurrency = errors.New("no_processor_for_currency")
	ErrInstrumentNotVaulted   = errors.New("instrument_not_vaulted")
)

// ChargeRequest is a single-currency charge covering one or more invoices.
// Invoices maps invoice id to the portion of Amount it carries, so the
// resulting transaction can apply proportionally.
type ChargeRequest struct {
	OrgID      snowflake.ID
	ClientID   snowflake.ID
	Currency   string
	Amount     decimal.Decimal
	Invoices   map[snowflake.ID]decimal.Decimal
	Instrument *clientdomain.PaymentInstrument
}

type ChargeResult struct {
	TransactionRef string
}

type Processor interface {
	Name() string
	Supports(currency string) bool
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}
