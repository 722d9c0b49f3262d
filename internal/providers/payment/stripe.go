package payment

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
)

// StripeProcessor charges vaulted instruments off-session through Stripe
// payment intents.
type StripeProcessor struct {
	client *stripe.Client
}

func NewStripe(apiKey string) *StripeProcessor {
	return &StripeProcessor{client: stripe.NewClient(apiKey, nil)}
}

func (p *StripeProcessor) Name() string { return "stripe" }

func (p *StripeProcessor) Supports(currency string) bool { return true }

func (p *StripeProcessor) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.Instrument == nil || !req.Instrument.Vaulted || req.Instrument.GatewayToken == "" {
		return nil, ErrInstrumentNotVaulted
	}

	amountInCents := req.Amount.Mul(decimal.NewFromInt(100)).IntPart()
	params := &stripe.PaymentIntentCreateParams{
		Amount:        stripe.Int64(amountInCents),
		Currency:      stripe.String(req.Currency),
		PaymentMethod: stripe.String(req.Instrument.GatewayToken),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
		Metadata: map[string]string{
			"org_id":    req.OrgID.String(),
			"client_id": req.ClientID.String(),
		},
	}

	intent, err := p.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("stripe charge: %w", err)
	}
	return &ChargeResult{TransactionRef: intent.ID}, nil
}
