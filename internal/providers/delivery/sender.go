// Package delivery sends invoice notices to client contacts. Rendering is
// deliberately plain; template-driven layouts live outside the engine.
package delivery

import (
	"context"
	"errors"
	"fmt"

	clientdomain "github.com/billfold/billfold/internal/client/domain"
	invoicedomain "github.com/billfold/billfold/internal/invoice/domain"
	"github.com/billfold/billfold/internal/providers/email"
	tenantdomain "github.com/billfold/billfold/internal/tenant/domain"
	"go.uber.org/zap"
)

var ErrNoRecipient = errors.New("delivery_no_recipient")

type Sender interface {
	Send(ctx context.Context, org *tenantdomain.Organization, client *clientdomain.Client, invoice *invoicedomain.Invoice, kind string) error
}

type emailSender struct {
	email email.Provider
	log   *zap.Logger
}

func NewSender(provider email.Provider, log *zap.Logger) Sender {
	return &emailSender{
		email: provider,
		log:   log.Named("providers.delivery"),
	}
}

func (s *emailSender) Send(ctx context.Context, org *tenantdomain.Organization, client *clientdomain.Client, invoice *invoicedomain.Invoice, kind string) error {
	if client == nil || client.Email == "" {
		return ErrNoRecipient
	}

	subject := subjectFor(kind, org.Name)
	body := fmt.Sprintf(
		"<p>Invoice %d for %s %s is due %s.</p>",
		invoice.ID,
		invoice.BalanceDue.StringFixed(2),
		invoice.Currency,
		invoice.DueAt.Format("2006-01-02"),
	)
	return s.email.Send(ctx, []string{client.Email}, subject, body)
}

func subjectFor(kind, orgName string) string {
	switch kind {
	case invoicedomain.DeliveryKindCreated:
		return fmt.Sprintf("New invoice from %s", orgName)
	case invoicedomain.DeliveryKindReminderFirst, invoicedomain.DeliveryKindReminderSecond:
		return fmt.Sprintf("Invoice payment reminder from %s", orgName)
	case invoicedomain.DeliveryKindReminderThird:
		return fmt.Sprintf("Overdue invoice notice from %s", orgName)
	case invoicedomain.DeliveryKindDebitNotice:
		return fmt.Sprintf("Upcoming automatic payment for %s", orgName)
	default:
		return fmt.Sprintf("Notification from %s", orgName)
	}
}
