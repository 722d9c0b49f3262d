package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/billfold/billfold/internal/invoice/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const invoiceColumns = `id, org_id, client_id, status, currency, total_amount, balance_due,
	due_at, closed_at, voided_at, metadata, created_at, updated_at`

type repo struct{}

func Provide() invoicedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *invoicedomain.Invoice, items []invoicedomain.Item) error {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO invoices (
			id, org_id, client_id, status, currency, total_amount, balance_due,
			due_at, closed_at, voided_at, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.OrgID,
		invoice.ClientID,
		invoice.Status,
		invoice.Currency,
		invoice.TotalAmount,
		invoice.BalanceDue,
		invoice.DueAt,
		invoice.ClosedAt,
		invoice.VoidedAt,
		invoice.Metadata,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error
	if err != nil {
		return err
	}
	return r.InsertItems(ctx, db, items)
}

func (r *repo) InsertItems(ctx context.Context, db *gorm.DB, items []invoicedomain.Item) error {
	for _, item := range items {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO invoice_items (
				id, org_id, invoice_id, subscription_id, description, amount,
				period_start, period_end, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID,
			item.OrgID,
			item.InvoiceID,
			item.SubscriptionID,
			item.Description,
			item.Amount,
			item.PeriodStart,
			item.PeriodEnd,
			item.CreatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) ([]invoicedomain.Item, error) {
	var items []invoicedomain.Item
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, invoice_id, subscription_id, description, amount,
		 period_start, period_end, created_at
		 FROM invoice_items
		 WHERE org_id = ? AND invoice_id = ?
		 ORDER BY id ASC`,
		orgID,
		invoiceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListCollectible(ctx context.Context, db *gorm.DB, orgID snowflake.ID, dueBy time.Time) ([]invoicedomain.Invoice, error) {
	var invoices []invoicedomain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+`
		 FROM invoices
		 WHERE org_id = ? AND status IN ? AND balance_due > 0 AND due_at <= ?
		 ORDER BY due_at ASC, id ASC`,
		orgID,
		invoicedomain.OpenStatuses,
		dueBy,
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) ListOpen(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]invoicedomain.Invoice, error) {
	var invoices []invoicedomain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+`
		 FROM invoices
		 WHERE org_id = ? AND status IN ? AND balance_due > 0
		 ORDER BY due_at ASC, id ASC`,
		orgID,
		invoicedomain.OpenStatuses,
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *invoicedomain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, org_id, invoice_id, client_id, gateway, transaction_ref, amount, applied_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.OrgID,
		payment.InvoiceID,
		payment.ClientID,
		payment.Gateway,
		payment.TransactionRef,
		payment.Amount,
		payment.AppliedAt,
	).Error
}

func (r *repo) ApplyAmount(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID, amount decimal.Decimal, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET balance_due = balance_due - ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND status IN ? AND balance_due >= ?`,
		amount,
		at,
		orgID,
		invoiceID,
		invoicedomain.OpenStatuses,
		amount,
	)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, gorm.ErrRecordNotFound
	}

	closed := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, closed_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND status IN ? AND balance_due <= 0`,
		invoicedomain.StatusClosed,
		at,
		at,
		orgID,
		invoiceID,
		invoicedomain.OpenStatuses,
	)
	if closed.Error != nil {
		return false, closed.Error
	}
	return closed.RowsAffected > 0, nil
}

func (r *repo) UnapplyPayments(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID, at time.Time) error {
	if err := db.WithContext(ctx).Exec(
		`DELETE FROM payments WHERE org_id = ? AND invoice_id = ?`,
		orgID,
		invoiceID,
	).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET balance_due = total_amount, status = ?, closed_at = NULL, updated_at = ?
		 WHERE org_id = ? AND id = ? AND status IN ?`,
		invoicedomain.StatusActive,
		at,
		orgID,
		invoiceID,
		[]invoicedomain.Status{invoicedomain.StatusActive, invoicedomain.StatusClosed},
	).Error
}

func (r *repo) Void(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, voided_at = ?, balance_due = 0, updated_at = ?
		 WHERE org_id = ? AND id = ? AND status IN ?`,
		invoicedomain.StatusVoid,
		at,
		at,
		orgID,
		invoiceID,
		[]invoicedomain.Status{invoicedomain.StatusDraft, invoicedomain.StatusActive, invoicedomain.StatusProforma},
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) DeleteItemsForSubscription(ctx context.Context, db *gorm.DB, orgID, invoiceID, subscriptionID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM invoice_items WHERE org_id = ? AND invoice_id = ? AND subscription_id = ?`,
		orgID,
		invoiceID,
		subscriptionID,
	).Error
}

func (r *repo) RecomputeTotals(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices SET
		 total_amount = COALESCE((SELECT SUM(amount) FROM invoice_items WHERE org_id = ? AND invoice_id = ?), 0),
		 balance_due = COALESCE((SELECT SUM(amount) FROM invoice_items WHERE org_id = ? AND invoice_id = ?), 0)
			- COALESCE((SELECT SUM(amount) FROM payments WHERE org_id = ? AND invoice_id = ?), 0),
		 updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		orgID, invoiceID,
		orgID, invoiceID,
		orgID, invoiceID,
		at,
		orgID, invoiceID,
	).Error
}

func (r *repo) HasDelivery(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID, kind string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM invoice_deliveries WHERE org_id = ? AND invoice_id = ? AND kind = ?`,
		orgID,
		invoiceID,
		kind,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) InsertDelivery(ctx context.Context, db *gorm.DB, delivery *invoicedomain.Delivery) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoice_deliveries (
			id, org_id, invoice_id, kind, recipient, sent_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		delivery.ID,
		delivery.OrgID,
		delivery.InvoiceID,
		delivery.Kind,
		delivery.Recipient,
		delivery.SentAt,
	).Error
}
