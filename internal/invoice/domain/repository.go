package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice, items []Item) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Invoice, error)
	ListItems(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) ([]Item, error)

	// ListCollectible returns open invoices due at or before dueBy, i.e. the
	// autodebit candidates for one run.
	ListCollectible(ctx context.Context, db *gorm.DB, orgID snowflake.ID, dueBy time.Time) ([]Invoice, error)

	// ListOpen returns every invoice still carrying a balance.
	ListOpen(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Invoice, error)

	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error

	// ApplyAmount reduces the invoice balance and closes the invoice when it
	// reaches zero. Returns whether this application closed it.
	ApplyAmount(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID, amount decimal.Decimal, at time.Time) (bool, error)

	// UnapplyPayments deletes all payment applications and restores the
	// balance to the invoice total.
	UnapplyPayments(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID, at time.Time) error

	// Void terminates a non-closed invoice. Returns false when the invoice
	// was already closed or void.
	Void(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID, at time.Time) (bool, error)

	DeleteItemsForSubscription(ctx context.Context, db *gorm.DB, orgID, invoiceID, subscriptionID snowflake.ID) error
	InsertItems(ctx context.Context, db *gorm.DB, items []Item) error

	// RecomputeTotals rebuilds total and balance from items and payments
	// after a line rewrite.
	RecomputeTotals(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID, at time.Time) error

	HasDelivery(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID, kind string) (bool, error)
	InsertDelivery(ctx context.Context, db *gorm.DB, delivery *Delivery) error
}
