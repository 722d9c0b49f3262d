package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	clientdomain "github.com/billfold/billfold/internal/client/domain"
	clientrepository "github.com/billfold/billfold/internal/client/repository"
	"github.com/billfold/billfold/internal/clock"
	invoicedomain "github.com/billfold/billfold/internal/invoice/domain"
	invoicerepository "github.com/billfold/billfold/internal/invoice/repository"
	subscriptiondomain "github.com/billfold/billfold/internal/subscription/domain"
	subscriptionrepository "github.com/billfold/billfold/internal/subscription/repository"
	tenantdomain "github.com/billfold/billfold/internal/tenant/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:invoice_service_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	for _, table := range []string{"invoice_deliveries", "payments", "invoice_items", "invoices", "subscriptions", "clients"} {
		db.Exec("DROP TABLE IF EXISTS " + table)
	}

	db.Exec(`CREATE TABLE clients (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		currency TEXT NOT NULL,
		autodebit_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		auto_suspend_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)
	db.Exec(`CREATE TABLE subscriptions (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL,
		client_id BIGINT NOT NULL,
		parent_id BIGINT,
		package_name TEXT NOT NULL,
		provision_module TEXT NOT NULL DEFAULT '',
		billing_cycle_type TEXT NOT NULL,
		status TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		price_override NUMERIC,
		next_due_at TIMESTAMP NOT NULL,
		last_renewed_at TIMESTAMP,
		cancel_at TIMESTAMP,
		cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
		canceled_at TIMESTAMP,
		suspended_at TIMESTAMP,
		do_not_suspend_before TIMESTAMP,
		provision_payload TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)
	db.Exec(`CREATE TABLE invoices (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL,
		client_id BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'DRAFT',
		currency TEXT NOT NULL,
		total_amount NUMERIC NOT NULL,
		balance_due NUMERIC NOT NULL,
		due_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP,
		voided_at TIMESTAMP,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)
	db.Exec(`CREATE TABLE invoice_items (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL,
		invoice_id BIGINT NOT NULL,
		subscription_id BIGINT,
		description TEXT NOT NULL DEFAULT '',
		amount NUMERIC NOT NULL,
		period_start TIMESTAMP,
		period_end TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`)
	db.Exec(`CREATE TABLE payments (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL,
		invoice_id BIGINT NOT NULL,
		client_id BIGINT NOT NULL,
		gateway TEXT NOT NULL,
		transaction_ref TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`)
	db.Exec(`CREATE TABLE invoice_deliveries (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL,
		invoice_id BIGINT NOT NULL,
		kind TEXT NOT NULL,
		recipient TEXT NOT NULL,
		sent_at TIMESTAMP NOT NULL
	)`)
	return db
}

type fakeSender struct {
	sent []string
	fail bool
}

func (f *fakeSender) Send(_ context.Context, _ *tenantdomain.Organization, client *clientdomain.Client, _ *invoicedomain.Invoice, kind string) error {
	if f.fail {
		return errors.New("smtp unreachable")
	}
	f.sent = append(f.sent, kind+":"+client.Email)
	return nil
}

type harness struct {
	db     *gorm.DB
	node   *snowflake.Node
	svc    *Service
	sender *fakeSender
	org    tenantdomain.Organization
	clk    *clock.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := setupDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2024, 4, 5, 10, 0, 0, 0, time.UTC))
	sender := &fakeSender{}
	svc := &Service{
		db:         db,
		log:        zaptest.NewLogger(t),
		genID:      node,
		clock:      clk,
		repo:       invoicerepository.Provide(),
		subRepo:    subscriptionrepository.Provide(),
		clientRepo: clientrepository.Provide(),
		delivery:   sender,
	}

	org := tenantdomain.Organization{ID: node.Generate(), Name: "Acme", Slug: "acme"}
	return &harness{db: db, node: node, svc: svc, sender: sender, org: org, clk: clk}
}

func (h *harness) insertClient(t *testing.T, currency string) snowflake.ID {
	t.Helper()
	id := h.node.Generate()
	now := h.clk.Now()
	err := h.db.Exec(
		`INSERT INTO clients (id, org_id, name, email, currency, autodebit_enabled, auto_suspend_enabled, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, '{}', ?, ?)`,
		id, h.org.ID, "Client "+id.String(), "client-"+id.String()+"@example.com", currency, false, true, now, now,
	).Error
	require.NoError(t, err)
	return id
}

func (h *harness) insertSubscription(t *testing.T, sub subscriptiondomain.Subscription) snowflake.ID {
	t.Helper()
	if sub.ID == 0 {
		sub.ID = h.node.Generate()
	}
	now := h.clk.Now()
	err := h.db.Exec(
		`INSERT INTO subscriptions (
			id, org_id, client_id, parent_id, package_name, provision_module,
			billing_cycle_type, status, currency, amount, price_override,
			next_due_at, cancel_at_period_end, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, h.org.ID, sub.ClientID, sub.ParentID, sub.PackageName, sub.ProvisionModule,
		sub.BillingCycleType, sub.Status, sub.Currency, sub.Amount, sub.PriceOverride,
		sub.NextDueAt, false, now, now,
	).Error
	require.NoError(t, err)
	return sub.ID
}

func (h *harness) invoiceCount(t *testing.T) int {
	t.Helper()
	var count int64
	require.NoError(t, h.db.Raw(`SELECT COUNT(*) FROM invoices`).Scan(&count).Error)
	return int(count)
}

func TestGenerateRenewalInvoicesCatchUp(t *testing.T) {
	h := newHarness(t)
	clientID := h.insertClient(t, "USD")

	subID := h.insertSubscription(t, subscriptiondomain.Subscription{
		ClientID:         clientID,
		PackageName:      "starter",
		BillingCycleType: subscriptiondomain.CycleMonthly,
		Status:           subscriptiondomain.StatusActive,
		Currency:         "USD",
		Amount:           decimal.NewFromInt(25),
		NextDueAt:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	now := time.Date(2024, 4, 5, 10, 0, 0, 0, time.UTC)
	settings := tenantdomain.DefaultBillingSettings(h.org.ID)
	result, err := h.svc.GenerateRenewalInvoices(context.Background(), &h.org, settings, now)
	require.NoError(t, err)

	// Due dates 01-01, 02-01, 03-01, 04-01 are all at or before now, so
	// four periods are billed in one pass.
	assert.Equal(t, 4, result.Invoices)
	assert.Equal(t, 4, result.Renewals)
	assert.Equal(t, 4, h.invoiceCount(t))

	var nextDue time.Time
	require.NoError(t, h.db.Raw(`SELECT next_due_at FROM subscriptions WHERE id = ?`, subID).Scan(&nextDue).Error)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).Unix(), nextDue.UTC().Unix())

	// A second pass finds nothing due.
	result, err = h.svc.GenerateRenewalInvoices(context.Background(), &h.org, settings, now)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Invoices)
	assert.Equal(t, 4, h.invoiceCount(t))
}

func TestRenewalGroupsByClientAndCurrency(t *testing.T) {
	h := newHarness(t)
	clientID := h.insertClient(t, "USD")

	due := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	for _, pkg := range []string{"web-basic", "web-pro"} {
		h.insertSubscription(t, subscriptiondomain.Subscription{
			ClientID:         clientID,
			PackageName:      pkg,
			BillingCycleType: subscriptiondomain.CycleMonthly,
			Status:           subscriptiondomain.StatusActive,
			Currency:         "USD",
			Amount:           decimal.NewFromInt(10),
			NextDueAt:        due,
		})
	}
	h.insertSubscription(t, subscriptiondomain.Subscription{
		ClientID:         clientID,
		PackageName:      "eu-addon",
		BillingCycleType: subscriptiondomain.CycleMonthly,
		Status:           subscriptiondomain.StatusActive,
		Currency:         "EUR",
		Amount:           decimal.NewFromInt(5),
		NextDueAt:        due,
	})

	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	result, err := h.svc.GenerateRenewalInvoices(context.Background(), &h.org, tenantdomain.DefaultBillingSettings(h.org.ID), now)
	require.NoError(t, err)

	// One shared USD invoice with both lines, one EUR invoice.
	assert.Equal(t, 2, result.Invoices)
	assert.Equal(t, 3, result.Renewals)

	var usdTotal string
	require.NoError(t, h.db.Raw(`SELECT total_amount FROM invoices WHERE currency = 'USD'`).Scan(&usdTotal).Error)
	assert.True(t, decimal.RequireFromString(usdTotal).Equal(decimal.NewFromInt(20)), "got %s", usdTotal)

	var usdItems int64
	require.NoError(t, h.db.Raw(
		`SELECT COUNT(*) FROM invoice_items WHERE invoice_id = (SELECT id FROM invoices WHERE currency = 'USD')`,
	).Scan(&usdItems).Error)
	assert.Equal(t, int64(2), usdItems)
}

func TestRenewalSplitByFamily(t *testing.T) {
	h := newHarness(t)
	clientID := h.insertClient(t, "USD")

	due := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	parentID := h.insertSubscription(t, subscriptiondomain.Subscription{
		ClientID:         clientID,
		PackageName:      "suite",
		BillingCycleType: subscriptiondomain.CycleMonthly,
		Status:           subscriptiondomain.StatusActive,
		Currency:         "USD",
		Amount:           decimal.NewFromInt(30),
		NextDueAt:        due,
	})
	h.insertSubscription(t, subscriptiondomain.Subscription{
		ClientID:         clientID,
		ParentID:         &parentID,
		PackageName:      "suite-addon",
		BillingCycleType: subscriptiondomain.CycleMonthly,
		Status:           subscriptiondomain.StatusActive,
		Currency:         "USD",
		Amount:           decimal.NewFromInt(8),
		NextDueAt:        due,
	})
	h.insertSubscription(t, subscriptiondomain.Subscription{
		ClientID:         clientID,
		PackageName:      "standalone",
		BillingCycleType: subscriptiondomain.CycleMonthly,
		Status:           subscriptiondomain.StatusActive,
		Currency:         "USD",
		Amount:           decimal.NewFromInt(12),
		NextDueAt:        due,
	})

	settings := tenantdomain.DefaultBillingSettings(h.org.ID)
	settings.SplitInvoicesByFamily = true

	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	result, err := h.svc.GenerateRenewalInvoices(context.Background(), &h.org, settings, now)
	require.NoError(t, err)

	// Parent and child share one invoice; the standalone service gets its
	// own despite matching client and currency.
	assert.Equal(t, 2, result.Invoices)
	assert.Equal(t, 3, result.Renewals)
}

func TestRenewalUsesPriceOverride(t *testing.T) {
	h := newHarness(t)
	clientID := h.insertClient(t, "USD")

	override := decimal.NewFromInt(15)
	h.insertSubscription(t, subscriptiondomain.Subscription{
		ClientID:         clientID,
		PackageName:      "grandfathered",
		BillingCycleType: subscriptiondomain.CycleMonthly,
		Status:           subscriptiondomain.StatusActive,
		Currency:         "USD",
		Amount:           decimal.NewFromInt(25),
		PriceOverride:    &override,
		NextDueAt:        time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	})

	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	_, err := h.svc.GenerateRenewalInvoices(context.Background(), &h.org, tenantdomain.DefaultBillingSettings(h.org.ID), now)
	require.NoError(t, err)

	var total string
	require.NoError(t, h.db.Raw(`SELECT total_amount FROM invoices`).Scan(&total).Error)
	assert.True(t, decimal.RequireFromString(total).Equal(override), "got %s", total)
}

type insertFailingRepo struct {
	invoicedomain.Repository
	failClient snowflake.ID
}

func (r *insertFailingRepo) Insert(ctx context.Context, db *gorm.DB, invoice *invoicedomain.Invoice, items []invoicedomain.Item) error {
	if invoice.ClientID == r.failClient {
		return errors.New("insert rejected")
	}
	return r.Repository.Insert(ctx, db, invoice, items)
}

func TestRenewalFailureExcludesGroupOnly(t *testing.T) {
	h := newHarness(t)
	goodClient := h.insertClient(t, "USD")
	badClient := h.insertClient(t, "USD")

	due := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	h.insertSubscription(t, subscriptiondomain.Subscription{
		ClientID:         goodClient,
		PackageName:      "ok",
		BillingCycleType: subscriptiondomain.CycleMonthly,
		Status:           subscriptiondomain.StatusActive,
		Currency:         "USD",
		Amount:           decimal.NewFromInt(10),
		NextDueAt:        due,
	})
	badSub := h.insertSubscription(t, subscriptiondomain.Subscription{
		ClientID:         badClient,
		PackageName:      "broken",
		BillingCycleType: subscriptiondomain.CycleMonthly,
		Status:           subscriptiondomain.StatusActive,
		Currency:         "USD",
		Amount:           decimal.NewFromInt(10),
		NextDueAt:        due,
	})

	h.svc.repo = &insertFailingRepo{Repository: h.svc.repo, failClient: badClient}

	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	result, err := h.svc.GenerateRenewalInvoices(context.Background(), &h.org, tenantdomain.DefaultBillingSettings(h.org.ID), now)
	require.Error(t, err)

	assert.Equal(t, 1, result.Invoices)
	assert.Equal(t, 1, result.Renewals)
	assert.Contains(t, result.Failed, badSub)

	// The failed service's renewal date must not move.
	var nextDue time.Time
	require.NoError(t, h.db.Raw(`SELECT next_due_at FROM subscriptions WHERE id = ?`, badSub).Scan(&nextDue).Error)
	assert.Equal(t, due.Unix(), nextDue.UTC().Unix())
}

func TestRenewalSendsCreatedNotice(t *testing.T) {
	h := newHarness(t)
	clientID := h.insertClient(t, "USD")
	h.insertSubscription(t, subscriptiondomain.Subscription{
		ClientID:         clientID,
		PackageName:      "starter",
		BillingCycleType: subscriptiondomain.CycleMonthly,
		Status:           subscriptiondomain.StatusActive,
		Currency:         "USD",
		Amount:           decimal.NewFromInt(25),
		NextDueAt:        time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	})

	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	_, err := h.svc.GenerateRenewalInvoices(context.Background(), &h.org, tenantdomain.DefaultBillingSettings(h.org.ID), now)
	require.NoError(t, err)

	require.Len(t, h.sender.sent, 1)
	assert.Contains(t, h.sender.sent[0], invoicedomain.DeliveryKindCreated)

	var deliveries int64
	require.NoError(t, h.db.Raw(`SELECT COUNT(*) FROM invoice_deliveries WHERE kind = ?`, invoicedomain.DeliveryKindCreated).Scan(&deliveries).Error)
	assert.Equal(t, int64(1), deliveries)
}

func TestRenewalDeliveryFailureDoesNotFailPass(t *testing.T) {
	h := newHarness(t)
	h.sender.fail = true

	clientID := h.insertClient(t, "USD")
	h.insertSubscription(t, subscriptiondomain.Subscription{
		ClientID:         clientID,
		PackageName:      "starter",
		BillingCycleType: subscriptiondomain.CycleMonthly,
		Status:           subscriptiondomain.StatusActive,
		Currency:         "USD",
		Amount:           decimal.NewFromInt(25),
		NextDueAt:        time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	})

	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	result, err := h.svc.GenerateRenewalInvoices(context.Background(), &h.org, tenantdomain.DefaultBillingSettings(h.org.ID), now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Invoices)
	assert.NotEmpty(t, result.Lines)
}

func TestRecordPaymentClosesInvoice(t *testing.T) {
	h := newHarness(t)
	clientID := h.insertClient(t, "USD")

	invoice, err := h.svc.Create(context.Background(), h.org.ID, invoicedomain.CreateInput{
		ClientID: clientID,
		Currency: "USD",
		DueAt:    time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC),
		Items:    []invoicedomain.ItemInput{{Description: "hosting", Amount: decimal.NewFromInt(40)}},
	})
	require.NoError(t, err)

	at := time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC)
	err = h.svc.RecordPayment(context.Background(), h.org.ID, clientID, "offline", "ref-1",
		map[snowflake.ID]decimal.Decimal{invoice.ID: decimal.NewFromInt(15)}, at)
	require.NoError(t, err)

	partial, err := h.svc.Find(context.Background(), h.org.ID, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusActive, partial.Status)
	assert.True(t, partial.BalanceDue.Equal(decimal.NewFromInt(25)), "got %s", partial.BalanceDue)

	err = h.svc.RecordPayment(context.Background(), h.org.ID, clientID, "offline", "ref-2",
		map[snowflake.ID]decimal.Decimal{invoice.ID: decimal.NewFromInt(25)}, at)
	require.NoError(t, err)

	closed, err := h.svc.Find(context.Background(), h.org.ID, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusClosed, closed.Status)
	assert.True(t, closed.BalanceDue.IsZero())
	require.NotNil(t, closed.ClosedAt)
}

func TestRecordPaymentClosesProformaInvoice(t *testing.T) {
	h := newHarness(t)
	clientID := h.insertClient(t, "USD")

	invoiceID := h.node.Generate()
	now := h.clk.Now()
	require.NoError(t, h.db.Exec(
		`INSERT INTO invoices (id, org_id, client_id, status, currency, total_amount, balance_due, due_at, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'USD', 40, 40, ?, '{}', ?, ?)`,
		invoiceID, h.org.ID, clientID, invoicedomain.StatusProforma, now, now, now,
	).Error)

	at := time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC)
	err := h.svc.RecordPayment(context.Background(), h.org.ID, clientID, "offline", "ref-1",
		map[snowflake.ID]decimal.Decimal{invoiceID: decimal.NewFromInt(40)}, at)
	require.NoError(t, err)

	closed, err := h.svc.Find(context.Background(), h.org.ID, invoiceID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusClosed, closed.Status)
	assert.True(t, closed.BalanceDue.IsZero())
}

func TestVoidWithUnapplyRestoresBalanceFirst(t *testing.T) {
	h := newHarness(t)
	clientID := h.insertClient(t, "USD")

	invoice, err := h.svc.Create(context.Background(), h.org.ID, invoicedomain.CreateInput{
		ClientID: clientID,
		Currency: "USD",
		DueAt:    time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC),
		Items:    []invoicedomain.ItemInput{{Description: "hosting", Amount: decimal.NewFromInt(40)}},
	})
	require.NoError(t, err)

	at := time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, h.svc.RecordPayment(context.Background(), h.org.ID, clientID, "offline", "ref-1",
		map[snowflake.ID]decimal.Decimal{invoice.ID: decimal.NewFromInt(15)}, at))

	require.NoError(t, h.svc.Void(context.Background(), h.org.ID, invoice.ID, true, at))

	voided, err := h.svc.Find(context.Background(), h.org.ID, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusVoid, voided.Status)
	assert.True(t, voided.BalanceDue.IsZero())

	var payments int64
	require.NoError(t, h.db.Raw(`SELECT COUNT(*) FROM payments WHERE invoice_id = ?`, invoice.ID).Scan(&payments).Error)
	assert.Equal(t, int64(0), payments)

	// A closed invoice cannot be voided.
	err = h.svc.Void(context.Background(), h.org.ID, invoice.ID, false, at)
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotVoidable)
}
