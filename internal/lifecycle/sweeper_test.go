package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	subscriptiondomain "github.com/billfold/billfold/internal/subscription/domain"
	subscriptionrepository "github.com/billfold/billfold/internal/subscription/repository"
	tenantdomain "github.com/billfold/billfold/internal/tenant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:lifecycle_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	for _, table := range []string{"invoice_items", "invoices", "subscriptions", "clients"} {
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
		provision_payload TEXT NOT NULL DEFAULT '{}',
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
		description TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		period_start TIMESTAMP,
		period_end TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`)
	return db
}

type fakeSubSvc struct {
	subscriptiondomain.Service
	applied    map[string][]snowflake.ID
	canceledAt map[snowflake.ID]time.Time
	failFor    map[snowflake.ID]bool
}

func newFakeSubSvc() *fakeSubSvc {
	return &fakeSubSvc{
		applied:    map[string][]snowflake.ID{},
		canceledAt: map[snowflake.ID]time.Time{},
		failFor:    map[snowflake.ID]bool{},
	}
}

func (s *fakeSubSvc) record(action string, sub *subscriptiondomain.Subscription) error {
	if s.failFor[sub.ID] {
		return errors.New("provisioning module unreachable")
	}
	s.applied[action] = append(s.applied[action], sub.ID)
	return nil
}

func (s *fakeSubSvc) Suspend(_ context.Context, sub *subscriptiondomain.Subscription, _ time.Time) error {
	return s.record("suspend", sub)
}

func (s *fakeSubSvc) Unsuspend(_ context.Context, sub *subscriptiondomain.Subscription, _ time.Time) error {
	return s.record("unsuspend", sub)
}

func (s *fakeSubSvc) Cancel(_ context.Context, sub *subscriptiondomain.Subscription, at time.Time) error {
	if err := s.record("cancel", sub); err != nil {
		return err
	}
	s.canceledAt[sub.ID] = at
	return nil
}

func (s *fakeSubSvc) Activate(_ context.Context, sub *subscriptiondomain.Subscription, _ time.Time) error {
	return s.record("activate", sub)
}

type fakeEmail struct {
	sent []string
}

func (p *fakeEmail) Send(_ context.Context, to []string, _ string, _ string) error {
	p.sent = append(p.sent, to...)
	return nil
}

type harness struct {
	db    *gorm.DB
	node  *snowflake.Node
	org   tenantdomain.Organization
	svc   *fakeSubSvc
	email *fakeEmail
	now   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return &harness{
		db:    setupDB(t),
		node:  node,
		org:   tenantdomain.Organization{ID: node.Generate(), Slug: "acme", Name: "Acme"},
		svc:   newFakeSubSvc(),
		email: &fakeEmail{},
		now:   time.Date(2024, 4, 5, 0, 30, 0, 0, time.UTC),
	}
}

func (h *harness) newSweeper(t *testing.T) *Sweeper {
	t.Helper()
	return &Sweeper{
		db:      h.db,
		log:     zaptest.NewLogger(t),
		subRepo: subscriptionrepository.Provide(),
		subsvc:  h.svc,
		email:   h.email,
	}
}

func (h *harness) insertClient(t *testing.T, autoSuspend bool) snowflake.ID {
	t.Helper()
	id := h.node.Generate()
	require.NoError(t, h.db.Exec(
		`INSERT INTO clients (id, org_id, name, email, currency, autodebit_enabled, auto_suspend_enabled, metadata, created_at, updated_at)
		 VALUES (?, ?, 'c', 'c@example.com', 'USD', FALSE, ?, '{}', ?, ?)`,
		id, h.org.ID, autoSuspend, h.now, h.now,
	).Error)
	return id
}

type subRow struct {
	clientID           snowflake.ID
	status             subscriptiondomain.Status
	nextDueAt          time.Time
	cancelAt           *time.Time
	cancelAtPeriodEnd  bool
	doNotSuspendBefore *time.Time
}

func (h *harness) insertSub(t *testing.T, row subRow) snowflake.ID {
	t.Helper()
	id := h.node.Generate()
	require.NoError(t, h.db.Exec(
		`INSERT INTO subscriptions (id, org_id, client_id, package_name, provision_module,
		 billing_cycle_type, status, currency, amount, next_due_at,
		 cancel_at, cancel_at_period_end, do_not_suspend_before,
		 provision_payload, created_at, updated_at)
		 VALUES (?, ?, ?, 'starter', 'noop', 'MONTHLY', ?, 'USD', 10, ?, ?, ?, ?, '{}', ?, ?)`,
		id, h.org.ID, row.clientID, row.status, row.nextDueAt,
		row.cancelAt, row.cancelAtPeriodEnd, row.doNotSuspendBefore, h.now, h.now,
	).Error)
	return id
}

func (h *harness) insertInvoiceFor(t *testing.T, subID, clientID snowflake.ID, status string, balance int64, dueAt time.Time) {
	t.Helper()
	invoiceID := h.node.Generate()
	require.NoError(t, h.db.Exec(
		`INSERT INTO invoices (id, org_id, client_id, status, currency, total_amount, balance_due, due_at, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'USD', 10, ?, ?, '{}', ?, ?)`,
		invoiceID, h.org.ID, clientID, status, balance, dueAt, h.now, h.now,
	).Error)
	require.NoError(t, h.db.Exec(
		`INSERT INTO invoice_items (id, org_id, invoice_id, subscription_id, description, amount, created_at)
		 VALUES (?, ?, ?, ?, 'svc', 10, ?)`,
		h.node.Generate(), h.org.ID, invoiceID, subID, h.now,
	).Error)
}

func TestSuspendOverdueHonorsGraceWindow(t *testing.T) {
	h := newHarness(t)
	clientID := h.insertClient(t, true)

	aged := h.insertSub(t, subRow{clientID: clientID, status: subscriptiondomain.StatusActive, nextDueAt: h.now})
	h.insertInvoiceFor(t, aged, clientID, "ACTIVE", 10, h.now.AddDate(0, 0, -10))

	fresh := h.insertSub(t, subRow{clientID: clientID, status: subscriptiondomain.StatusActive, nextDueAt: h.now})
	h.insertInvoiceFor(t, fresh, clientID, "ACTIVE", 10, h.now.AddDate(0, 0, -2))

	settings := tenantdomain.DefaultBillingSettings(h.org.ID)
	result, err := h.newSweeper(t).SuspendOverdue(context.Background(), &h.org, settings, h.now)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, []snowflake.ID{aged}, h.svc.applied["suspend"])
}

func TestSuspendOverdueRespectsClientFlagAndDeferral(t *testing.T) {
	h := newHarness(t)

	optedOut := h.insertClient(t, false)
	sheltered := h.insertSub(t, subRow{clientID: optedOut, status: subscriptiondomain.StatusActive, nextDueAt: h.now})
	h.insertInvoiceFor(t, sheltered, optedOut, "ACTIVE", 10, h.now.AddDate(0, 0, -10))

	normal := h.insertClient(t, true)
	deferredUntil := h.now.AddDate(0, 0, 5)
	deferred := h.insertSub(t, subRow{
		clientID:           normal,
		status:             subscriptiondomain.StatusActive,
		nextDueAt:          h.now,
		doNotSuspendBefore: &deferredUntil,
	})
	h.insertInvoiceFor(t, deferred, normal, "ACTIVE", 10, h.now.AddDate(0, 0, -10))

	settings := tenantdomain.DefaultBillingSettings(h.org.ID)
	result, err := h.newSweeper(t).SuspendOverdue(context.Background(), &h.org, settings, h.now)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Processed)
	assert.Empty(t, h.svc.applied["suspend"])
}

func TestSuspendOverdueDisabledByPolicy(t *testing.T) {
	h := newHarness(t)
	clientID := h.insertClient(t, true)
	sub := h.insertSub(t, subRow{clientID: clientID, status: subscriptiondomain.StatusActive, nextDueAt: h.now})
	h.insertInvoiceFor(t, sub, clientID, "ACTIVE", 10, h.now.AddDate(0, 0, -10))

	settings := tenantdomain.DefaultBillingSettings(h.org.ID)
	settings.AutoSuspendEnabled = false

	result, err := h.newSweeper(t).SuspendOverdue(context.Background(), &h.org, settings, h.now)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.NotEmpty(t, result.Lines)
	assert.Empty(t, h.svc.applied["suspend"])
}

func TestUnsuspendClearedRequiresSettledBalance(t *testing.T) {
	h := newHarness(t)
	clientID := h.insertClient(t, true)

	cleared := h.insertSub(t, subRow{clientID: clientID, status: subscriptiondomain.StatusSuspended, nextDueAt: h.now})
	h.insertInvoiceFor(t, cleared, clientID, "CLOSED", 0, h.now.AddDate(0, 0, -10))

	stillOwing := h.insertSub(t, subRow{clientID: clientID, status: subscriptiondomain.StatusSuspended, nextDueAt: h.now})
	h.insertInvoiceFor(t, stillOwing, clientID, "ACTIVE", 10, h.now.AddDate(0, 0, -10))

	result, err := h.newSweeper(t).UnsuspendCleared(context.Background(), &h.org, h.now)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, []snowflake.ID{cleared}, h.svc.applied["unsuspend"])
}

func TestCancelScheduledResolvesBothMarkers(t *testing.T) {
	h := newHarness(t)
	clientID := h.insertClient(t, true)

	past := h.now.AddDate(0, 0, -1)
	future := h.now.AddDate(0, 0, 1)

	explicit := h.insertSub(t, subRow{clientID: clientID, status: subscriptiondomain.StatusActive, nextDueAt: future, cancelAt: &past})
	endOfTerm := h.insertSub(t, subRow{clientID: clientID, status: subscriptiondomain.StatusSuspended, nextDueAt: past, cancelAtPeriodEnd: true})
	h.insertSub(t, subRow{clientID: clientID, status: subscriptiondomain.StatusActive, nextDueAt: future, cancelAt: &future})
	h.insertSub(t, subRow{clientID: clientID, status: subscriptiondomain.StatusActive, nextDueAt: future, cancelAtPeriodEnd: true})

	result, err := h.newSweeper(t).CancelScheduled(context.Background(), &h.org, h.now)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.ElementsMatch(t, []snowflake.ID{explicit, endOfTerm}, h.svc.applied["cancel"])

	// Both cancellations record their scheduled instant, not the sweep time.
	assert.True(t, h.svc.canceledAt[explicit].Equal(past), "want cancel_at %v, got %v", past, h.svc.canceledAt[explicit])
	assert.True(t, h.svc.canceledAt[endOfTerm].Equal(past), "want next_due_at %v, got %v", past, h.svc.canceledAt[endOfTerm])
}

func TestCancelScheduledRecordsScheduledInstantAfterLateSweep(t *testing.T) {
	h := newHarness(t)
	clientID := h.insertClient(t, true)

	scheduled := time.Date(2024, 4, 1, 15, 0, 0, 0, time.UTC)
	sub := h.insertSub(t, subRow{clientID: clientID, status: subscriptiondomain.StatusActive, nextDueAt: h.now.AddDate(0, 1, 0), cancelAt: &scheduled})

	result, err := h.newSweeper(t).CancelScheduled(context.Background(), &h.org, h.now)
	require.NoError(t, err)

	require.Equal(t, 1, result.Processed)
	assert.True(t, h.svc.canceledAt[sub].Equal(scheduled), "want %v, got %v", scheduled, h.svc.canceledAt[sub])
}

func TestActivatePaidPending(t *testing.T) {
	h := newHarness(t)
	clientID := h.insertClient(t, true)

	paid := h.insertSub(t, subRow{clientID: clientID, status: subscriptiondomain.StatusPending, nextDueAt: h.now})
	h.insertInvoiceFor(t, paid, clientID, "CLOSED", 0, h.now)

	unpaid := h.insertSub(t, subRow{clientID: clientID, status: subscriptiondomain.StatusPending, nextDueAt: h.now})
	h.insertInvoiceFor(t, unpaid, clientID, "ACTIVE", 10, h.now)

	settings := tenantdomain.DefaultBillingSettings(h.org.ID)
	result, err := h.newSweeper(t).ActivatePaidPending(context.Background(), &h.org, settings, h.now)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, []snowflake.ID{paid}, h.svc.applied["activate"])

	settings.ActivatePaidPending = false
	result, err = h.newSweeper(t).ActivatePaidPending(context.Background(), &h.org, settings, h.now)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.NotEmpty(t, result.Lines)
}

func TestFailureNotifiesOperatorAndContinues(t *testing.T) {
	h := newHarness(t)
	h.org.SupportEmail = "ops@acme.example"
	clientID := h.insertClient(t, true)

	broken := h.insertSub(t, subRow{clientID: clientID, status: subscriptiondomain.StatusActive, nextDueAt: h.now})
	h.insertInvoiceFor(t, broken, clientID, "ACTIVE", 10, h.now.AddDate(0, 0, -10))
	healthy := h.insertSub(t, subRow{clientID: clientID, status: subscriptiondomain.StatusActive, nextDueAt: h.now})
	h.insertInvoiceFor(t, healthy, clientID, "ACTIVE", 10, h.now.AddDate(0, 0, -10))
	h.svc.failFor[broken] = true

	settings := tenantdomain.DefaultBillingSettings(h.org.ID)
	result, err := h.newSweeper(t).SuspendOverdue(context.Background(), &h.org, settings, h.now)
	require.Error(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, []snowflake.ID{healthy}, h.svc.applied["suspend"])
	assert.Equal(t, []string{"ops@acme.example"}, h.email.sent)
}
