package scheduler

import (
	taskrundomain "github.com/billfold/billfold/internal/taskrun/domain"
)

// Task keys. Tenant tasks run once per organization in this order; system
// tasks run once per pipeline pass.
const (
	TaskRecurringInvoices = "recurring_invoices"
	TaskServiceRenewals   = "service_renewals"
	TaskAutodebit         = "autodebit"
	TaskSuspensions       = "suspensions"
	TaskUnsuspensions     = "unsuspensions"
	TaskCancellations     = "cancellations"
	TaskActivations       = "activations"
	TaskServiceChanges    = "service_changes"
	TaskReminders         = "reminders"

	TaskLogPurge      = "log_purge"
	TaskExchangeRates = "exchange_rates"
)

// tenantTaskOrder fixes the per-tenant execution order: money-generating
// tasks first, then collection, then lifecycle, then notifications.
var tenantTaskOrder = []string{
	TaskRecurringInvoices,
	TaskServiceRenewals,
	TaskAutodebit,
	TaskSuspensions,
	TaskUnsuspensions,
	TaskCancellations,
	TaskActivations,
	TaskServiceChanges,
	TaskReminders,
}

var systemTaskOrder = []string{
	TaskLogPurge,
	TaskExchangeRates,
}

// defaultDefinitions seeds the task table on startup. Operators may flip
// triggers afterwards; seeding never overwrites an existing row.
var defaultDefinitions = []taskrundomain.Definition{
	{Key: TaskRecurringInvoices, TriggerKind: taskrundomain.TriggerTimeOfDay, TriggerValue: "00:00", Scope: taskrundomain.ScopeTenant, Enabled: true},
	{Key: TaskServiceRenewals, TriggerKind: taskrundomain.TriggerTimeOfDay, TriggerValue: "00:00", Scope: taskrundomain.ScopeTenant, Enabled: true},
	{Key: TaskAutodebit, TriggerKind: taskrundomain.TriggerTimeOfDay, TriggerValue: "08:00", Scope: taskrundomain.ScopeTenant, Enabled: true},
	{Key: TaskSuspensions, TriggerKind: taskrundomain.TriggerTimeOfDay, TriggerValue: "00:30", Scope: taskrundomain.ScopeTenant, Enabled: true},
	{Key: TaskUnsuspensions, TriggerKind: taskrundomain.TriggerInterval, TriggerValue: "60", Scope: taskrundomain.ScopeTenant, Enabled: true},
	{Key: TaskCancellations, TriggerKind: taskrundomain.TriggerTimeOfDay, TriggerValue: "00:30", Scope: taskrundomain.ScopeTenant, Enabled: true},
	{Key: TaskActivations, TriggerKind: taskrundomain.TriggerInterval, TriggerValue: "60", Scope: taskrundomain.ScopeTenant, Enabled: true},
	{Key: TaskServiceChanges, TriggerKind: taskrundomain.TriggerInterval, TriggerValue: "60", Scope: taskrundomain.ScopeTenant, Enabled: true},
	{Key: TaskReminders, TriggerKind: taskrundomain.TriggerTimeOfDay, TriggerValue: "09:00", Scope: taskrundomain.ScopeTenant, Enabled: true},

	{Key: TaskLogPurge, TriggerKind: taskrundomain.TriggerTimeOfDay, TriggerValue: "01:00", Scope: taskrundomain.ScopeSystem, Enabled: true},
	{Key: TaskExchangeRates, TriggerKind: taskrundomain.TriggerInterval, TriggerValue: "360", Scope: taskrundomain.ScopeSystem, Enabled: true},
}
