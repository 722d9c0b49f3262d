// Package scheduler drives the billing pipeline: it evaluates task
// triggers against the persisted run history, claims runs atomically, and
// executes every tenant task in a fixed order. Any number of concurrent
// invocations is safe; the claim decides who does the work.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/billfold/billfold/internal/clock"
	"github.com/billfold/billfold/internal/collections"
	invoicedomain "github.com/billfold/billfold/internal/invoice/domain"
	"github.com/billfold/billfold/internal/lifecycle"
	obsmetrics "github.com/billfold/billfold/internal/observability/metrics"
	"github.com/billfold/billfold/internal/providers/exchange"
	"github.com/billfold/billfold/internal/providers/plugin"
	recurringdomain "github.com/billfold/billfold/internal/recurring/domain"
	"github.com/billfold/billfold/internal/reminder"
	"github.com/billfold/billfold/internal/scheduler/trigger"
	servicechangedomain "github.com/billfold/billfold/internal/servicechange/domain"
	taskrundomain "github.com/billfold/billfold/internal/taskrun/domain"
	tenantdomain "github.com/billfold/billfold/internal/tenant/domain"
	"github.com/billfold/billfold/pkg/tenantctx"
)

var (
	ErrInvalidConfig = errors.New("scheduler_invalid_config")
	ErrUnknownTask   = errors.New("unknown_task")
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Config Config `optional:"true"`

	TaskRunRepo  taskrundomain.Repository
	TenantSvc    tenantdomain.Service
	RecurringSvc recurringdomain.Service
	InvoiceSvc   invoicedomain.Service
	Collections  *collections.Engine
	Lifecycle    *lifecycle.Sweeper
	ChangeSvc    servicechangedomain.Service
	Reminders    *reminder.Dispatcher
	Exchange     exchange.Source
	Plugins      *plugin.Runtime
}

type Scheduler struct {
	db    *gorm.DB
	log   *zap.Logger
	cfg   Config
	genID *snowflake.Node
	clock clock.Clock

	taskRunRepo  taskrundomain.Repository
	tenantSvc    tenantdomain.Service
	recurringSvc recurringdomain.Service
	invoiceSvc   invoicedomain.Service
	collections  *collections.Engine
	lifecycle    *lifecycle.Sweeper
	changeSvc    servicechangedomain.Service
	reminders    *reminder.Dispatcher
	exchange     exchange.Source
	plugins      *plugin.Runtime

	seedMu sync.Mutex
	seeded bool
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil ||
		p.TaskRunRepo == nil || p.TenantSvc == nil || p.RecurringSvc == nil ||
		p.InvoiceSvc == nil || p.Collections == nil || p.Lifecycle == nil ||
		p.ChangeSvc == nil || p.Reminders == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:           p.DB,
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          p.Config.withDefaults(),
		genID:        p.GenID,
		clock:        p.Clock,
		taskRunRepo:  p.TaskRunRepo,
		tenantSvc:    p.TenantSvc,
		recurringSvc: p.RecurringSvc,
		invoiceSvc:   p.InvoiceSvc,
		collections:  p.Collections,
		lifecycle:    p.Lifecycle,
		changeSvc:    p.ChangeSvc,
		reminders:    p.Reminders,
		exchange:     p.Exchange,
		plugins:      p.Plugins,
	}, nil
}

// TaskResult is one task's outcome within a pipeline pass. A task that was
// not eligible, or lost its claim, carries Claimed=false and no error.
type TaskResult struct {
	Task    string
	Claimed bool
	Err     error
	Lines   []string
}

// RunOnce executes one full pass: every tenant pipeline, then the system
// pass. Task failures are collected, never fatal to sibling tenants.
func (s *Scheduler) RunOnce(parent context.Context) error {
	s.ensureDefinitions(parent)

	orgs, err := s.tenantSvc.List(parent)
	if err != nil {
		return fmt.Errorf("list organizations: %w", err)
	}
	obsmetrics.Engine().SetTenantCount(len(orgs))

	var errs error
	for i := range orgs {
		if parent.Err() != nil {
			return errors.Join(errs, parent.Err())
		}
		if _, err := s.RunPipeline(parent, orgs[i]); err != nil {
			errs = errors.Join(errs, fmt.Errorf("tenant %s: %w", orgs[i].Slug, err))
		}
	}

	if _, err := s.RunSystemPipeline(parent); err != nil {
		errs = errors.Join(errs, fmt.Errorf("system: %w", err))
	}
	return errs
}

// RunPipeline executes the fixed tenant task sequence for one organization.
// Each task evaluates, claims, and runs independently; a failing task is
// recorded and the pipeline moves on.
func (s *Scheduler) RunPipeline(parent context.Context, org tenantdomain.Organization) ([]TaskResult, error) {
	s.ensureDefinitions(parent)

	settings, err := s.tenantSvc.Settings(parent, org.ID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	defs, err := s.definitionsByKey(parent, taskrundomain.ScopeTenant)
	if err != nil {
		return nil, err
	}

	ctx := tenantctx.WithOrgID(parent, org.ID)
	ctx = tenantctx.WithActor(ctx, "system", "scheduler")
	groupID := uuid.NewString()

	env := taskEnv{org: &org, settings: settings, groupID: groupID}

	var (
		results []TaskResult
		errs    error
	)
	for _, key := range tenantTaskOrder {
		def, ok := defs[key]
		if !ok {
			continue
		}
		res := s.runTask(ctx, def, env)
		results = append(results, res)
		if res.Err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s: %w", key, res.Err))
		}
	}
	obsmetrics.Engine().IncPipelineRun("tenant")
	return results, errs
}

// RunSystemPipeline executes the tasks that run once per pass rather than
// per tenant: run-log retention and exchange rate refresh.
func (s *Scheduler) RunSystemPipeline(parent context.Context) ([]TaskResult, error) {
	s.ensureDefinitions(parent)

	defs, err := s.definitionsByKey(parent, taskrundomain.ScopeSystem)
	if err != nil {
		return nil, err
	}

	ctx := tenantctx.WithActor(parent, "system", "scheduler")
	env := taskEnv{groupID: uuid.NewString()}

	var (
		results []TaskResult
		errs    error
	)
	for _, key := range systemTaskOrder {
		def, ok := defs[key]
		if !ok {
			continue
		}
		res := s.runTask(ctx, def, env)
		results = append(results, res)
		if res.Err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s: %w", key, res.Err))
		}
	}
	obsmetrics.Engine().IncPipelineRun("system")
	return results, errs
}

// RunTask forces evaluation of a single task by key: across every tenant
// for tenant-scoped tasks, once for system tasks. The trigger and claim
// still apply; forcing never bypasses the run-state store.
func (s *Scheduler) RunTask(parent context.Context, key string) ([]TaskResult, error) {
	s.ensureDefinitions(parent)

	def, err := s.findDefinition(parent, key)
	if err != nil {
		return nil, err
	}

	if def.Scope == taskrundomain.ScopeSystem {
		ctx := tenantctx.WithActor(parent, "system", "scheduler")
		res := s.runTask(ctx, def, taskEnv{groupID: uuid.NewString()})
		return []TaskResult{res}, res.Err
	}

	orgs, err := s.tenantSvc.List(parent)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}

	var (
		results []TaskResult
		errs    error
	)
	for i := range orgs {
		org := orgs[i]
		settings, err := s.tenantSvc.Settings(parent, org.ID)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("tenant %s: load settings: %w", org.Slug, err))
			continue
		}
		ctx := tenantctx.WithOrgID(parent, org.ID)
		ctx = tenantctx.WithActor(ctx, "system", "scheduler")
		res := s.runTask(ctx, def, taskEnv{org: &org, settings: settings, groupID: uuid.NewString()})
		results = append(results, res)
		if res.Err != nil {
			errs = errors.Join(errs, fmt.Errorf("tenant %s: %s: %w", org.Slug, key, res.Err))
		}
	}
	return results, errs
}

// RunForever invokes RunOnce on a fixed interval until the context is
// canceled. Safe to run alongside external cron hitting the HTTP surface.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("pipeline pass finished with errors", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// taskEnv carries the per-invocation scope. A nil org marks the system
// scope.
type taskEnv struct {
	org      *tenantdomain.Organization
	settings tenantdomain.BillingSettings
	groupID  string
}

func (s *Scheduler) runTask(ctx context.Context, def taskrundomain.Definition, env taskEnv) TaskResult {
	result := TaskResult{Task: def.Key}
	now := s.clock.Now()

	var (
		orgID *snowflake.ID
		loc   = time.UTC
		scope = string(taskrundomain.ScopeSystem)
	)
	if env.org != nil {
		orgID = &env.org.ID
		loc = env.org.Location()
		scope = string(taskrundomain.ScopeTenant)
	}

	log := s.log.With(
		zap.String("task", def.Key),
		zap.String("group_id", env.groupID),
	)
	if orgID != nil {
		log = log.With(zap.Int64("org_id", int64(*orgID)))
	}

	last, err := s.taskRunRepo.FindLastRun(ctx, s.db, def.Key, orgID)
	if err != nil {
		result.Err = fmt.Errorf("load last run: %w", err)
		return result
	}

	trigCfg := trigger.Config{Bucket: s.cfg.TriggerBucket, StaleAfter: s.cfg.StaleRunAfter}
	eligible, notBefore, err := trigger.Evaluate(def, last, now, loc, trigCfg)
	if err != nil {
		result.Err = fmt.Errorf("evaluate trigger: %w", err)
		log.Warn("trigger evaluation failed", zap.String("trigger_value", def.TriggerValue), zap.Error(err))
		return result
	}
	if !eligible {
		return result
	}

	run := &taskrundomain.Run{
		ID:        s.genID.Generate(),
		TaskKey:   def.Key,
		OrgID:     orgID,
		GroupID:   env.groupID,
		StartedAt: now,
	}
	claimed, err := s.taskRunRepo.Claim(ctx, s.db, run, notBefore, now.Add(-s.cfg.StaleRunAfter))
	if err != nil {
		result.Err = fmt.Errorf("claim run: %w", err)
		return result
	}
	if !claimed {
		obsmetrics.Engine().IncClaimDenied(def.Key)
		log.Debug("run claim lost to a competing invocation")
		return result
	}
	result.Claimed = true
	log = log.With(zap.Int64("run_id", int64(run.ID)))
	log.Info("task started")

	outcome := s.execute(ctx, def, env, now, &result)

	if def.PluginHook != nil && *def.PluginHook != "" && result.Err == nil {
		s.invokeHook(ctx, *def.PluginHook, orgID, &result)
	}

	end := s.clock.Now()
	if !end.After(run.StartedAt) {
		// A frozen test clock must still yield a closed interval.
		end = run.StartedAt.Add(time.Millisecond)
	}
	if err := s.taskRunRepo.CompleteRun(ctx, s.db, run.ID, end, renderLog(result)); err != nil {
		// The dangling run goes stale and self-heals on a later pass.
		log.Error("failed to close run record", zap.Error(err))
	}

	obsmetrics.Engine().IncTaskRun(def.Key, scope, outcome)
	obsmetrics.Engine().ObserveTaskDuration(def.Key, end.Sub(run.StartedAt))
	s.logTaskFinish(log, result, end.Sub(run.StartedAt))
	return result
}

// execute dispatches to the task body with panic containment; a panicking
// task is recorded like any failure and never takes down the pipeline.
func (s *Scheduler) execute(ctx context.Context, def taskrundomain.Definition, env taskEnv, now time.Time, result *TaskResult) (outcome string) {
	outcome = obsmetrics.OutcomeSuccess
	defer func() {
		if rec := recover(); rec != nil {
			outcome = obsmetrics.OutcomePanic
			result.Err = fmt.Errorf("task panicked: %v", rec)
			result.Lines = append(result.Lines, fmt.Sprintf("panic: %v", rec))
			s.log.Error("task panicked",
				zap.String("task", def.Key),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
		}
	}()

	switch def.Key {
	case TaskRecurringInvoices:
		res, err := s.recurringSvc.GenerateDue(ctx, env.org, now)
		result.Lines = append(result.Lines, res.Lines...)
		result.Lines = append(result.Lines, fmt.Sprintf("templates: %d invoices created", res.Created))
		result.Err = err
	case TaskServiceRenewals:
		res, err := s.invoiceSvc.GenerateRenewalInvoices(ctx, env.org, env.settings, now)
		result.Lines = append(result.Lines, res.Lines...)
		result.Lines = append(result.Lines, fmt.Sprintf("renewals: %d invoices, %d services renewed", res.Invoices, res.Renewals))
		result.Err = err
	case TaskAutodebit:
		res, err := s.collections.Run(ctx, env.org, env.settings, now, collections.Options{
			UnlockPassphrase: s.cfg.UnlockPassphrase,
		})
		result.Lines = append(result.Lines, res.Lines...)
		result.Lines = append(result.Lines, fmt.Sprintf("autodebit: %d charged, %d skipped", res.Charged, res.Skipped))
		result.Err = err
	case TaskSuspensions:
		res, err := s.lifecycle.SuspendOverdue(ctx, env.org, env.settings, now)
		result.Lines = append(result.Lines, res.Lines...)
		result.Lines = append(result.Lines, fmt.Sprintf("suspensions: %d processed", res.Processed))
		result.Err = err
	case TaskUnsuspensions:
		res, err := s.lifecycle.UnsuspendCleared(ctx, env.org, now)
		result.Lines = append(result.Lines, res.Lines...)
		result.Lines = append(result.Lines, fmt.Sprintf("unsuspensions: %d processed", res.Processed))
		result.Err = err
	case TaskCancellations:
		res, err := s.lifecycle.CancelScheduled(ctx, env.org, now)
		result.Lines = append(result.Lines, res.Lines...)
		result.Lines = append(result.Lines, fmt.Sprintf("cancellations: %d processed", res.Processed))
		result.Err = err
	case TaskActivations:
		res, err := s.lifecycle.ActivatePaidPending(ctx, env.org, env.settings, now)
		result.Lines = append(result.Lines, res.Lines...)
		result.Lines = append(result.Lines, fmt.Sprintf("activations: %d processed", res.Processed))
		result.Err = err
	case TaskServiceChanges:
		res, err := s.changeSvc.ProcessPending(ctx, env.org, env.settings, now)
		result.Lines = append(result.Lines, res.Lines...)
		result.Lines = append(result.Lines, fmt.Sprintf("service changes: %d completed, %d canceled, %d errored", res.Completed, res.Canceled, res.Errored))
		result.Err = err
	case TaskReminders:
		res, err := s.reminders.Run(ctx, env.org, env.settings, now)
		result.Lines = append(result.Lines, res.Lines...)
		result.Lines = append(result.Lines, fmt.Sprintf("reminders: %d sent", res.Sent))
		result.Err = err
	case TaskLogPurge:
		before := now.AddDate(0, 0, -s.cfg.RunRetentionDays)
		purged, err := s.taskRunRepo.PurgeOldRuns(ctx, s.db, before)
		obsmetrics.Engine().AddPurgedRuns(purged)
		result.Lines = append(result.Lines, fmt.Sprintf("purged %d completed runs older than %s", purged, before.Format(time.RFC3339)))
		result.Err = err
	case TaskExchangeRates:
		err := s.exchange.UpdateRates(ctx)
		if errors.Is(err, exchange.ErrNotConfigured) {
			result.Lines = append(result.Lines, "exchange rates: no source configured")
			err = nil
		} else if err == nil {
			result.Lines = append(result.Lines, "exchange rates: updated")
		}
		result.Err = err
	default:
		result.Err = fmt.Errorf("%w: %s", ErrUnknownTask, def.Key)
	}

	if result.Err != nil && outcome == obsmetrics.OutcomeSuccess {
		outcome = obsmetrics.OutcomeError
	}
	return outcome
}

func (s *Scheduler) invokeHook(ctx context.Context, hook string, orgID *snowflake.ID, result *TaskResult) {
	var id snowflake.ID
	if orgID != nil {
		id = *orgID
	}
	if err := s.plugins.Invoke(ctx, hook, id); err != nil {
		// Hook failures are reported in the run log, never as task failures.
		result.Lines = append(result.Lines, fmt.Sprintf("hook %s: %v", hook, err))
		s.log.Warn("plugin hook failed", zap.String("hook", hook), zap.Error(err))
	}
}

func (s *Scheduler) definitionsByKey(ctx context.Context, scope taskrundomain.Scope) (map[string]taskrundomain.Definition, error) {
	defs, err := s.taskRunRepo.ListDefinitions(ctx, s.db, scope)
	if err != nil {
		return nil, fmt.Errorf("list task definitions: %w", err)
	}
	byKey := make(map[string]taskrundomain.Definition, len(defs))
	for _, def := range defs {
		byKey[def.Key] = def
	}
	return byKey, nil
}

func (s *Scheduler) findDefinition(ctx context.Context, key string) (taskrundomain.Definition, error) {
	for _, scope := range []taskrundomain.Scope{taskrundomain.ScopeTenant, taskrundomain.ScopeSystem} {
		defs, err := s.definitionsByKey(ctx, scope)
		if err != nil {
			return taskrundomain.Definition{}, err
		}
		if def, ok := defs[key]; ok {
			return def, nil
		}
	}
	return taskrundomain.Definition{}, fmt.Errorf("%w: %s", ErrUnknownTask, key)
}

// ensureDefinitions seeds missing task rows on the first pass. Existing
// rows are left untouched so operator trigger edits survive restarts.
// A failed pass leaves the seeded flag unset so the next pass retries.
func (s *Scheduler) ensureDefinitions(ctx context.Context) {
	s.seedMu.Lock()
	defer s.seedMu.Unlock()
	if s.seeded {
		return
	}

	existing := make(map[string]struct{})
	for _, scope := range []taskrundomain.Scope{taskrundomain.ScopeTenant, taskrundomain.ScopeSystem} {
		defs, err := s.taskRunRepo.ListDefinitions(ctx, s.db, scope)
		if err != nil {
			s.log.Warn("failed to list task definitions for seeding", zap.Error(err))
			return
		}
		for _, def := range defs {
			existing[def.Key] = struct{}{}
		}
	}

	now := s.clock.Now()
	seeded := true
	for _, def := range defaultDefinitions {
		if _, ok := existing[def.Key]; ok {
			continue
		}
		def.CreatedAt = now
		def.UpdatedAt = now
		if err := s.taskRunRepo.UpsertDefinition(ctx, s.db, &def); err != nil {
			s.log.Warn("failed to seed task definition", zap.String("task", def.Key), zap.Error(err))
			seeded = false
		}
	}
	s.seeded = seeded
}

func renderLog(result TaskResult) string {
	lines := result.Lines
	if result.Err != nil {
		lines = append(lines, "error: "+result.Err.Error())
	}
	return strings.Join(lines, "\n")
}

func (s *Scheduler) logTaskFinish(log *zap.Logger, result TaskResult, took time.Duration) {
	fields := []zap.Field{zap.Duration("took", took)}
	if result.Err != nil {
		log.Warn("task finished with errors", append(fields, zap.Error(result.Err))...)
		return
	}
	log.Info("task finished", fields...)
}
