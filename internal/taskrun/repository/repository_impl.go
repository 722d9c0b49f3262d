package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	taskrundomain "github.com/billfold/billfold/internal/taskrun/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() taskrundomain.Repository {
	return &repo{}
}

func (r *repo) ListDefinitions(ctx context.Context, db *gorm.DB, scope taskrundomain.Scope) ([]taskrundomain.Definition, error) {
	var definitions []taskrundomain.Definition
	err := db.WithContext(ctx).Raw(
		`SELECT key, trigger_kind, trigger_value, scope, enabled, plugin_hook, created_at, updated_at
		 FROM task_definitions
		 WHERE scope = ?
		 ORDER BY key ASC`,
		scope,
	).Scan(&definitions).Error
	if err != nil {
		return nil, err
	}
	return definitions, nil
}

func (r *repo) UpsertDefinition(ctx context.Context, db *gorm.DB, def *taskrundomain.Definition) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE task_definitions
		 SET trigger_kind = ?, trigger_value = ?, scope = ?, enabled = ?, plugin_hook = ?, updated_at = ?
		 WHERE key = ?`,
		def.TriggerKind,
		def.TriggerValue,
		def.Scope,
		def.Enabled,
		def.PluginHook,
		def.UpdatedAt,
		def.Key,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO task_definitions (
			key, trigger_kind, trigger_value, scope, enabled, plugin_hook, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		def.Key,
		def.TriggerKind,
		def.TriggerValue,
		def.Scope,
		def.Enabled,
		def.PluginHook,
		def.CreatedAt,
		def.UpdatedAt,
	).Error
}

func (r *repo) FindLastRun(ctx context.Context, db *gorm.DB, taskKey string, orgID *snowflake.ID) (*taskrundomain.Run, error) {
	query := `SELECT id, task_key, org_id, group_id, started_at, ended_at, log
		 FROM task_runs
		 WHERE task_key = ? AND `
	args := []any{taskKey}
	if orgID == nil {
		query += `org_id IS NULL`
	} else {
		query += `org_id = ?`
		args = append(args, *orgID)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT 1`

	var run taskrundomain.Run
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&run).Error; err != nil {
		return nil, err
	}
	if run.ID == 0 {
		return nil, nil
	}
	return &run, nil
}

// Claim closes the check-then-act race with a single conditional insert: the
// row lands only when no blocking run exists at commit time.
func (r *repo) Claim(ctx context.Context, db *gorm.DB, run *taskrundomain.Run, notBefore, staleBefore time.Time) (bool, error) {
	orgCond := `r.org_id IS NULL`
	args := []any{
		run.ID,
		run.TaskKey,
		run.OrgID,
		run.GroupID,
		run.StartedAt,
		run.Log,
		run.TaskKey,
	}
	if run.OrgID != nil {
		orgCond = `r.org_id = ?`
		args = append(args, *run.OrgID)
	}
	args = append(args, staleBefore, notBefore)

	res := db.WithContext(ctx).Exec(
		`INSERT INTO task_runs (id, task_key, org_id, group_id, started_at, ended_at, log)
		 SELECT ?, ?, ?, ?, ?, NULL, ?
		 WHERE NOT EXISTS (
			SELECT 1 FROM task_runs r
			WHERE r.task_key = ? AND `+orgCond+`
			  AND (
				(r.ended_at IS NULL AND r.started_at > ?)
				OR (r.ended_at IS NOT NULL AND r.started_at >= ?)
			  )
		 )`,
		args...,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) CompleteRun(ctx context.Context, db *gorm.DB, id snowflake.ID, endedAt time.Time, log string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE task_runs SET ended_at = ?, log = ? WHERE id = ? AND ended_at IS NULL`,
		endedAt,
		log,
		id,
	).Error
}

func (r *repo) PurgeOldRuns(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM task_runs WHERE ended_at IS NOT NULL AND started_at < ?`,
		before,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
