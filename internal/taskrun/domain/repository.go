package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	ListDefinitions(ctx context.Context, db *gorm.DB, scope Scope) ([]Definition, error)
	UpsertDefinition(ctx context.Context, db *gorm.DB, def *Definition) error

	// FindLastRun returns the most recent run for (taskKey, org scope), or
	// nil when the task never ran. A nil orgID addresses the system scope.
	FindLastRun(ctx context.Context, db *gorm.DB, taskKey string, orgID *snowflake.ID) (*Run, error)

	// Claim atomically inserts an in-flight run unless another run blocks
	// it: a live in-flight run started after staleBefore, or a completed
	// run started at or after notBefore. Abandoned runs never block.
	// Returns false when a competing run won.
	Claim(ctx context.Context, db *gorm.DB, run *Run, notBefore, staleBefore time.Time) (bool, error)

	// CompleteRun closes an in-flight run, storing its log.
	CompleteRun(ctx context.Context, db *gorm.DB, id snowflake.ID, endedAt time.Time, log string) error

	// PurgeOldRuns deletes completed runs that started before the horizon.
	PurgeOldRuns(ctx context.Context, db *gorm.DB, before time.Time) (int64, error)
}
