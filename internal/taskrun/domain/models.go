// Package domain contains persistence models for the scheduled task
// run-state store.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TriggerKind selects how a task's eligibility is computed.
type TriggerKind string

const (
	TriggerTimeOfDay TriggerKind = "TIME_OF_DAY"
	TriggerInterval  TriggerKind = "INTERVAL"
)

// Scope separates per-tenant tasks from the single system pass.
type Scope string

const (
	ScopeTenant Scope = "TENANT"
	ScopeSystem Scope = "SYSTEM"
)

// Definition is one schedulable task. TriggerValue holds "HH:MM" for
// time-of-day triggers and whole minutes for interval triggers.
type Definition struct {
	Key          string      `gorm:"primaryKey" json:"key"`
	TriggerKind  TriggerKind `gorm:"type:text;not null" json:"trigger_kind"`
	TriggerValue string      `gorm:"type:text;not null" json:"trigger_value"`
	Scope        Scope       `gorm:"type:text;not null" json:"scope"`
	Enabled      bool        `gorm:"not null;default:true" json:"enabled"`
	PluginHook   *string     `gorm:"type:text" json:"plugin_hook,omitempty"`
	CreatedAt    time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Definition) TableName() string { return "task_definitions" }

// Run is one execution record. A null EndedAt marks an in-flight run; one
// left in-flight past the stale window is abandoned and reclaimable.
type Run struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	TaskKey   string        `gorm:"not null;index:ix_task_runs_key_org" json:"task_key"`
	OrgID     *snowflake.ID `gorm:"index:ix_task_runs_key_org" json:"org_id,omitempty"`
	GroupID   string        `gorm:"type:text;not null" json:"group_id"`
	StartedAt time.Time     `gorm:"not null;index" json:"started_at"`
	EndedAt   *time.Time    `gorm:"" json:"ended_at,omitempty"`
	Log       string        `gorm:"type:text;not null;default:''" json:"log"`
}

// TableName sets the database table name.
func (Run) TableName() string { return "task_runs" }

// InFlight reports whether the run never recorded an end.
func (r Run) InFlight() bool { return r.EndedAt == nil }
