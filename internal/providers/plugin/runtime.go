// Package plugin runs in-process extension hooks tied to engine tasks.
package plugin

import (
	"context"
	"errors"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var ErrHookNotFound = errors.New("plugin_hook_not_found")

// Hook runs after its associated task completes for one scope. A nil org id
// means a system-scope run.
type Hook func(ctx context.Context, orgID snowflake.ID) error

// Runtime holds installed hooks by name.
type Runtime struct {
	mu    sync.RWMutex
	hooks map[string]Hook
}

func NewRuntime() *Runtime {
	return &Runtime{hooks: make(map[string]Hook)}
}

func (r *Runtime) Register(name string, hook Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[name] = hook
}

func (r *Runtime) Invoke(ctx context.Context, name string, orgID snowflake.ID) error {
	r.mu.RLock()
	hook, ok := r.hooks[name]
	r.mu.RUnlock()
	if !ok {
		return ErrHookNotFound
	}
	return hook(ctx, orgID)
}
