package provisioning

import (
	"errors"
	"sync"
)

var ErrModuleNotFound = errors.New("provisioning_module_not_found")

// Registry resolves provisioning modules by name. A service with an empty
// module name resolves to the noop module.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Provisioner
}

func NewRegistry(modules ...Provisioner) *Registry {
	r := &Registry{modules: make(map[string]Provisioner)}
	for _, m := range modules {
		r.Register(m)
	}
	return r
}

func (r *Registry) Register(m Provisioner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Name()] = m
}

func (r *Registry) Resolve(name string) (Provisioner, error) {
	if name == "" {
		name = "none"
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	if !ok {
		return nil, ErrModuleNotFound
	}
	return m, nil
}
