package payment

import "sync"

// Registry resolves an installed processor for one currency. Registration
// order is resolution order.
type Registry struct {
	mu         sync.RWMutex
	processors []Processor
}

func NewRegistry(processors ...Processor) *Registry {
	return &Registry{processors: processors}
}

func (r *Registry) Register(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors = append(r.processors, p)
}

func (r *Registry) ResolveForCurrency(currency string) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.processors {
		if p.Supports(currency) {
			return p, nil
		}
	}
	return nil, ErrNoProcessorForCurrency
}
