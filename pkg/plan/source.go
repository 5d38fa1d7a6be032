package plan

import (
	"context"
	"fmt"
	"sync"
)

// MapSource is an in-memory Source backed by a map. It is used when plans
// are registered directly by the embedding application, and by tests.
type MapSource struct {
	mu    sync.RWMutex
	plans map[string]*ExecutionPlan
}

// NewMapSource creates an empty in-memory plan source.
func NewMapSource() *MapSource {
	return &MapSource{
		plans: make(map[string]*ExecutionPlan),
	}
}

// Add registers a plan after validating it. Registering a second plan with
// the same id replaces the first.
func (s *MapSource) Add(p *ExecutionPlan) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ID] = p
	return nil
}

// Plan returns the plan registered under planID.
func (s *MapSource) Plan(_ context.Context, planID string) (*ExecutionPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[planID]
	if !ok {
		return nil, fmt.Errorf("plan %q not found", planID)
	}
	return p, nil
}
