package syncengine

import (
	"sync"

	"github.com/agentworkforce/nexusvault/internal/catalog"
)

// StateStore holds the live application state. Readers always get a copy.
type StateStore struct {
	mu    sync.RWMutex
	state catalog.AppState
}

func NewStateStore(initial catalog.AppState) *StateStore {
	return &StateStore{state: initial.Clone()}
}

func (s *StateStore) Get() catalog.AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

func (s *StateStore) Replace(next catalog.AppState) {
	next = next.Clone()
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// ApplyPatch installs patch(current). The current state is kept when patch fails.
func (s *StateStore) ApplyPatch(patch func(catalog.AppState) (catalog.AppState, error)) (catalog.AppState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := patch(s.state.Clone())
	if err != nil {
		return s.state.Clone(), err
	}
	s.state = next.Clone()
	return next, nil
}
