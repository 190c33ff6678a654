package syncengine

import (
	"sync"

	"github.com/agentworkforce/nexusvault/internal/catalog"
)

const DefaultUndoDepth = 10

// UndoStack keeps the most recent pre-mutation states. Pushing beyond the
// depth drops the oldest entry. There is no redo.
type UndoStack struct {
	mu      sync.Mutex
	depth   int
	entries []catalog.AppState
}

func NewUndoStack(depth int) *UndoStack {
	if depth <= 0 {
		depth = DefaultUndoDepth
	}
	return &UndoStack{depth: depth}
}

func (u *UndoStack) Push(state catalog.AppState) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entries = append(u.entries, state.Clone())
	if over := len(u.entries) - u.depth; over > 0 {
		u.entries = append([]catalog.AppState(nil), u.entries[over:]...)
	}
}

// Pop removes and returns the newest entry.
func (u *UndoStack) Pop() (catalog.AppState, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.entries) == 0 {
		return catalog.AppState{}, false
	}
	last := u.entries[len(u.entries)-1]
	u.entries = u.entries[:len(u.entries)-1]
	return last, true
}

func (u *UndoStack) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.entries)
}

func (u *UndoStack) Clear() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entries = nil
}
