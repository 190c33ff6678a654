package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentworkforce/nexusvault/internal/catalog"
)

// Gateway applies mutations optimistically and reconciles them with the
// remote. Mutations, undo and restore share one writer lock.
type Gateway struct {
	remote  Remote
	store   *StateStore
	undo    *UndoStack
	dirty   *DirtyTracker
	preview *PreviewSession
	writer  *sync.Mutex
	log     zerolog.Logger
	now     func() time.Time
}

type GatewayOptions struct {
	Remote  Remote
	Store   *StateStore
	Undo    *UndoStack
	Dirty   *DirtyTracker
	Preview *PreviewSession
	Writer  *sync.Mutex
	Logger  zerolog.Logger
	Now     func() time.Time
}

func NewGateway(opts GatewayOptions) *Gateway {
	g := &Gateway{
		remote:  opts.Remote,
		store:   opts.Store,
		undo:    opts.Undo,
		dirty:   opts.Dirty,
		preview: opts.Preview,
		writer:  opts.Writer,
		log:     opts.Logger,
		now:     opts.Now,
	}
	if g.undo == nil {
		g.undo = NewUndoStack(DefaultUndoDepth)
	}
	if g.dirty == nil {
		g.dirty = &DirtyTracker{}
	}
	if g.writer == nil {
		g.writer = &sync.Mutex{}
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Apply publishes the mutation's effect immediately, commits it, and then
// installs the remote's canonical state. A failed commit restores the
// previous state and drops the undo entry pushed for it.
func (g *Gateway) Apply(ctx context.Context, m Mutation) (catalog.AppState, error) {
	if p, ok := m.(preparer); ok {
		m = p.prepare(g.now())
	}
	op := m.Name()

	g.writer.Lock()
	defer g.writer.Unlock()

	if g.preview != nil && g.preview.Active() {
		return g.store.Get(), newMutationError(op, ErrReadOnly, nil)
	}

	prior := g.store.Get()
	if _, err := m.Apply(prior.Clone()); err != nil {
		g.log.Debug().Str("op", op).Err(err).Msg("mutation rejected")
		return prior, newMutationError(op, classifyLocal(err), err)
	}

	g.undo.Push(prior)
	speculative, err := g.store.ApplyPatch(m.Apply)
	if err != nil {
		g.undo.Pop()
		return prior, newMutationError(op, classifyLocal(err), err)
	}

	if err := m.Commit(ctx, g.remote, speculative.Clone()); err != nil {
		g.store.Replace(prior)
		g.undo.Pop()
		g.log.Warn().Str("op", op).Err(err).Msg("mutation rolled back")
		return prior, newMutationError(op, ErrRemoteFailure, err)
	}

	g.dirty.Set()
	canonical, err := g.remote.FetchState(ctx)
	if err != nil {
		// The commit landed; keep the speculative state until the next refresh.
		g.log.Warn().Str("op", op).Err(err).Msg("re-read after mutation failed")
		return speculative, nil
	}
	g.store.Replace(canonical)
	g.log.Debug().Str("op", op).Int("undo", g.undo.Len()).Msg("mutation applied")
	return canonical.Clone(), nil
}

// Undo replaces the remote state with the newest undo entry. The entry is
// consumed whether or not the remote accepts it.
func (g *Gateway) Undo(ctx context.Context) (catalog.AppState, error) {
	g.writer.Lock()
	defer g.writer.Unlock()

	if g.preview != nil && g.preview.Active() {
		return g.store.Get(), newMutationError("undo", ErrReadOnly, nil)
	}
	entry, ok := g.undo.Pop()
	if !ok {
		return g.store.Get(), newMutationError("undo", ErrNothingToUndo, nil)
	}
	if err := g.remote.SaveState(ctx, entry.Clone()); err != nil {
		g.log.Warn().Err(err).Msg("undo failed")
		return g.store.Get(), newMutationError("undo", ErrRemoteFailure, err)
	}
	g.store.Replace(entry)
	g.dirty.Set()
	g.log.Info().Int("undo", g.undo.Len()).Msg("undo applied")
	return entry.Clone(), nil
}

func (g *Gateway) UndoDepth() int {
	return g.undo.Len()
}
