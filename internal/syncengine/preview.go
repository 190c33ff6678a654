package syncengine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentworkforce/nexusvault/internal/catalog"
)

// PreviewSession substitutes a historical version for the live state. While
// it is active every mutating path is refused.
type PreviewSession struct {
	remote Remote
	store  *StateStore
	dirty  *DirtyTracker
	writer *sync.Mutex
	log    zerolog.Logger

	mu      sync.RWMutex
	version *catalog.Version
}

func NewPreviewSession(remote Remote, store *StateStore, dirty *DirtyTracker, writer *sync.Mutex, logger zerolog.Logger) *PreviewSession {
	if writer == nil {
		writer = &sync.Mutex{}
	}
	return &PreviewSession{remote: remote, store: store, dirty: dirty, writer: writer, log: logger}
}

func (p *PreviewSession) Active() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version != nil
}

// Current returns the previewed version, if any.
func (p *PreviewSession) Current() (catalog.Version, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.version == nil {
		return catalog.Version{}, false
	}
	return cloneVersion(*p.version), true
}

// View is what callers should display: the previewed data while active,
// the live state otherwise.
func (p *PreviewSession) View() catalog.AppState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.version != nil {
		return p.version.Data.Clone()
	}
	return p.store.Get()
}

// Enter starts previewing version. Entering while already active switches to
// the new version. The live state and dirty bit are left alone.
func (p *PreviewSession) Enter(version catalog.Version) {
	// Wait for any in-flight mutation so none lands after the guard is up.
	p.writer.Lock()
	defer p.writer.Unlock()

	v := cloneVersion(version)
	p.mu.Lock()
	p.version = &v
	p.mu.Unlock()
	p.log.Info().Str("version", version.ID).Msg("preview entered")
}

// Exit leaves preview mode and re-reads the live state from the remote.
func (p *PreviewSession) Exit(ctx context.Context) (catalog.AppState, error) {
	p.writer.Lock()
	defer p.writer.Unlock()

	p.mu.Lock()
	p.version = nil
	p.mu.Unlock()

	state, err := p.remote.FetchState(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("re-read after preview failed")
		return p.store.Get(), newMutationError("exit-preview", ErrRemoteFailure, err)
	}
	p.store.Replace(state)
	p.log.Info().Msg("preview exited")
	return state.Clone(), nil
}

// Restore makes version's data the live state. It works from either preview
// state, ends any preview, clears the dirty bit and archives nothing.
func (p *PreviewSession) Restore(ctx context.Context, version catalog.Version) (catalog.AppState, error) {
	p.writer.Lock()
	defer p.writer.Unlock()

	data := version.Data.Clone()
	if err := p.remote.SaveState(ctx, data); err != nil {
		p.log.Warn().Str("version", version.ID).Err(err).Msg("restore failed")
		return p.store.Get(), newMutationError("restore", ErrRemoteFailure, err)
	}
	p.store.Replace(data)
	p.mu.Lock()
	p.version = nil
	p.mu.Unlock()
	p.dirty.Clear()
	p.log.Info().Str("version", version.ID).Msg("version restored")
	return data.Clone(), nil
}
