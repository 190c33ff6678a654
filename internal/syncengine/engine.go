package syncengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentworkforce/nexusvault/internal/catalog"
)

type Options struct {
	Remote Remote
	Logger *zerolog.Logger
	// AutoSaveUnit is the length of one autoSaveInterval step. Defaults to a minute.
	AutoSaveUnit time.Duration
	UndoDepth    int
	Now          func() time.Time
}

// Engine wires the live state, undo history, version archive, autosave and
// preview around one Remote.
type Engine struct {
	remote    Remote
	log       zerolog.Logger
	store     *StateStore
	dirty     *DirtyTracker
	undo      *UndoStack
	archive   *VersionArchive
	preview   *PreviewSession
	gateway   *Gateway
	scheduler *AutoSaveScheduler
	writer    *sync.Mutex

	// snapshotMu makes the dirty check, archive write and dirty clear of
	// autosave and manual saves one critical section.
	snapshotMu sync.Mutex

	settingsMu sync.RWMutex
	settings   catalog.Settings

	runCtx    context.Context
	cancelRun context.CancelFunc
}

func New(opts Options) (*Engine, error) {
	if opts.Remote == nil {
		return nil, errors.New("syncengine: remote is required")
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("component", "syncengine").Logger()
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	writer := &sync.Mutex{}
	store := NewStateStore(catalog.InitialState())
	dirty := &DirtyTracker{}
	undo := NewUndoStack(opts.UndoDepth)
	preview := NewPreviewSession(opts.Remote, store, dirty, writer, logger)

	e := &Engine{
		remote:   opts.Remote,
		log:      logger,
		store:    store,
		dirty:    dirty,
		undo:     undo,
		archive:  NewVersionArchive(opts.Remote, catalog.DefaultSettings().MaxVersions),
		preview:  preview,
		writer:   writer,
		settings: catalog.DefaultSettings(),
		gateway: NewGateway(GatewayOptions{
			Remote:  opts.Remote,
			Store:   store,
			Undo:    undo,
			Dirty:   dirty,
			Preview: preview,
			Writer:  writer,
			Logger:  logger,
			Now:     now,
		}),
	}
	e.runCtx, e.cancelRun = context.WithCancel(context.Background())
	e.scheduler = NewAutoSaveScheduler(e.autoSave, opts.AutoSaveUnit, logger)
	return e, nil
}

// Start loads state, settings and versions from the remote and arms autosave.
func (e *Engine) Start(ctx context.Context) error {
	state, err := e.remote.FetchState(ctx)
	if err != nil {
		return newMutationError("fetch-state", ErrRemoteFailure, err)
	}
	settings, err := e.remote.FetchSettings(ctx)
	if err != nil {
		return newMutationError("fetch-settings", ErrRemoteFailure, err)
	}
	e.store.Replace(state)
	e.setSettings(settings)
	e.archive.SetCapacity(settings.MaxVersions)
	if err := e.archive.Reload(ctx); err != nil {
		return err
	}

	e.scheduler.Configure(e.runCtx, settings.AutoSaveInterval)
	e.log.Info().
		Int("items", len(state.Items)).
		Int("versions", e.archive.Len()).
		Int("autoSaveInterval", settings.AutoSaveInterval).
		Msg("engine started")
	return nil
}

func (e *Engine) Close() {
	e.cancelRun()
	e.scheduler.Stop()
}

// State is the live state, ignoring any preview.
func (e *Engine) State() catalog.AppState { return e.store.Get() }

// View is the previewed version's data while a preview is active.
func (e *Engine) View() catalog.AppState { return e.preview.View() }

func (e *Engine) IsDirty() bool { return e.dirty.IsDirty() }

func (e *Engine) Apply(ctx context.Context, m Mutation) (catalog.AppState, error) {
	return e.gateway.Apply(ctx, m)
}

func (e *Engine) Undo(ctx context.Context) (catalog.AppState, error) {
	return e.gateway.Undo(ctx)
}

func (e *Engine) UndoDepth() int { return e.gateway.UndoDepth() }

// Items filters the previewed data locally while a preview is active and
// asks the remote otherwise.
func (e *Engine) Items(ctx context.Context, query catalog.ItemQuery) ([]catalog.Item, error) {
	if version, ok := e.preview.Current(); ok {
		return catalog.FilterItems(version.Data, query), nil
	}
	items, err := e.remote.FetchItems(ctx, query)
	if err != nil {
		return nil, newMutationError("fetch-items", ErrRemoteFailure, err)
	}
	return items, nil
}

// Refresh re-reads the live state, for example after another client changed
// it. It waits for any in-flight mutation to settle first.
func (e *Engine) Refresh(ctx context.Context) (catalog.AppState, error) {
	e.writer.Lock()
	defer e.writer.Unlock()
	if e.preview.Active() {
		return e.preview.View(), nil
	}
	state, err := e.remote.FetchState(ctx)
	if err != nil {
		return e.store.Get(), newMutationError("fetch-state", ErrRemoteFailure, err)
	}
	e.store.Replace(state)
	return state, nil
}

func (e *Engine) Export(ctx context.Context) (catalog.AppState, error) {
	state, err := e.remote.Export(ctx)
	if err != nil {
		return catalog.AppState{}, newMutationError("export", ErrRemoteFailure, err)
	}
	return state, nil
}

// SaveVersion archives the live state under label and clears the dirty bit.
func (e *Engine) SaveVersion(ctx context.Context, label string) (catalog.Version, error) {
	if label == "" {
		label = catalog.LabelManualSave
	}
	e.snapshotMu.Lock()
	defer e.snapshotMu.Unlock()
	if e.preview.Active() {
		return catalog.Version{}, newMutationError("create-version", ErrReadOnly, nil)
	}
	version, err := e.archive.Create(ctx, e.confirmedState(), label)
	if err != nil {
		return catalog.Version{}, err
	}
	e.dirty.Clear()
	e.log.Info().Str("version", version.ID).Str("label", label).Msg("version saved")
	return version, nil
}

func (e *Engine) autoSave(ctx context.Context) {
	e.snapshotMu.Lock()
	defer e.snapshotMu.Unlock()
	if e.preview.Active() || !e.dirty.IsDirty() {
		return
	}
	version, err := e.archive.Create(ctx, e.confirmedState(), catalog.LabelAutoSave)
	if err != nil {
		e.log.Warn().Err(err).Msg("autosave failed")
		return
	}
	e.dirty.Clear()
	e.log.Info().Str("version", version.ID).Msg("autosaved")
}

// confirmedState waits out any in-flight mutation so speculative state is
// never archived.
func (e *Engine) confirmedState() catalog.AppState {
	e.writer.Lock()
	defer e.writer.Unlock()
	return e.store.Get()
}

func (e *Engine) Versions() []catalog.Version { return e.archive.List() }

func (e *Engine) ReloadVersions(ctx context.Context) ([]catalog.Version, error) {
	if err := e.archive.Reload(ctx); err != nil {
		return nil, err
	}
	return e.archive.List(), nil
}

// DeleteVersion is refused while a preview is active.
func (e *Engine) DeleteVersion(ctx context.Context, id string) error {
	e.snapshotMu.Lock()
	defer e.snapshotMu.Unlock()
	if e.preview.Active() {
		return newMutationError("delete-version", ErrReadOnly, nil)
	}
	return e.archive.Delete(ctx, id)
}

func (e *Engine) EnterPreview(id string) (catalog.AppState, error) {
	version, err := e.archive.Get(id)
	if err != nil {
		return catalog.AppState{}, err
	}
	e.preview.Enter(version)
	return version.Data, nil
}

func (e *Engine) ExitPreview(ctx context.Context) (catalog.AppState, error) {
	return e.preview.Exit(ctx)
}

func (e *Engine) Previewing() (catalog.Version, bool) { return e.preview.Current() }

func (e *Engine) Restore(ctx context.Context, id string) (catalog.AppState, error) {
	version, err := e.archive.Get(id)
	if err != nil {
		return catalog.AppState{}, err
	}
	return e.preview.Restore(ctx, version)
}

func (e *Engine) Settings() catalog.Settings {
	e.settingsMu.RLock()
	defer e.settingsMu.RUnlock()
	return e.settings
}

// UpdateSettings persists settings, evicts the oldest versions beyond the new
// capacity and re-arms autosave. It is refused while a preview is active.
func (e *Engine) UpdateSettings(ctx context.Context, settings catalog.Settings) (catalog.Settings, error) {
	if e.preview.Active() {
		return e.Settings(), newMutationError("update-settings", ErrReadOnly, nil)
	}
	if err := settings.Validate(); err != nil {
		return e.Settings(), newMutationError("update-settings", ErrValidation, err)
	}
	saved, err := e.remote.UpdateSettings(ctx, settings)
	if err != nil {
		return e.Settings(), newMutationError("update-settings", ErrRemoteFailure, err)
	}
	e.setSettings(saved)
	e.archive.SetCapacity(saved.MaxVersions)
	e.scheduler.Configure(e.runCtx, saved.AutoSaveInterval)
	return saved, nil
}

func (e *Engine) AutoSaveArmed() bool { return e.scheduler.Armed() }

func (e *Engine) setSettings(settings catalog.Settings) {
	e.settingsMu.Lock()
	defer e.settingsMu.Unlock()
	e.settings = settings
}
