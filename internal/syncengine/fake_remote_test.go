package syncengine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/nexusvault/internal/catalog"
)

var _ Remote = (*catalog.Store)(nil)

var errInjected = errors.New("injected remote failure")

// fakeRemote is a real in-memory catalog store with scriptable failures.
type fakeRemote struct {
	*catalog.Store
	backend *catalog.MemoryBackend

	mu     sync.Mutex
	fail   map[string]error
	gate   chan struct{}
	writes atomic.Int32
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	backend := catalog.NewMemoryBackend()
	store, err := catalog.OpenStore(context.Background(), catalog.StoreOptions{Backend: backend})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return &fakeRemote{Store: store, backend: backend, fail: map[string]error{}}
}

func (f *fakeRemote) failOn(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = errInjected
}

func (f *fakeRemote) heal(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.fail, op)
}

func (f *fakeRemote) check(ctx context.Context, op string) error {
	f.writes.Add(1)
	f.mu.Lock()
	err := f.fail[op]
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// hold makes every write wait until the returned release func is called.
func (f *fakeRemote) hold() func() {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.gate = nil
		f.mu.Unlock()
		close(gate)
	}
}

// snapshot returns the raw persisted documents.
func (f *fakeRemote) snapshot(t *testing.T) map[catalog.Document]string {
	t.Helper()
	out := map[catalog.Document]string{}
	for _, doc := range catalog.Documents {
		data, err := f.backend.Load(context.Background(), doc)
		require.NoError(t, err)
		out[doc] = string(data)
	}
	return out
}

// failure reports an injected error for a read without counting it as a write.
func (f *fakeRemote) failure(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail[op]
}

func (f *fakeRemote) FetchState(ctx context.Context) (catalog.AppState, error) {
	if err := f.failure("fetch-state"); err != nil {
		return catalog.AppState{}, err
	}
	return f.Store.FetchState(ctx)
}

func (f *fakeRemote) SaveState(ctx context.Context, state catalog.AppState) error {
	if err := f.check(ctx, "save-state"); err != nil {
		return err
	}
	return f.Store.SaveState(ctx, state)
}

func (f *fakeRemote) CreateCategory(ctx context.Context, c catalog.Category) (catalog.Category, error) {
	if err := f.check(ctx, "create-category"); err != nil {
		return catalog.Category{}, err
	}
	return f.Store.CreateCategory(ctx, c)
}

func (f *fakeRemote) DeleteCategory(ctx context.Context, id string) error {
	if err := f.check(ctx, "delete-category"); err != nil {
		return err
	}
	return f.Store.DeleteCategory(ctx, id)
}

func (f *fakeRemote) CreateItem(ctx context.Context, item catalog.Item) (catalog.Item, error) {
	if err := f.check(ctx, "create-item"); err != nil {
		return catalog.Item{}, err
	}
	return f.Store.CreateItem(ctx, item)
}

func (f *fakeRemote) DeleteItem(ctx context.Context, id string) error {
	if err := f.check(ctx, "delete-item"); err != nil {
		return err
	}
	return f.Store.DeleteItem(ctx, id)
}

func (f *fakeRemote) RemoveCategoryFromItem(ctx context.Context, itemID, categoryID string) (catalog.Item, error) {
	if err := f.check(ctx, "remove-category-from-item"); err != nil {
		return catalog.Item{}, err
	}
	return f.Store.RemoveCategoryFromItem(ctx, itemID, categoryID)
}

func (f *fakeRemote) CreateVersion(ctx context.Context, label string, data catalog.AppState) (catalog.Version, error) {
	if err := f.check(ctx, "create-version"); err != nil {
		return catalog.Version{}, err
	}
	return f.Store.CreateVersion(ctx, label, data)
}

func (f *fakeRemote) Import(ctx context.Context, raw []byte) error {
	if err := f.check(ctx, "import"); err != nil {
		return err
	}
	return f.Store.Import(ctx, raw)
}

// newTestEngine starts an engine with autosave disabled unless interval > 0.
func newTestEngine(t *testing.T, remote *fakeRemote, settings catalog.Settings) *Engine {
	t.Helper()
	ctx := context.Background()
	_, err := remote.Store.UpdateSettings(ctx, settings)
	require.NoError(t, err)
	engine, err := New(Options{Remote: remote, AutoSaveUnit: 20 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, engine.Start(ctx))
	t.Cleanup(engine.Close)
	return engine
}

func noAutoSave() catalog.Settings {
	return catalog.Settings{AutoSaveInterval: 0, MaxVersions: 20}
}
