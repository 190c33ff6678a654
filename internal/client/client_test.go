package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/nexusvault/internal/catalog"
	"github.com/agentworkforce/nexusvault/internal/httpapi"
	"github.com/agentworkforce/nexusvault/internal/syncengine"
)

var _ syncengine.Remote = (*HTTPClient)(nil)

func newVaultServer(t *testing.T, cfg httpapi.ServerConfig) (*HTTPClient, *catalog.Store) {
	t.Helper()
	store := catalog.NewMemoryStore()
	ts := httptest.NewServer(httpapi.NewServerWithConfig(store, cfg))
	t.Cleanup(func() {
		ts.Close()
		_ = store.Close()
	})
	return NewHTTPClient(Options{BaseURL: ts.URL + "/", Token: cfg.AuthToken}), store
}

func TestClientRoundTrip(t *testing.T) {
	c, store := newVaultServer(t, httpapi.ServerConfig{AuthToken: "tkn"})
	ctx := context.Background()

	category, err := c.CreateCategory(ctx, catalog.Category{Name: "Clips", ParentID: strPtr("root_1")})
	require.NoError(t, err)
	require.NotEmpty(t, category.ID)

	item, err := c.CreateItem(ctx, catalog.Item{Content: "https://example.com", Type: catalog.MediaURL, CategoryIDs: []string{category.ID}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{category.ID, "root_1"}, item.CategoryIDs)

	items, err := c.FetchItems(ctx, catalog.ItemQuery{CategoryIDs: []string{"root_1"}, Search: "EXAMPLE"})
	require.NoError(t, err)
	require.Len(t, items, 1)

	moved, err := c.UpdateCategory(ctx, category.ID, catalog.CategoryPatch{DetachParent: true})
	require.NoError(t, err)
	assert.Nil(t, moved.ParentID)

	require.NoError(t, c.BatchEdit(ctx, catalog.BatchEditRequest{ItemIDs: []string{item.ID}, Description: "bookmark"}))
	require.NoError(t, c.BatchAddTags(ctx, []string{item.ID}, "root_2"))
	updated, err := c.RemoveCategoryFromItem(ctx, item.ID, "root_2")
	require.NoError(t, err)
	assert.Equal(t, "bookmark", updated.Description)

	version, err := c.CreateVersion(ctx, "first", catalog.InitialState())
	require.NoError(t, err)
	versions, err := c.FetchVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, version.ID, versions[0].ID)

	settings, err := c.UpdateSettings(ctx, catalog.Settings{AutoSaveInterval: 0, MaxVersions: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, settings.MaxVersions)

	exported, err := c.Export(ctx)
	require.NoError(t, err)
	durable, err := store.FetchState(ctx)
	require.NoError(t, err)
	assert.Equal(t, durable, exported)

	require.NoError(t, c.DeleteItem(ctx, item.ID))
	require.NoError(t, c.DeleteVersion(ctx, version.ID))
	require.NoError(t, c.DeleteCategory(ctx, category.ID))
}

func TestClientErrorMapping(t *testing.T) {
	c, _ := newVaultServer(t, httpapi.ServerConfig{})
	ctx := context.Background()

	err := c.DeleteItem(ctx, "missing")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, "not_found", httpErr.Code)

	_, err = c.CreateItem(ctx, catalog.Item{Content: "x", Type: catalog.MediaText})
	assert.ErrorIs(t, err, catalog.ErrInvalidInput)

	err = c.Import(ctx, []byte(`{"items": 3}`))
	assert.ErrorIs(t, err, catalog.ErrCorruptData)
	assert.NotErrorIs(t, err, catalog.ErrNotFound)
}

func TestClientRejectedWithoutToken(t *testing.T) {
	store := catalog.NewMemoryStore()
	defer store.Close()
	ts := httptest.NewServer(httpapi.NewServerWithConfig(store, httpapi.ServerConfig{AuthToken: "right"}))
	defer ts.Close()

	_, err := NewHTTPClient(Options{BaseURL: ts.URL, Token: "wrong"}).FetchState(context.Background())
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
}

func TestClientRetriesReadsOnly(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"autoSaveInterval":5,"maxVersions":20}`))
	}))
	defer ts.Close()
	c := NewHTTPClient(Options{BaseURL: ts.URL})
	c.baseDelay = time.Millisecond

	settings, err := c.FetchSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, catalog.DefaultSettings(), settings)
	assert.EqualValues(t, 3, calls.Load())

	calls.Store(0)
	err = c.DeleteVersion(context.Background(), "v1")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRetryDelay(t *testing.T) {
	c := NewHTTPClient(Options{})
	assert.Equal(t, 100*time.Millisecond, c.retryDelay(1, ""))
	assert.Equal(t, 400*time.Millisecond, c.retryDelay(3, ""))
	assert.Equal(t, 2*time.Second, c.retryDelay(10, ""))
	assert.Equal(t, time.Second, c.retryDelay(1, "1"))
	assert.Equal(t, 2*time.Second, c.retryDelay(1, "60"))
}

func TestFeedURL(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:8000/api/feed", NewHTTPClient(Options{}).feedURL())
	assert.Equal(t, "wss://vault.example/api/feed", NewHTTPClient(Options{BaseURL: "https://vault.example/"}).feedURL())
}

func TestSubscribeReceivesChanges(t *testing.T) {
	c, store := newVaultServer(t, httpapi.ServerConfig{AuthToken: "tkn"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := c.Subscribe(ctx)
	require.NoError(t, err)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case event, ok := <-events:
			require.True(t, ok)
			assert.Equal(t, catalog.EventSettingsChanged, event.Type)
			cancel()
			for range events {
			}
			return
		case <-ticker.C:
			_, err := store.UpdateSettings(context.Background(), catalog.DefaultSettings())
			require.NoError(t, err)
		case <-ctx.Done():
			t.Fatal("no feed event received")
		}
	}
}

// The engine runs unchanged against the HTTP client.
func TestEngineOverHTTP(t *testing.T) {
	c, store := newVaultServer(t, httpapi.ServerConfig{})
	ctx := context.Background()
	_, err := store.UpdateSettings(ctx, catalog.Settings{AutoSaveInterval: 0, MaxVersions: 2})
	require.NoError(t, err)

	engine, err := syncengine.New(syncengine.Options{Remote: c})
	require.NoError(t, err)
	require.NoError(t, engine.Start(ctx))
	defer engine.Close()

	state, err := engine.Apply(ctx, syncengine.CreateItem{Item: catalog.Item{Content: "remote note", Type: catalog.MediaText, CategoryIDs: []string{"root_2"}}})
	require.NoError(t, err)
	require.Len(t, state.Items, 1)
	assert.True(t, engine.IsDirty())

	durable, err := store.FetchState(ctx)
	require.NoError(t, err)
	assert.Equal(t, durable, engine.State())

	for i := 0; i < 3; i++ {
		_, err := engine.SaveVersion(ctx, "")
		require.NoError(t, err)
	}
	assert.Len(t, engine.Versions(), 2)
	assert.False(t, engine.IsDirty())

	_, err = engine.Apply(ctx, syncengine.DeleteItem{ID: "missing"})
	require.ErrorIs(t, err, syncengine.ErrNotFound)

	state, err = engine.Undo(ctx)
	require.NoError(t, err)
	assert.Empty(t, state.Items)
	durable, err = store.FetchState(ctx)
	require.NoError(t, err)
	assert.Empty(t, durable.Items)
}

func strPtr(s string) *string { return &s }
