package syncengine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/nexusvault/internal/catalog"
)

func strPtr(s string) *string { return &s }

func TestApplyInstallsCanonicalState(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, noAutoSave())

	// Another writer changes the remote behind the engine's back.
	_, err := remote.Store.CreateCategory(ctx, catalog.Category{ID: "external", Name: "External"})
	require.NoError(t, err)

	state, err := engine.Apply(ctx, CreateCategory{Category: catalog.Category{Name: "Books"}})
	require.NoError(t, err)

	canonical, _ := remote.Store.FetchState(ctx)
	assert.Equal(t, canonical, state)
	assert.Equal(t, canonical, engine.State())
	_, ok := state.FindCategory("external")
	assert.True(t, ok)
	assert.True(t, engine.IsDirty())
	assert.Equal(t, 1, engine.UndoDepth())
}

func TestApplyPublishesSpeculativeStateBeforeCommit(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, noAutoSave())

	release := remote.hold()
	done := make(chan error, 1)
	go func() {
		_, err := engine.Apply(ctx, CreateCategory{Category: catalog.Category{ID: "pending", Name: "Pending"}})
		done <- err
	}()

	require.Eventually(t, func() bool {
		_, ok := engine.State().FindCategory("pending")
		return ok
	}, time.Second, 5*time.Millisecond)
	remoteState, _ := remote.Store.FetchState(ctx)
	_, ok := remoteState.FindCategory("pending")
	assert.False(t, ok, "remote must not have it before the commit is released")

	release()
	require.NoError(t, <-done)
}

func TestApplyRollsBackOnRemoteFailure(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, noAutoSave())
	_, err := engine.Apply(ctx, CreateCategory{Category: catalog.Category{ID: "a", Name: "A"}})
	require.NoError(t, err)
	_, err = engine.SaveVersion(ctx, "")
	require.NoError(t, err)
	require.False(t, engine.IsDirty())

	before := engine.State()
	depth := engine.UndoDepth()
	remote.failOn("create-category")

	state, err := engine.Apply(ctx, CreateCategory{Category: catalog.Category{ID: "b", Name: "B"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteFailure)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, before, state)
	assert.Equal(t, before, engine.State())
	assert.Equal(t, depth, engine.UndoDepth(), "the undo entry of a failed mutation is dropped")
	assert.False(t, engine.IsDirty(), "dirty is unchanged by a failed mutation")
}

func TestApplyRejectsInvalidMutationsLocally(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, noAutoSave())
	before := engine.State()

	_, err := engine.Apply(ctx, CreateItem{Item: catalog.Item{Content: "orphan", Type: catalog.MediaText}})
	require.ErrorIs(t, err, ErrValidation)
	var mutationErr *MutationError
	require.True(t, errors.As(err, &mutationErr))
	assert.Equal(t, "create-item", mutationErr.Op)

	_, err = engine.Apply(ctx, DeleteItem{ID: "missing"})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = engine.Apply(ctx, ImportState{Raw: []byte(`{"items": []}`)})
	require.ErrorIs(t, err, ErrCorruptData)

	assert.Zero(t, remote.writes.Load(), "rejected mutations never reach the remote")
	assert.Equal(t, before, engine.State())
	assert.Zero(t, engine.UndoDepth())
	assert.False(t, engine.IsDirty())
}

func TestRemoveLastCategoryFails(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, noAutoSave())
	_, err := engine.Apply(ctx, CreateCategory{Category: catalog.Category{ID: "A", Name: "A"}})
	require.NoError(t, err)
	_, err = engine.Apply(ctx, CreateItem{Item: catalog.Item{ID: "item", Content: "x", Type: catalog.MediaText, CategoryIDs: []string{"A"}}})
	require.NoError(t, err)

	_, err = engine.Apply(ctx, RemoveCategoryFromItem{ItemID: "item", CategoryID: "A"})
	require.ErrorIs(t, err, ErrValidation)

	item, ok := engine.State().FindItem("item")
	require.True(t, ok)
	assert.Equal(t, []string{"A"}, item.CategoryIDs)
	remoteState, _ := remote.Store.FetchState(ctx)
	item, _ = remoteState.FindItem("item")
	assert.Equal(t, []string{"A"}, item.CategoryIDs)
}

func TestCategoryInvariantHoldsAcrossOperations(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, noAutoSave())

	mutations := []Mutation{
		CreateCategory{Category: catalog.Category{ID: "p", Name: "Parent", ParentID: strPtr("root_1")}},
		CreateCategory{Category: catalog.Category{ID: "c", Name: "Child", ParentID: strPtr("p")}},
		CreateItem{Item: catalog.Item{ID: "i1", Content: "one", Type: catalog.MediaText, CategoryIDs: []string{"c"}}},
		CreateItem{Item: catalog.Item{ID: "i2", Content: "two", Type: catalog.MediaText, CategoryIDs: []string{"root_2"}}},
		ToggleCategory{ItemIDs: []string{"i2"}, CategoryID: "root_2"},
		BatchRemoveCategories{ItemIDs: []string{"i2"}, CategoryIDs: []string{"root_2"}},
		BatchAddTags{ItemIDs: []string{"i2"}, CategoryID: "c"},
		ToggleCategory{ItemIDs: []string{"i1", "i2"}, CategoryID: "p"},
		RemoveCategoryFromItem{ItemID: "i1", CategoryID: "root_1"},
		DeleteCategory{ID: "root_1"},
		BatchEdit{Request: catalog.BatchEditRequest{ItemIDs: []string{"i2"}, Description: "d"}},
		SelectCategories{CategoryIDs: []string{"root_2"}},
		UploadItem{Item: catalog.Item{ID: "f", FileName: "a.pdf", Content: "base64", Type: catalog.MediaDocument, CategoryIDs: []string{"root_2"}}},
		BatchDelete{ItemIDs: []string{"f"}},
	}
	for i, m := range mutations {
		_, _ = engine.Apply(ctx, m)
		require.NoError(t, catalog.CheckInvariants(engine.State()), "after mutation %d (%s)", i, m.Name())
	}
	remoteState, _ := remote.Store.FetchState(ctx)
	assert.Equal(t, remoteState, engine.State())
	assert.Equal(t, []string{"root_2"}, engine.State().SelectedCategoryIDs)
}

func TestUndoStackBound(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, noAutoSave())
	for i := 0; i < 15; i++ {
		_, err := engine.Apply(ctx, CreateCategory{Category: catalog.Category{ID: fmt.Sprintf("c%d", i), Name: "C"}})
		require.NoError(t, err)
		assert.LessOrEqual(t, engine.UndoDepth(), DefaultUndoDepth)
	}
	assert.Equal(t, DefaultUndoDepth, engine.UndoDepth())
}

func TestUndo(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, noAutoSave())

	_, err := engine.Undo(ctx)
	require.ErrorIs(t, err, ErrNothingToUndo)

	_, err = engine.Apply(ctx, CreateCategory{Category: catalog.Category{ID: "a", Name: "A"}})
	require.NoError(t, err)
	afterFirst := engine.State()
	_, err = engine.Apply(ctx, CreateCategory{Category: catalog.Category{ID: "b", Name: "B"}})
	require.NoError(t, err)

	state, err := engine.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, afterFirst, state)
	assert.Equal(t, afterFirst, engine.State())
	remoteState, _ := remote.Store.FetchState(ctx)
	assert.Equal(t, afterFirst, remoteState)
	assert.Equal(t, 1, engine.UndoDepth())

	remote.failOn("save-state")
	_, err = engine.Undo(ctx)
	require.ErrorIs(t, err, ErrRemoteFailure)
	assert.Equal(t, afterFirst, engine.State(), "a failed undo leaves the state alone")
	assert.Zero(t, engine.UndoDepth(), "a failed undo still consumes its entry")
}

func TestArchiveKeepsNewestVersions(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, catalog.Settings{AutoSaveInterval: 0, MaxVersions: 2})

	_, err := engine.SaveVersion(ctx, "Manual")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(engine.Versions()), 2)
	v2, err := engine.SaveVersion(ctx, catalog.LabelAutoSave)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(engine.Versions()), 2)
	v3, err := engine.SaveVersion(ctx, "Manual")
	require.NoError(t, err)

	versions := engine.Versions()
	require.Len(t, versions, 2)
	assert.Equal(t, []string{v3.ID, v2.ID}, []string{versions[0].ID, versions[1].ID})

	reloaded, err := engine.ReloadVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{v3.ID, v2.ID}, []string{reloaded[0].ID, reloaded[1].ID})
}

func TestVersionsAreIsolatedFromLiveState(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, noAutoSave())
	v, err := engine.SaveVersion(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, catalog.LabelManualSave, v.Label)

	_, err = engine.Apply(ctx, UpdateCategory{ID: "root_1", Patch: catalog.CategoryPatch{Name: strPtr("Renamed")}})
	require.NoError(t, err)

	archived, err := engine.archive.Get(v.ID)
	require.NoError(t, err)
	assert.Equal(t, "My Collection", archived.Data.Categories[0].Name)
}

func TestPreviewBlocksMutations(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, noAutoSave())
	v, err := engine.SaveVersion(ctx, "")
	require.NoError(t, err)
	_, err = engine.Apply(ctx, CreateCategory{Category: catalog.Category{ID: "x", Name: "X"}})
	require.NoError(t, err)
	other, err := engine.SaveVersion(ctx, "second")
	require.NoError(t, err)

	durableBefore := remote.snapshot(t)
	live := engine.State()
	writes := remote.writes.Load()

	view, err := engine.EnterPreview(v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.Data, view)
	assert.Equal(t, v.Data, engine.View())
	assert.Equal(t, live, engine.State(), "preview does not touch the live state")

	_, err = engine.Apply(ctx, CreateCategory{Category: catalog.Category{ID: "y", Name: "Y"}})
	require.ErrorIs(t, err, ErrReadOnly)
	_, err = engine.Undo(ctx)
	require.ErrorIs(t, err, ErrReadOnly)
	_, err = engine.SaveVersion(ctx, "")
	require.ErrorIs(t, err, ErrReadOnly)
	require.ErrorIs(t, engine.DeleteVersion(ctx, v.ID), ErrReadOnly)
	require.ErrorIs(t, engine.DeleteVersion(ctx, other.ID), ErrReadOnly)
	_, err = engine.UpdateSettings(ctx, catalog.Settings{AutoSaveInterval: 0, MaxVersions: 1})
	require.ErrorIs(t, err, ErrReadOnly)
	assert.Equal(t, noAutoSave(), engine.Settings())
	assert.Len(t, engine.Versions(), 2)

	items, err := engine.Items(ctx, catalog.ItemQuery{})
	require.NoError(t, err)
	assert.Empty(t, items)

	state, err := engine.ExitPreview(ctx)
	require.NoError(t, err)
	assert.Equal(t, live, state)
	assert.Equal(t, durableBefore, remote.snapshot(t), "durable documents are byte-for-byte unchanged")
	assert.Equal(t, writes, remote.writes.Load())

	_, err = engine.Apply(ctx, CreateCategory{Category: catalog.Category{ID: "y", Name: "Y"}})
	require.NoError(t, err)
}

func TestExitPreviewReadsThroughToRemote(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, noAutoSave())
	v, err := engine.SaveVersion(ctx, "")
	require.NoError(t, err)

	_, err = engine.EnterPreview(v.ID)
	require.NoError(t, err)
	_, err = remote.Store.CreateCategory(ctx, catalog.Category{ID: "elsewhere", Name: "Elsewhere"})
	require.NoError(t, err)
	assert.Len(t, engine.State().Categories, 2, "the live copy is stale until exit")

	state, err := engine.ExitPreview(ctx)
	require.NoError(t, err)
	require.Len(t, state.Categories, 3)
	assert.Equal(t, "elsewhere", state.Categories[2].ID)
	assert.Equal(t, state, engine.State())
}

func TestExitPreviewFailureReleasesGuard(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, noAutoSave())
	v, err := engine.SaveVersion(ctx, "")
	require.NoError(t, err)
	live := engine.State()

	_, err = engine.EnterPreview(v.ID)
	require.NoError(t, err)
	remote.failOn("fetch-state")
	state, err := engine.ExitPreview(ctx)
	require.ErrorIs(t, err, ErrRemoteFailure)
	assert.Equal(t, live, state)
	_, previewing := engine.Previewing()
	assert.False(t, previewing)

	remote.heal("fetch-state")
	_, err = engine.Apply(ctx, CreateCategory{Category: catalog.Category{ID: "y", Name: "Y"}})
	require.NoError(t, err)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, noAutoSave())
	v, err := engine.SaveVersion(ctx, "")
	require.NoError(t, err)
	_, err = engine.Apply(ctx, CreateCategory{Category: catalog.Category{ID: "x", Name: "X"}})
	require.NoError(t, err)
	require.True(t, engine.IsDirty())
	count := len(engine.Versions())

	_, err = engine.EnterPreview(v.ID)
	require.NoError(t, err)
	state, err := engine.Restore(ctx, v.ID)
	require.NoError(t, err)

	assert.Equal(t, v.Data, state)
	assert.Equal(t, v.Data, engine.State())
	remoteState, _ := remote.Store.FetchState(ctx)
	assert.Equal(t, v.Data, remoteState)
	assert.Len(t, engine.Versions(), count, "restore archives nothing")
	assert.False(t, engine.IsDirty())
	_, previewing := engine.Previewing()
	assert.False(t, previewing)

	// Restore also works without a preview.
	_, err = engine.Apply(ctx, CreateCategory{Category: catalog.Category{ID: "z", Name: "Z"}})
	require.NoError(t, err)
	_, err = engine.Restore(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.Data, engine.State())

	_, err = engine.Restore(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRestoreFailureKeepsPreview(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, noAutoSave())
	v, err := engine.SaveVersion(ctx, "")
	require.NoError(t, err)
	_, err = engine.Apply(ctx, CreateCategory{Category: catalog.Category{ID: "x", Name: "X"}})
	require.NoError(t, err)
	live := engine.State()

	_, err = engine.EnterPreview(v.ID)
	require.NoError(t, err)
	remote.failOn("save-state")
	_, err = engine.Restore(ctx, v.ID)
	require.ErrorIs(t, err, ErrRemoteFailure)
	assert.Equal(t, live, engine.State())
	_, previewing := engine.Previewing()
	assert.True(t, previewing)
	assert.True(t, engine.IsDirty())
}

func TestAutoSaveArchivesDirtyStateOnce(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, catalog.Settings{AutoSaveInterval: 1, MaxVersions: 20})
	require.True(t, engine.AutoSaveArmed())

	_, err := engine.Apply(ctx, CreateCategory{Category: catalog.Category{ID: "x", Name: "X"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(engine.Versions()) == 1 && !engine.IsDirty()
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, catalog.LabelAutoSave, engine.Versions()[0].Label)
	_, ok := engine.Versions()[0].Data.FindCategory("x")
	assert.True(t, ok)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, engine.Versions(), 1, "no new version without a new mutation")
}

func TestCloseCancelsBlockedAutoSave(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, noAutoSave())
	_, err := engine.Apply(ctx, CreateCategory{Category: catalog.Category{ID: "x", Name: "X"}})
	require.NoError(t, err)

	release := remote.hold()
	defer release()
	writes := remote.writes.Load()
	_, err = engine.UpdateSettings(ctx, catalog.Settings{AutoSaveInterval: 1, MaxVersions: 20})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return remote.writes.Load() > writes
	}, 2*time.Second, 5*time.Millisecond, "autosave reached the remote")

	closed := make(chan struct{})
	go func() {
		engine.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close waited for the blocked autosave")
	}
	assert.False(t, engine.AutoSaveArmed())
	assert.True(t, engine.IsDirty())
}

func TestAutoSaveIsSuppressedDuringPreview(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, noAutoSave())
	v, err := engine.SaveVersion(ctx, "")
	require.NoError(t, err)
	_, err = engine.UpdateSettings(ctx, catalog.Settings{AutoSaveInterval: 1, MaxVersions: 20})
	require.NoError(t, err)
	_, err = engine.EnterPreview(v.ID)
	require.NoError(t, err)

	engine.dirty.Set()
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, engine.Versions(), 1)
	assert.True(t, engine.IsDirty())
	assert.True(t, engine.AutoSaveArmed(), "the timer stays armed during preview")

	_, err = engine.ExitPreview(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(engine.Versions()) == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAutoSaveFailureKeepsDirty(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, noAutoSave())
	_, err := engine.Apply(ctx, CreateCategory{Category: catalog.Category{ID: "x", Name: "X"}})
	require.NoError(t, err)
	remote.failOn("create-version")

	engine.autoSave(ctx)
	assert.True(t, engine.IsDirty())
	assert.Empty(t, engine.Versions())

	remote.heal("create-version")
	engine.autoSave(ctx)
	assert.False(t, engine.IsDirty())
	assert.Len(t, engine.Versions(), 1)
}

func TestUpdateSettingsTrimsArchiveAndRearms(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, catalog.Settings{AutoSaveInterval: 0, MaxVersions: 5})
	assert.False(t, engine.AutoSaveArmed())

	var ids []string
	for i := 0; i < 5; i++ {
		v, err := engine.SaveVersion(ctx, fmt.Sprintf("v%d", i))
		require.NoError(t, err)
		ids = append(ids, v.ID)
	}
	saved, err := engine.UpdateSettings(ctx, catalog.Settings{AutoSaveInterval: 3, MaxVersions: 2})
	require.NoError(t, err)
	assert.Equal(t, catalog.Settings{AutoSaveInterval: 3, MaxVersions: 2}, engine.Settings())
	assert.Equal(t, saved, engine.Settings())
	assert.True(t, engine.AutoSaveArmed())

	versions := engine.Versions()
	require.Len(t, versions, 2)
	assert.Equal(t, []string{ids[4], ids[3]}, []string{versions[0].ID, versions[1].ID})
	durable, _ := remote.Store.FetchVersions(ctx)
	assert.Len(t, durable, 2)

	_, err = engine.UpdateSettings(ctx, catalog.Settings{AutoSaveInterval: 0, MaxVersions: 0})
	require.ErrorIs(t, err, ErrValidation)

	_, err = engine.UpdateSettings(ctx, catalog.Settings{AutoSaveInterval: 0, MaxVersions: 2})
	require.NoError(t, err)
	assert.False(t, engine.AutoSaveArmed())
}

func TestRefreshAndItems(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, noAutoSave())
	_, err := remote.Store.CreateItem(ctx, catalog.Item{ID: "i", Content: "Hello", Type: catalog.MediaText, CategoryIDs: []string{"root_1"}})
	require.NoError(t, err)

	_, ok := engine.State().FindItem("i")
	assert.False(t, ok)
	state, err := engine.Refresh(ctx)
	require.NoError(t, err)
	_, ok = state.FindItem("i")
	assert.True(t, ok)

	items, err := engine.Items(ctx, catalog.ItemQuery{Search: "hell"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	items, err = engine.Items(ctx, catalog.ItemQuery{CategoryIDs: []string{"root_2"}})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDeleteVersion(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, noAutoSave())
	v, err := engine.SaveVersion(ctx, "")
	require.NoError(t, err)
	require.NoError(t, engine.DeleteVersion(ctx, v.ID))
	assert.Empty(t, engine.Versions())
	require.ErrorIs(t, engine.DeleteVersion(ctx, v.ID), ErrNotFound)
}

func TestImportThroughGateway(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(t)
	engine := newTestEngine(t, remote, noAutoSave())
	raw := []byte(`{"categories":[{"id":"c","name":"C"}],"items":[{"id":"i","type":"text","content":"x","categoryIds":["c"]}],"selectedCategoryIds":[]}`)

	state, err := engine.Apply(ctx, ImportState{Raw: raw})
	require.NoError(t, err)
	require.Len(t, state.Categories, 1)
	assert.Equal(t, 1, engine.UndoDepth())

	undone, err := engine.Undo(ctx)
	require.NoError(t, err)
	assert.Len(t, undone.Categories, 2)
}
