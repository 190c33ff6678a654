package syncengine

import (
	"context"
	"time"

	"github.com/agentworkforce/nexusvault/internal/catalog"
)

// Mutation describes one user intent. Apply computes the visible effect from
// the current state and doubles as local validation; Commit issues the
// matching durable operation. Apply must be deterministic.
type Mutation interface {
	Name() string
	Apply(state catalog.AppState) (catalog.AppState, error)
	Commit(ctx context.Context, remote Remote, next catalog.AppState) error
}

// preparer is implemented by mutations that mint ids or timestamps before
// their first Apply.
type preparer interface {
	prepare(now time.Time) Mutation
}

type CreateCategory struct {
	Category catalog.Category
}

func (m CreateCategory) Name() string { return "create-category" }

func (m CreateCategory) prepare(now time.Time) Mutation {
	m.Category = catalog.PrepareCategory(m.Category, now)
	return m
}

func (m CreateCategory) Apply(state catalog.AppState) (catalog.AppState, error) {
	return catalog.CreateCategory(state, m.Category)
}

func (m CreateCategory) Commit(ctx context.Context, remote Remote, _ catalog.AppState) error {
	_, err := remote.CreateCategory(ctx, m.Category)
	return err
}

type UpdateCategory struct {
	ID    string
	Patch catalog.CategoryPatch
}

func (m UpdateCategory) Name() string { return "update-category" }

func (m UpdateCategory) Apply(state catalog.AppState) (catalog.AppState, error) {
	return catalog.UpdateCategory(state, m.ID, m.Patch)
}

func (m UpdateCategory) Commit(ctx context.Context, remote Remote, _ catalog.AppState) error {
	_, err := remote.UpdateCategory(ctx, m.ID, m.Patch)
	return err
}

type DeleteCategory struct {
	ID string
}

func (m DeleteCategory) Name() string { return "delete-category" }

func (m DeleteCategory) Apply(state catalog.AppState) (catalog.AppState, error) {
	return catalog.DeleteCategory(state, m.ID)
}

func (m DeleteCategory) Commit(ctx context.Context, remote Remote, _ catalog.AppState) error {
	return remote.DeleteCategory(ctx, m.ID)
}

type CreateItem struct {
	Item catalog.Item
}

func (m CreateItem) Name() string { return "create-item" }

func (m CreateItem) prepare(now time.Time) Mutation {
	m.Item = catalog.PrepareItem(m.Item, now)
	return m
}

func (m CreateItem) Apply(state catalog.AppState) (catalog.AppState, error) {
	next, _, err := catalog.CreateItem(state, m.Item)
	return next, err
}

func (m CreateItem) Commit(ctx context.Context, remote Remote, _ catalog.AppState) error {
	_, err := remote.CreateItem(ctx, m.Item)
	return err
}

// UploadItem adds a file item whose Content is the encoded payload.
type UploadItem struct {
	Item catalog.Item
}

func (m UploadItem) Name() string { return "upload-item" }

func (m UploadItem) prepare(now time.Time) Mutation {
	m.Item = catalog.PrepareItem(m.Item, now)
	return m
}

func (m UploadItem) Apply(state catalog.AppState) (catalog.AppState, error) {
	next, _, err := catalog.UploadItem(state, m.Item)
	return next, err
}

func (m UploadItem) Commit(ctx context.Context, remote Remote, _ catalog.AppState) error {
	_, err := remote.UploadItem(ctx, m.Item)
	return err
}

type UpdateItem struct {
	ID    string
	Patch catalog.ItemPatch
}

func (m UpdateItem) Name() string { return "update-item" }

func (m UpdateItem) Apply(state catalog.AppState) (catalog.AppState, error) {
	next, _, err := catalog.UpdateItem(state, m.ID, m.Patch)
	return next, err
}

func (m UpdateItem) Commit(ctx context.Context, remote Remote, _ catalog.AppState) error {
	_, err := remote.UpdateItem(ctx, m.ID, m.Patch)
	return err
}

type DeleteItem struct {
	ID string
}

func (m DeleteItem) Name() string { return "delete-item" }

func (m DeleteItem) Apply(state catalog.AppState) (catalog.AppState, error) {
	return catalog.DeleteItem(state, m.ID)
}

func (m DeleteItem) Commit(ctx context.Context, remote Remote, _ catalog.AppState) error {
	return remote.DeleteItem(ctx, m.ID)
}

type BatchAddTags struct {
	ItemIDs    []string
	CategoryID string
}

func (m BatchAddTags) Name() string { return "batch-add-tags" }

func (m BatchAddTags) Apply(state catalog.AppState) (catalog.AppState, error) {
	return catalog.BatchAddTags(state, m.ItemIDs, m.CategoryID)
}

func (m BatchAddTags) Commit(ctx context.Context, remote Remote, _ catalog.AppState) error {
	return remote.BatchAddTags(ctx, m.ItemIDs, m.CategoryID)
}

type BatchEdit struct {
	Request catalog.BatchEditRequest
}

func (m BatchEdit) Name() string { return "batch-edit" }

func (m BatchEdit) Apply(state catalog.AppState) (catalog.AppState, error) {
	return catalog.BatchEdit(state, m.Request)
}

func (m BatchEdit) Commit(ctx context.Context, remote Remote, _ catalog.AppState) error {
	return remote.BatchEdit(ctx, m.Request)
}

type BatchDelete struct {
	ItemIDs []string
}

func (m BatchDelete) Name() string { return "batch-delete" }

func (m BatchDelete) Apply(state catalog.AppState) (catalog.AppState, error) {
	return catalog.BatchDelete(state, m.ItemIDs)
}

func (m BatchDelete) Commit(ctx context.Context, remote Remote, _ catalog.AppState) error {
	return remote.BatchDelete(ctx, m.ItemIDs)
}

type BatchRemoveCategories struct {
	ItemIDs     []string
	CategoryIDs []string
}

func (m BatchRemoveCategories) Name() string { return "batch-remove-categories" }

func (m BatchRemoveCategories) Apply(state catalog.AppState) (catalog.AppState, error) {
	return catalog.BatchRemoveCategories(state, m.ItemIDs, m.CategoryIDs)
}

func (m BatchRemoveCategories) Commit(ctx context.Context, remote Remote, _ catalog.AppState) error {
	return remote.BatchRemoveCategories(ctx, m.ItemIDs, m.CategoryIDs)
}

type ToggleCategory struct {
	ItemIDs    []string
	CategoryID string
}

func (m ToggleCategory) Name() string { return "toggle-category" }

func (m ToggleCategory) Apply(state catalog.AppState) (catalog.AppState, error) {
	return catalog.ToggleCategory(state, m.ItemIDs, m.CategoryID)
}

func (m ToggleCategory) Commit(ctx context.Context, remote Remote, _ catalog.AppState) error {
	return remote.ToggleCategory(ctx, m.ItemIDs, m.CategoryID)
}

type RemoveCategoryFromItem struct {
	ItemID     string
	CategoryID string
}

func (m RemoveCategoryFromItem) Name() string { return "remove-category-from-item" }

func (m RemoveCategoryFromItem) Apply(state catalog.AppState) (catalog.AppState, error) {
	next, _, err := catalog.RemoveCategoryFromItem(state, m.ItemID, m.CategoryID)
	return next, err
}

func (m RemoveCategoryFromItem) Commit(ctx context.Context, remote Remote, _ catalog.AppState) error {
	_, err := remote.RemoveCategoryFromItem(ctx, m.ItemID, m.CategoryID)
	return err
}

// SelectCategories changes the active filter. The filter is part of the
// state, so it is committed with a full save.
type SelectCategories struct {
	CategoryIDs []string
}

func (m SelectCategories) Name() string { return "select-categories" }

func (m SelectCategories) Apply(state catalog.AppState) (catalog.AppState, error) {
	return catalog.SelectCategories(state, m.CategoryIDs)
}

func (m SelectCategories) Commit(ctx context.Context, remote Remote, next catalog.AppState) error {
	return remote.SaveState(ctx, next)
}

// ImportState overwrites everything with an exported payload.
type ImportState struct {
	Raw []byte
}

func (m ImportState) Name() string { return "import" }

func (m ImportState) Apply(catalog.AppState) (catalog.AppState, error) {
	return catalog.DecodeImport(m.Raw)
}

func (m ImportState) Commit(ctx context.Context, remote Remote, _ catalog.AppState) error {
	return remote.Import(ctx, m.Raw)
}
