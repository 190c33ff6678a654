package syncengine

import (
	"context"

	"github.com/agentworkforce/nexusvault/internal/catalog"
)

// Remote is the durable system of record. Both *catalog.Store and
// *client.HTTPClient satisfy it.
type Remote interface {
	FetchState(ctx context.Context) (catalog.AppState, error)
	SaveState(ctx context.Context, state catalog.AppState) error

	CreateCategory(ctx context.Context, category catalog.Category) (catalog.Category, error)
	UpdateCategory(ctx context.Context, id string, patch catalog.CategoryPatch) (catalog.Category, error)
	DeleteCategory(ctx context.Context, id string) error

	FetchItems(ctx context.Context, query catalog.ItemQuery) ([]catalog.Item, error)
	CreateItem(ctx context.Context, item catalog.Item) (catalog.Item, error)
	UpdateItem(ctx context.Context, id string, patch catalog.ItemPatch) (catalog.Item, error)
	DeleteItem(ctx context.Context, id string) error
	UploadItem(ctx context.Context, item catalog.Item) (catalog.Item, error)

	BatchAddTags(ctx context.Context, itemIDs []string, categoryID string) error
	BatchEdit(ctx context.Context, req catalog.BatchEditRequest) error
	BatchDelete(ctx context.Context, itemIDs []string) error
	BatchRemoveCategories(ctx context.Context, itemIDs, categoryIDs []string) error
	ToggleCategory(ctx context.Context, itemIDs []string, categoryID string) error
	RemoveCategoryFromItem(ctx context.Context, itemID, categoryID string) (catalog.Item, error)

	FetchVersions(ctx context.Context) ([]catalog.Version, error)
	CreateVersion(ctx context.Context, label string, data catalog.AppState) (catalog.Version, error)
	DeleteVersion(ctx context.Context, id string) error

	FetchSettings(ctx context.Context) (catalog.Settings, error)
	UpdateSettings(ctx context.Context, settings catalog.Settings) (catalog.Settings, error)

	Export(ctx context.Context) (catalog.AppState, error)
	Import(ctx context.Context, raw []byte) error
}
