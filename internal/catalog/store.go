package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type StoreOptions struct {
	Backend DocumentBackend
	Logger  *zerolog.Logger
	Now     func() time.Time
}

// Store is the durable system of record. Every write goes through the pure
// rules, is persisted, and only then becomes visible to readers.
type Store struct {
	mu       sync.RWMutex
	backend  DocumentBackend
	log      zerolog.Logger
	now      func() time.Time
	events   *broker
	state    AppState
	versions []Version
	settings Settings
	hashes   map[Document]string
	closed   bool
}

// OpenStore loads the three documents from opts.Backend, falling back to the
// initial state and default settings for documents that were never saved.
func OpenStore(ctx context.Context, opts StoreOptions) (*Store, error) {
	backend := opts.Backend
	if backend == nil {
		backend = NewMemoryBackend()
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Store{
		backend:  backend,
		log:      logger.With().Str("component", "store").Logger(),
		now:      now,
		events:   newBroker(),
		state:    InitialState(),
		versions: []Version{},
		settings: DefaultSettings(),
		hashes:   map[Document]string{},
	}
	for _, doc := range Documents {
		data, err := backend.Load(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", doc.FileName(), err)
		}
		if data == nil {
			continue
		}
		if err := s.applyDocumentLocked(doc, data); err != nil {
			return nil, err
		}
		s.hashes[doc] = contentHash(data)
	}
	s.log.Debug().
		Int("categories", len(s.state.Categories)).
		Int("items", len(s.state.Items)).
		Int("versions", len(s.versions)).
		Msg("store loaded")
	return s, nil
}

// NewMemoryStore returns a store backed by a fresh MemoryBackend.
func NewMemoryStore() *Store {
	s, err := OpenStore(context.Background(), StoreOptions{})
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.events.closeAll()
	if closer, ok := s.backend.(documentBackendCloser); ok {
		return closer.Close()
	}
	return nil
}

// Subscribe delivers change events until cancel is called or the store closes.
func (s *Store) Subscribe(buffer int) (<-chan Event, func()) {
	return s.events.subscribe(buffer)
}

func (s *Store) FetchState(context.Context) (AppState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone(), nil
}

// SaveState overwrites the whole application state.
func (s *Store) SaveState(ctx context.Context, state AppState) error {
	state = state.Clone().normalized()
	if err := CheckInvariants(state); err != nil {
		return err
	}
	return s.mutateState(ctx, "save-state", func(AppState) (AppState, error) {
		return state, nil
	})
}

func (s *Store) CreateCategory(ctx context.Context, category Category) (Category, error) {
	category = PrepareCategory(category, s.now())
	err := s.mutateState(ctx, "create-category", func(current AppState) (AppState, error) {
		return CreateCategory(current, category)
	})
	if err != nil {
		return Category{}, err
	}
	return category, nil
}

func (s *Store) UpdateCategory(ctx context.Context, id string, patch CategoryPatch) (Category, error) {
	var updated Category
	err := s.mutateState(ctx, "update-category", func(current AppState) (AppState, error) {
		next, err := UpdateCategory(current, id, patch)
		if err != nil {
			return current, err
		}
		updated, _ = next.FindCategory(id)
		return next, nil
	})
	return updated, err
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	return s.mutateState(ctx, "delete-category", func(current AppState) (AppState, error) {
		return DeleteCategory(current, id)
	})
}

func (s *Store) FetchItems(_ context.Context, query ItemQuery) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return FilterItems(s.state.Clone(), query), nil
}

func (s *Store) CreateItem(ctx context.Context, item Item) (Item, error) {
	item = PrepareItem(item, s.now())
	var created Item
	err := s.mutateState(ctx, "create-item", func(current AppState) (AppState, error) {
		next, stored, err := CreateItem(current, item)
		created = stored
		return next, err
	})
	return created, err
}

func (s *Store) UploadItem(ctx context.Context, item Item) (Item, error) {
	item = PrepareItem(item, s.now())
	var created Item
	err := s.mutateState(ctx, "upload-item", func(current AppState) (AppState, error) {
		next, stored, err := UploadItem(current, item)
		created = stored
		return next, err
	})
	return created, err
}

func (s *Store) UpdateItem(ctx context.Context, id string, patch ItemPatch) (Item, error) {
	var updated Item
	err := s.mutateState(ctx, "update-item", func(current AppState) (AppState, error) {
		next, stored, err := UpdateItem(current, id, patch)
		updated = stored
		return next, err
	})
	return updated, err
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	return s.mutateState(ctx, "delete-item", func(current AppState) (AppState, error) {
		return DeleteItem(current, id)
	})
}

func (s *Store) BatchAddTags(ctx context.Context, itemIDs []string, categoryID string) error {
	return s.mutateState(ctx, "batch-add-tags", func(current AppState) (AppState, error) {
		return BatchAddTags(current, itemIDs, categoryID)
	})
}

func (s *Store) BatchEdit(ctx context.Context, req BatchEditRequest) error {
	return s.mutateState(ctx, "batch-edit", func(current AppState) (AppState, error) {
		return BatchEdit(current, req)
	})
}

func (s *Store) BatchDelete(ctx context.Context, itemIDs []string) error {
	return s.mutateState(ctx, "batch-delete", func(current AppState) (AppState, error) {
		return BatchDelete(current, itemIDs)
	})
}

func (s *Store) BatchRemoveCategories(ctx context.Context, itemIDs, categoryIDs []string) error {
	return s.mutateState(ctx, "batch-remove-categories", func(current AppState) (AppState, error) {
		return BatchRemoveCategories(current, itemIDs, categoryIDs)
	})
}

func (s *Store) ToggleCategory(ctx context.Context, itemIDs []string, categoryID string) error {
	return s.mutateState(ctx, "toggle-category", func(current AppState) (AppState, error) {
		return ToggleCategory(current, itemIDs, categoryID)
	})
}

func (s *Store) RemoveCategoryFromItem(ctx context.Context, itemID, categoryID string) (Item, error) {
	var updated Item
	err := s.mutateState(ctx, "remove-category-from-item", func(current AppState) (AppState, error) {
		next, stored, err := RemoveCategoryFromItem(current, itemID, categoryID)
		updated = stored
		return next, err
	})
	return updated, err
}

func (s *Store) SelectCategories(ctx context.Context, categoryIDs []string) error {
	return s.mutateState(ctx, "select-categories", func(current AppState) (AppState, error) {
		return SelectCategories(current, categoryIDs)
	})
}

// FetchVersions lists the archive newest first.
func (s *Store) FetchVersions(context.Context) ([]Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneVersions(s.versions), nil
}

// CreateVersion archives data at the head and evicts from the tail down to
// the configured capacity.
func (s *Store) CreateVersion(ctx context.Context, label string, data AppState) (Version, error) {
	if label == "" {
		label = LabelManualSave
	}
	now := s.now()
	snapshot := data.Clone().normalized()
	version := Version{
		ID:        NewVersionID(now),
		Timestamp: now.UnixMilli(),
		Label:     label,
		Data:      snapshot,
		Size:      snapshot.EncodedSize(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Version{}, errStoreClosed
	}
	next := append([]Version{version}, s.versions...)
	next = trimVersions(next, s.settings.MaxVersions)
	if err := s.persistLocked(ctx, DocumentVersions, next); err != nil {
		s.mu.Unlock()
		return Version{}, err
	}
	s.versions = next
	s.mu.Unlock()

	s.log.Info().Str("version", version.ID).Str("label", label).Int("size", version.Size).Msg("version archived")
	s.publishChange(DocumentVersions)
	return cloneVersion(version), nil
}

func (s *Store) DeleteVersion(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errStoreClosed
	}
	idx := -1
	for i, v := range s.versions {
		if v.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	next := make([]Version, 0, len(s.versions)-1)
	next = append(next, s.versions[:idx]...)
	next = append(next, s.versions[idx+1:]...)
	if err := s.persistLocked(ctx, DocumentVersions, next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.versions = next
	s.mu.Unlock()
	s.publishChange(DocumentVersions)
	return nil
}

func (s *Store) FetchSettings(context.Context) (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

// UpdateSettings persists settings and trims the archive when capacity shrank.
func (s *Store) UpdateSettings(ctx context.Context, settings Settings) (Settings, error) {
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Settings{}, errStoreClosed
	}
	// Trim versions before writing settings; a failed write leaves both
	// documents unchanged.
	previous := s.versions
	trimmed := false
	if len(s.versions) > settings.MaxVersions {
		next := trimVersions(cloneVersions(s.versions), settings.MaxVersions)
		if err := s.persistLocked(ctx, DocumentVersions, next); err != nil {
			s.mu.Unlock()
			return Settings{}, err
		}
		s.versions = next
		trimmed = true
	}
	if err := s.persistLocked(ctx, DocumentSettings, settings); err != nil {
		if trimmed {
			if restoreErr := s.persistLocked(ctx, DocumentVersions, previous); restoreErr != nil {
				s.log.Error().Err(restoreErr).Msg("restore versions after failed settings write")
			} else {
				s.versions = previous
				trimmed = false
			}
		}
		s.mu.Unlock()
		if trimmed {
			s.publishChange(DocumentVersions)
		}
		return Settings{}, err
	}
	s.settings = settings
	s.mu.Unlock()

	s.publishChange(DocumentSettings)
	if trimmed {
		s.publishChange(DocumentVersions)
	}
	return settings, nil
}

func (s *Store) Export(ctx context.Context) (AppState, error) {
	return s.FetchState(ctx)
}

// Import replaces the state with a shape-validated payload. The current state
// is untouched when validation fails.
func (s *Store) Import(ctx context.Context, raw []byte) error {
	state, err := DecodeImport(raw)
	if err != nil {
		return err
	}
	return s.mutateState(ctx, "import", func(AppState) (AppState, error) {
		return state, nil
	})
}

// WrittenHash is the content hash of the last bytes this store wrote or read
// for doc.
func (s *Store) WrittenHash(doc Document) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hashes[doc]
}

// ReloadDocument replaces the in-memory copy of doc with data that was changed
// outside this store.
func (s *Store) ReloadDocument(doc Document, data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errStoreClosed
	}
	if err := s.applyDocumentLocked(doc, data); err != nil {
		s.mu.Unlock()
		return err
	}
	s.hashes[doc] = contentHash(data)
	s.mu.Unlock()
	s.log.Info().Str("document", doc.FileName()).Msg("reloaded external change")
	s.events.publish(newEvent(EventDocumentExternal, doc))
	return nil
}

var errStoreClosed = errors.New("store closed")

func (s *Store) publishChange(doc Document) {
	s.events.publish(newEvent(eventTypeFor(doc), doc))
}

func (s *Store) mutateState(ctx context.Context, op string, apply func(AppState) (AppState, error)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errStoreClosed
	}
	next, err := apply(s.state.Clone())
	if err != nil {
		s.mu.Unlock()
		s.log.Debug().Str("op", op).Err(err).Msg("rejected")
		return err
	}
	next = next.normalized()
	if err := s.persistLocked(ctx, DocumentState, next); err != nil {
		s.mu.Unlock()
		s.log.Error().Str("op", op).Err(err).Msg("persist state failed")
		return err
	}
	s.state = next
	s.mu.Unlock()
	s.log.Debug().Str("op", op).Msg("applied")
	s.publishChange(DocumentState)
	return nil
}

func (s *Store) persistLocked(ctx context.Context, doc Document, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	if err := s.backend.Save(ctx, doc, data); err != nil {
		return fmt.Errorf("save %s: %w", doc.FileName(), err)
	}
	s.hashes[doc] = contentHash(data)
	return nil
}

func (s *Store) applyDocumentLocked(doc Document, data []byte) error {
	switch doc {
	case DocumentState:
		var state AppState
		if err := json.Unmarshal(data, &state); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorruptData, doc.FileName(), err)
		}
		state = state.normalized()
		if err := CheckInvariants(state); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorruptData, doc.FileName(), err)
		}
		s.state = state
	case DocumentVersions:
		var versions []Version
		if err := json.Unmarshal(data, &versions); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorruptData, doc.FileName(), err)
		}
		if versions == nil {
			versions = []Version{}
		}
		for i := range versions {
			versions[i].Data = versions[i].Data.normalized()
		}
		s.versions = versions
	case DocumentSettings:
		// Missing fields keep their defaults.
		settings := DefaultSettings()
		if err := json.Unmarshal(data, &settings); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorruptData, doc.FileName(), err)
		}
		if err := settings.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorruptData, doc.FileName(), err)
		}
		s.settings = settings
	default:
		return fmt.Errorf("%w: unknown document %q", ErrInvalidInput, doc)
	}
	return nil
}

// trimVersions keeps the newest max entries of a newest-first slice.
func trimVersions(versions []Version, max int) []Version {
	if max < 1 {
		max = 1
	}
	if len(versions) <= max {
		return versions
	}
	return versions[:max]
}

func cloneVersion(v Version) Version {
	v.Data = v.Data.Clone()
	return v
}

func cloneVersions(versions []Version) []Version {
	out := make([]Version, len(versions))
	for i, v := range versions {
		out[i] = cloneVersion(v)
	}
	return out
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
