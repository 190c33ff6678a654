package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads documents that another program edited in a JSONFileBackend
// directory. Writes made by the store itself are recognised by content hash
// and ignored.
type Watcher struct {
	store   *Store
	dir     string
	log     zerolog.Logger
	fsw     *fsnotify.Watcher
	byName  map[string]Document
	stopped chan struct{}
}

func NewWatcher(store *Store, backend *JSONFileBackend, logger zerolog.Logger) (*Watcher, error) {
	if store == nil || backend == nil {
		return nil, ErrInvalidInput
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(backend.Dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	byName := make(map[string]Document, len(Documents))
	for _, doc := range Documents {
		byName[doc.FileName()] = doc
	}
	return &Watcher{
		store:   store,
		dir:     backend.Dir,
		log:     logger.With().Str("component", "watcher").Logger(),
		fsw:     fsw,
		byName:  byName,
		stopped: make(chan struct{}),
	}, nil
}

// Run processes filesystem events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.stopped)
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

// Done is closed once Run returns.
func (w *Watcher) Done() <-chan struct{} {
	return w.stopped
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	doc, ok := w.byName[filepath.Base(event.Name)]
	if !ok {
		return
	}
	data, err := os.ReadFile(filepath.Join(w.dir, doc.FileName()))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.log.Warn().Err(err).Str("document", doc.FileName()).Msg("read changed document")
		}
		return
	}
	if contentHash(data) == w.store.WrittenHash(doc) {
		return
	}
	if err := w.store.ReloadDocument(doc, data); err != nil {
		// Partial writes by other editors show up as corrupt data; the next
		// write event will carry the complete document.
		w.log.Warn().Err(err).Str("document", doc.FileName()).Msg("ignored external change")
	}
}
