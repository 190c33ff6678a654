package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentworkforce/nexusvault/internal/catalog"
	"github.com/agentworkforce/nexusvault/internal/syncengine"
)

func sessionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Edit the catalog interactively through the sync engine",
		Long: "Connect to a running server and drive the sync engine line by line: optimistic mutations with rollback, " +
			"undo, manual and automatic version saves, read-only previews and restores. Type 'help' for commands.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			logger := a.log.Logger
			remote := a.client()
			engine, err := syncengine.New(syncengine.Options{Remote: remote, Logger: &logger})
			if err != nil {
				return err
			}
			if err := engine.Start(ctx); err != nil {
				return err
			}
			defer engine.Close()

			s := &sessionRunner{engine: engine, out: a.out, log: logger}
			if events, err := remote.Subscribe(ctx); err != nil {
				logger.Warn().Err(err).Msg("change feed unavailable; use 'refresh' to pick up external edits")
			} else {
				go s.follow(ctx, events)
			}
			s.printf("connected to %s (%d items, %d versions)\n", remote.BaseURL(), len(engine.State().Items), len(engine.Versions()))
			return s.run(ctx, a.in)
		},
	}
}

type sessionRunner struct {
	engine *syncengine.Engine
	log    zerolog.Logger

	mu  sync.Mutex
	out io.Writer
}

func (s *sessionRunner) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *sessionRunner) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	for scanner.Scan() {
		quit, err := s.exec(ctx, scanner.Text())
		if err != nil {
			s.printf("error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
	return scanner.Err()
}

// follow refreshes the live state when the server reports a state change.
func (s *sessionRunner) follow(ctx context.Context, events <-chan catalog.Event) {
	for event := range events {
		if event.Document != catalog.DocumentState {
			continue
		}
		if _, err := s.engine.Refresh(ctx); err != nil {
			s.log.Warn().Err(err).Str("event", event.Type).Msg("refresh failed")
			continue
		}
		if event.Type == catalog.EventDocumentExternal {
			s.printf("state reloaded after an external edit\n")
		}
	}
}

const sessionHelp = `commands:
  state | items [categoryIds|-] [search...] | refresh
  mkcat <name> [parentId] | rencat <id> <name> | mvcat <id> <parentId|-> | rmcat <id>
  add <categoryIds> <text or url...> | upload <categoryIds> <path>
  describe <itemId> <description...> | rm <itemId> | uncat <itemId> <categoryId>
  tag <categoryId> <itemIds> | toggle <categoryId> <itemIds> | untag <itemIds> <categoryIds>
  batch-edit <itemIds> <description...> | batch-rm <itemIds> | select <categoryIds|->
  import <file> | undo | save [label...]
  versions | preview <id> | exit-preview | restore <id> | delete-version <id>
  settings [interval max]
  quit
`

func (s *sessionRunner) exec(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := fields[0], fields[1:]
	rest := func(from int) string {
		if len(args) <= from {
			return ""
		}
		return strings.Join(args[from:], " ")
	}

	switch cmd {
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		s.printf("%s", sessionHelp)
		return false, nil
	case "state":
		s.printState()
		return false, nil
	case "refresh":
		_, err := s.engine.Refresh(ctx)
		if err == nil {
			s.printState()
		}
		return false, err
	case "items":
		query := catalog.ItemQuery{Search: rest(1)}
		if len(args) > 0 && args[0] != "-" {
			query.CategoryIDs = splitIDs(args[0])
		}
		items, err := s.engine.Items(ctx, query)
		if err != nil {
			return false, err
		}
		s.printItems(items)
		return false, nil
	case "undo":
		_, err := s.engine.Undo(ctx)
		if err == nil {
			s.printf("undone (%d left)\n", s.engine.UndoDepth())
		}
		return false, err
	case "save":
		version, err := s.engine.SaveVersion(ctx, rest(0))
		if err == nil {
			s.printf("saved %s %q\n", version.ID, version.Label)
		}
		return false, err
	case "versions":
		versions, err := s.engine.ReloadVersions(ctx)
		if err != nil {
			return false, err
		}
		for _, v := range versions {
			s.printf("%s  %-12s %s  %d items\n", v.ID, v.Label, time.UnixMilli(v.Timestamp).Format(time.RFC3339), len(v.Data.Items))
		}
		return false, nil
	case "preview":
		if err := need(args, 1, "preview <id>"); err != nil {
			return false, err
		}
		view, err := s.engine.EnterPreview(args[0])
		if err == nil {
			s.printf("previewing %s (read-only): %d items\n", args[0], len(view.Items))
		}
		return false, err
	case "exit-preview":
		_, err := s.engine.ExitPreview(ctx)
		if err == nil {
			s.printState()
		}
		return false, err
	case "restore":
		if err := need(args, 1, "restore <id>"); err != nil {
			return false, err
		}
		_, err := s.engine.Restore(ctx, args[0])
		if err == nil {
			s.printf("restored %s\n", args[0])
		}
		return false, err
	case "delete-version":
		if err := need(args, 1, "delete-version <id>"); err != nil {
			return false, err
		}
		return false, s.engine.DeleteVersion(ctx, args[0])
	case "settings":
		return false, s.settings(ctx, args)
	}

	m, err := s.mutation(cmd, args, rest)
	if err != nil {
		return false, err
	}
	if _, err := s.engine.Apply(ctx, m); err != nil {
		return false, err
	}
	s.printf("ok %s\n", m.Name())
	return false, nil
}

func (s *sessionRunner) mutation(cmd string, args []string, rest func(int) string) (syncengine.Mutation, error) {
	switch cmd {
	case "mkcat":
		if err := need(args, 1, "mkcat <name> [parentId]"); err != nil {
			return nil, err
		}
		category := catalog.Category{Name: args[0]}
		if len(args) > 1 {
			category.ParentID = &args[1]
		}
		return syncengine.CreateCategory{Category: category}, nil
	case "rencat":
		if err := need(args, 2, "rencat <id> <name>"); err != nil {
			return nil, err
		}
		name := rest(1)
		return syncengine.UpdateCategory{ID: args[0], Patch: catalog.CategoryPatch{Name: &name}}, nil
	case "mvcat":
		if err := need(args, 2, "mvcat <id> <parentId|->"); err != nil {
			return nil, err
		}
		patch := catalog.CategoryPatch{DetachParent: args[1] == "-"}
		if !patch.DetachParent {
			patch.ParentID = &args[1]
		}
		return syncengine.UpdateCategory{ID: args[0], Patch: patch}, nil
	case "rmcat":
		if err := need(args, 1, "rmcat <id>"); err != nil {
			return nil, err
		}
		return syncengine.DeleteCategory{ID: args[0]}, nil
	case "add":
		if err := need(args, 2, "add <categoryIds> <text or url...>"); err != nil {
			return nil, err
		}
		content := rest(1)
		mediaType := catalog.MediaText
		if strings.HasPrefix(content, "http://") || strings.HasPrefix(content, "https://") {
			mediaType = catalog.MediaURL
		}
		return syncengine.CreateItem{Item: catalog.Item{Content: content, Type: mediaType, CategoryIDs: splitIDs(args[0])}}, nil
	case "upload":
		if err := need(args, 2, "upload <categoryIds> <path>"); err != nil {
			return nil, err
		}
		item, err := readUpload(rest(1))
		if err != nil {
			return nil, err
		}
		item.CategoryIDs = splitIDs(args[0])
		return syncengine.UploadItem{Item: item}, nil
	case "describe":
		if err := need(args, 2, "describe <itemId> <description...>"); err != nil {
			return nil, err
		}
		description := rest(1)
		return syncengine.UpdateItem{ID: args[0], Patch: catalog.ItemPatch{Description: &description}}, nil
	case "rm":
		if err := need(args, 1, "rm <itemId>"); err != nil {
			return nil, err
		}
		return syncengine.DeleteItem{ID: args[0]}, nil
	case "uncat":
		if err := need(args, 2, "uncat <itemId> <categoryId>"); err != nil {
			return nil, err
		}
		return syncengine.RemoveCategoryFromItem{ItemID: args[0], CategoryID: args[1]}, nil
	case "tag":
		if err := need(args, 2, "tag <categoryId> <itemIds>"); err != nil {
			return nil, err
		}
		return syncengine.BatchAddTags{CategoryID: args[0], ItemIDs: splitIDs(args[1])}, nil
	case "toggle":
		if err := need(args, 2, "toggle <categoryId> <itemIds>"); err != nil {
			return nil, err
		}
		return syncengine.ToggleCategory{CategoryID: args[0], ItemIDs: splitIDs(args[1])}, nil
	case "untag":
		if err := need(args, 2, "untag <itemIds> <categoryIds>"); err != nil {
			return nil, err
		}
		return syncengine.BatchRemoveCategories{ItemIDs: splitIDs(args[0]), CategoryIDs: splitIDs(args[1])}, nil
	case "batch-edit":
		if err := need(args, 2, "batch-edit <itemIds> <description...>"); err != nil {
			return nil, err
		}
		return syncengine.BatchEdit{Request: catalog.BatchEditRequest{ItemIDs: splitIDs(args[0]), Description: rest(1)}}, nil
	case "batch-rm":
		if err := need(args, 1, "batch-rm <itemIds>"); err != nil {
			return nil, err
		}
		return syncengine.BatchDelete{ItemIDs: splitIDs(args[0])}, nil
	case "select":
		ids := []string{}
		if len(args) > 0 && args[0] != "-" {
			ids = splitIDs(args[0])
		}
		return syncengine.SelectCategories{CategoryIDs: ids}, nil
	case "import":
		if err := need(args, 1, "import <file>"); err != nil {
			return nil, err
		}
		raw, err := os.ReadFile(rest(0))
		if err != nil {
			return nil, err
		}
		return syncengine.ImportState{Raw: raw}, nil
	}
	return nil, fmt.Errorf("unknown command %q (try 'help')", cmd)
}

func (s *sessionRunner) settings(ctx context.Context, args []string) error {
	if len(args) == 0 {
		settings := s.engine.Settings()
		s.printf("autosave every %d min (armed: %t), max versions %d\n", settings.AutoSaveInterval, s.engine.AutoSaveArmed(), settings.MaxVersions)
		return nil
	}
	if err := need(args, 2, "settings <interval> <max>"); err != nil {
		return err
	}
	interval, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("interval: %w", err)
	}
	maxVersions, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("max: %w", err)
	}
	saved, err := s.engine.UpdateSettings(ctx, catalog.Settings{AutoSaveInterval: interval, MaxVersions: maxVersions})
	if err != nil {
		return err
	}
	s.printf("autosave every %d min, max versions %d\n", saved.AutoSaveInterval, saved.MaxVersions)
	return nil
}

func (s *sessionRunner) printState() {
	state := s.engine.View()
	mode := "live"
	if version, ok := s.engine.Previewing(); ok {
		mode = "preview " + version.ID
	}
	dirty := ""
	if s.engine.IsDirty() {
		dirty = ", unsaved changes"
	}
	s.printf("[%s%s] %d categories, %d items, undo %d\n", mode, dirty, len(state.Categories), len(state.Items), s.engine.UndoDepth())
	for _, c := range state.Categories {
		parent := "-"
		if c.ParentID != nil {
			parent = *c.ParentID
		}
		s.printf("  %s  %s (parent %s)\n", c.ID, c.Name, parent)
	}
}

func (s *sessionRunner) printItems(items []catalog.Item) {
	if len(items) == 0 {
		s.printf("no items\n")
		return
	}
	for _, item := range items {
		s.printf("  %s  [%s] %s  %s\n", item.ID, item.Type, truncate(item.Name(), 48), strings.Join(item.CategoryIDs, ","))
	}
}

// readUpload encodes a local file as a data URL item.
func readUpload(path string) (catalog.Item, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return catalog.Item{}, err
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return catalog.Item{
		Content:  "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(raw),
		Type:     mediaTypeFor(contentType),
		FileName: filepath.Base(path),
		Size:     int64(len(raw)),
	}, nil
}

func mediaTypeFor(contentType string) catalog.MediaType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return catalog.MediaImage
	case strings.HasPrefix(contentType, "video/"):
		return catalog.MediaVideo
	case strings.HasPrefix(contentType, "audio/"):
		return catalog.MediaAudio
	default:
		return catalog.MediaDocument
	}
}

func splitIDs(raw string) []string {
	var out []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func need(args []string, n int, usage string) error {
	if len(args) < n {
		return errors.New("usage: " + usage)
	}
	return nil
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
