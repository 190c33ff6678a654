package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrCorruptData    = errors.New("corrupt data")
	ErrNotImplemented = errors.New("not implemented")
	ErrLocked         = errors.New("data directory locked by another process")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type MediaType string

const (
	MediaText     MediaType = "text"
	MediaURL      MediaType = "url"
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaDocument MediaType = "document"
)

func (m MediaType) Valid() bool {
	switch m {
	case MediaText, MediaURL, MediaImage, MediaVideo, MediaAudio, MediaDocument:
		return true
	}
	return false
}

// Textual reports whether the item is named by its content rather than its file name.
func (m MediaType) Textual() bool {
	return m == MediaText || m == MediaURL
}

type Category struct {
	ID        string  `json:"id" yaml:"id"`
	ParentID  *string `json:"parentId" yaml:"parentId"`
	Name      string  `json:"name" yaml:"name"`
	CreatedAt int64   `json:"createdAt" yaml:"createdAt"`
}

type Item struct {
	ID          string    `json:"id" yaml:"id"`
	Content     string    `json:"content" yaml:"content"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Type        MediaType `json:"type" yaml:"type"`
	CategoryIDs []string  `json:"categoryIds" yaml:"categoryIds"`
	CreatedAt   int64     `json:"createdAt" yaml:"createdAt"`
	FileName    string    `json:"fileName,omitempty" yaml:"fileName,omitempty"`
	Size        int64     `json:"size,omitempty" yaml:"size,omitempty"`
}

// Name is the identity used for duplicate detection.
func (i Item) Name() string {
	if i.Type.Textual() {
		return i.Content
	}
	return i.FileName
}

func (i Item) HasCategory(categoryID string) bool {
	for _, id := range i.CategoryIDs {
		if id == categoryID {
			return true
		}
	}
	return false
}

type AppState struct {
	Categories          []Category `json:"categories" yaml:"categories"`
	Items               []Item     `json:"items" yaml:"items"`
	SelectedCategoryIDs []string   `json:"selectedCategoryIds" yaml:"selectedCategoryIds"`
}

// Clone returns a copy that shares no memory with s.
func (s AppState) Clone() AppState {
	out := AppState{
		Categories:          make([]Category, len(s.Categories)),
		Items:               make([]Item, len(s.Items)),
		SelectedCategoryIDs: append([]string{}, s.SelectedCategoryIDs...),
	}
	for i, c := range s.Categories {
		if c.ParentID != nil {
			parent := *c.ParentID
			c.ParentID = &parent
		}
		out.Categories[i] = c
	}
	for i, item := range s.Items {
		item.CategoryIDs = append([]string{}, item.CategoryIDs...)
		out.Items[i] = item
	}
	return out
}

func (s AppState) normalized() AppState {
	if s.Categories == nil {
		s.Categories = []Category{}
	}
	if s.Items == nil {
		s.Items = []Item{}
	}
	if s.SelectedCategoryIDs == nil {
		s.SelectedCategoryIDs = []string{}
	}
	for i := range s.Items {
		if s.Items[i].CategoryIDs == nil {
			s.Items[i].CategoryIDs = []string{}
		}
	}
	return s
}

func (s AppState) FindCategory(id string) (Category, bool) {
	for _, c := range s.Categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

func (s AppState) FindItem(id string) (Item, bool) {
	for _, item := range s.Items {
		if item.ID == id {
			return item, true
		}
	}
	return Item{}, false
}

// EncodedSize is the UTF-8 byte length of the JSON encoding of s.
func (s AppState) EncodedSize() int {
	data, err := json.Marshal(s.normalized())
	if err != nil {
		return 0
	}
	return len(data)
}

type Version struct {
	ID        string   `json:"id" yaml:"id"`
	Timestamp int64    `json:"timestamp" yaml:"timestamp"`
	Label     string   `json:"label" yaml:"label"`
	Data      AppState `json:"data" yaml:"data"`
	Size      int      `json:"size" yaml:"size"`
}

const (
	LabelAutoSave   = "Auto-save"
	LabelManualSave = "Manual Save"
)

type Settings struct {
	AutoSaveInterval int `json:"autoSaveInterval" yaml:"autoSaveInterval"`
	MaxVersions      int `json:"maxVersions" yaml:"maxVersions"`
}

func DefaultSettings() Settings {
	return Settings{AutoSaveInterval: 5, MaxVersions: 20}
}

func (s Settings) Validate() error {
	if s.AutoSaveInterval < 0 {
		return invalid("autoSaveInterval", "must be >= 0")
	}
	if s.MaxVersions < 1 {
		return invalid("maxVersions", "must be >= 1")
	}
	return nil
}

func InitialState() AppState {
	return AppState{
		Categories: []Category{
			{ID: "root_1", Name: "My Collection"},
			{ID: "root_2", Name: "Work Files"},
		},
		Items:               []Item{},
		SelectedCategoryIDs: []string{},
	}
}

type CategoryPatch struct {
	Name     *string `json:"name,omitempty"`
	ParentID *string `json:"parentId,omitempty"`
	// DetachParent moves the category to the root.
	DetachParent bool `json:"detachParent,omitempty"`
}

type ItemPatch struct {
	Content     *string    `json:"content,omitempty"`
	Description *string    `json:"description,omitempty"`
	Type        *MediaType `json:"type,omitempty"`
	CategoryIDs []string   `json:"categoryIds,omitempty"`
	FileName    *string    `json:"fileName,omitempty"`
	Size        *int64     `json:"size,omitempty"`
}

type ItemQuery struct {
	CategoryIDs []string
	Search      string
}

type BatchEditRequest struct {
	ItemIDs     []string `json:"itemIds"`
	Description string   `json:"description,omitempty"`
	CategoryID  string   `json:"categoryId,omitempty"`
}
