package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func NewCategoryID() string {
	return "cat_" + uuid.NewString()
}

func NewItemID() string {
	return "item_" + uuid.NewString()
}

// NewVersionID follows the "<unix millis>_<8 hex>" layout of archived versions.
func NewVersionID(ts time.Time) string {
	return fmt.Sprintf("%d_%s", ts.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// PrepareCategory fills the id and creation time when the caller left them empty.
func PrepareCategory(c Category, now time.Time) Category {
	if strings.TrimSpace(c.ID) == "" {
		c.ID = NewCategoryID()
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = now.UnixMilli()
	}
	return c
}

func PrepareItem(item Item, now time.Time) Item {
	if strings.TrimSpace(item.ID) == "" {
		item.ID = NewItemID()
	}
	if item.CreatedAt == 0 {
		item.CreatedAt = now.UnixMilli()
	}
	if item.Type == "" {
		item.Type = MediaText
	}
	return item
}
