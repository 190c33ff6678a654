package catalog

import (
	"strings"
)

// AncestorIDs returns id followed by its parent chain up to the root.
func AncestorIDs(categories []Category, id string) []string {
	byID := make(map[string]Category, len(categories))
	for _, c := range categories {
		byID[c.ID] = c
	}
	out := []string{id}
	seen := map[string]bool{id: true}
	current := id
	for {
		c, ok := byID[current]
		if !ok || c.ParentID == nil || *c.ParentID == "" {
			return out
		}
		parent := *c.ParentID
		if seen[parent] {
			return out
		}
		seen[parent] = true
		out = append(out, parent)
		current = parent
	}
}

// DescendantIDs returns every category below id, depth first. id itself is excluded.
func DescendantIDs(categories []Category, id string) []string {
	children := map[string][]string{}
	for _, c := range categories {
		if c.ParentID != nil && *c.ParentID != "" {
			children[*c.ParentID] = append(children[*c.ParentID], c.ID)
		}
	}
	var out []string
	seen := map[string]bool{id: true}
	var walk func(string)
	walk = func(parent string) {
		for _, child := range children[parent] {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			walk(child)
		}
	}
	walk(id)
	return out
}

func ExpandCategoryIDs(categories []Category, ids []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, id := range ids {
		for _, ancestor := range AncestorIDs(categories, id) {
			if seen[ancestor] {
				continue
			}
			seen[ancestor] = true
			out = append(out, ancestor)
		}
	}
	return out
}

func ValidateItemName(items []Item, name string, mediaType MediaType, excludeID string) error {
	if strings.TrimSpace(name) == "" {
		return invalid("name", "must not be empty")
	}
	for _, item := range items {
		if excludeID != "" && item.ID == excludeID {
			continue
		}
		if mediaType.Textual() {
			if item.Type.Textual() && item.Content == name {
				return invalid("content", "an item named %q already exists", name)
			}
			continue
		}
		if item.Type == mediaType && item.FileName == name {
			return invalid("fileName", "a file named %q already exists", name)
		}
	}
	return nil
}

func CreateCategory(state AppState, category Category) (AppState, error) {
	if strings.TrimSpace(category.ID) == "" {
		return state, invalid("id", "must not be empty")
	}
	if strings.TrimSpace(category.Name) == "" {
		return state, invalid("name", "must not be empty")
	}
	if _, exists := state.FindCategory(category.ID); exists {
		return state, invalid("id", "category %s already exists", category.ID)
	}
	if category.ParentID != nil && *category.ParentID == "" {
		category.ParentID = nil
	}
	if category.ParentID != nil {
		if _, ok := state.FindCategory(*category.ParentID); !ok {
			return state, invalid("parentId", "unknown parent %s", *category.ParentID)
		}
	}
	next := state.Clone()
	next.Categories = append(next.Categories, category)
	return next, nil
}

func UpdateCategory(state AppState, id string, patch CategoryPatch) (AppState, error) {
	idx := categoryIndex(state, id)
	if idx < 0 {
		return state, ErrNotFound
	}
	next := state.Clone()
	updated := next.Categories[idx]
	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return state, invalid("name", "must not be empty")
		}
		updated.Name = *patch.Name
	}
	switch {
	case patch.DetachParent:
		updated.ParentID = nil
	case patch.ParentID != nil:
		parent := *patch.ParentID
		if parent == id {
			return state, invalid("parentId", "a category cannot be its own parent")
		}
		if _, ok := state.FindCategory(parent); !ok {
			return state, invalid("parentId", "unknown parent %s", parent)
		}
		for _, descendant := range DescendantIDs(state.Categories, id) {
			if descendant == parent {
				return state, invalid("parentId", "moving %s under %s would create a cycle", id, parent)
			}
		}
		updated.ParentID = &parent
	}
	next.Categories[idx] = updated
	return next, nil
}

// DeleteCategory removes id and its descendants. Items left without any
// category are deleted; the rest lose the removed ids.
func DeleteCategory(state AppState, id string) (AppState, error) {
	if categoryIndex(state, id) < 0 {
		return state, ErrNotFound
	}
	removed := map[string]bool{id: true}
	for _, descendant := range DescendantIDs(state.Categories, id) {
		removed[descendant] = true
	}
	next := state.Clone()
	categories := next.Categories[:0]
	for _, c := range next.Categories {
		if !removed[c.ID] {
			categories = append(categories, c)
		}
	}
	next.Categories = categories
	items := next.Items[:0]
	for _, item := range next.Items {
		kept := withoutIDs(item.CategoryIDs, removed)
		if len(kept) == 0 {
			continue
		}
		item.CategoryIDs = kept
		items = append(items, item)
	}
	next.Items = items
	next.SelectedCategoryIDs = withoutIDs(next.SelectedCategoryIDs, removed)
	return next, nil
}

func CreateItem(state AppState, item Item) (AppState, Item, error) {
	if err := validateNewItem(state, item); err != nil {
		return state, Item{}, err
	}
	if err := ValidateItemName(state.Items, item.Name(), item.Type, ""); err != nil {
		return state, Item{}, err
	}
	return insertItem(state, item)
}

// UploadItem stores an encoded file payload. Unlike CreateItem it does not
// reject duplicate file names.
func UploadItem(state AppState, item Item) (AppState, Item, error) {
	if err := validateNewItem(state, item); err != nil {
		return state, Item{}, err
	}
	if item.Type.Textual() {
		return state, Item{}, invalid("type", "uploads must carry a file media type")
	}
	if strings.TrimSpace(item.FileName) == "" {
		return state, Item{}, invalid("fileName", "must not be empty")
	}
	return insertItem(state, item)
}

func UpdateItem(state AppState, id string, patch ItemPatch) (AppState, Item, error) {
	idx := itemIndex(state, id)
	if idx < 0 {
		return state, Item{}, ErrNotFound
	}
	next := state.Clone()
	updated := next.Items[idx]
	if patch.Content != nil {
		updated.Content = *patch.Content
	}
	if patch.Description != nil {
		updated.Description = *patch.Description
	}
	if patch.Type != nil {
		if !patch.Type.Valid() {
			return state, Item{}, invalid("type", "unsupported media type %q", *patch.Type)
		}
		updated.Type = *patch.Type
	}
	if patch.FileName != nil {
		updated.FileName = *patch.FileName
	}
	if patch.Size != nil {
		updated.Size = *patch.Size
	}
	if patch.CategoryIDs != nil {
		if err := validateCategoryRefs(state, patch.CategoryIDs); err != nil {
			return state, Item{}, err
		}
		updated.CategoryIDs = ExpandCategoryIDs(state.Categories, patch.CategoryIDs)
	}
	if err := ValidateItemName(state.Items, updated.Name(), updated.Type, id); err != nil {
		return state, Item{}, err
	}
	next.Items[idx] = updated
	return next, updated, nil
}

func DeleteItem(state AppState, id string) (AppState, error) {
	idx := itemIndex(state, id)
	if idx < 0 {
		return state, ErrNotFound
	}
	next := state.Clone()
	next.Items = append(next.Items[:idx], next.Items[idx+1:]...)
	return next, nil
}

func BatchAddTags(state AppState, itemIDs []string, categoryID string) (AppState, error) {
	if len(itemIDs) == 0 || categoryID == "" {
		return state, invalid("", "itemIds and categoryId are required")
	}
	if _, ok := state.FindCategory(categoryID); !ok {
		return state, invalid("categoryId", "unknown category %s", categoryID)
	}
	add := ExpandCategoryIDs(state.Categories, []string{categoryID})
	selected := idSet(itemIDs)
	next := state.Clone()
	for i, item := range next.Items {
		if selected[item.ID] {
			next.Items[i].CategoryIDs = unionIDs(item.CategoryIDs, add)
		}
	}
	return next, nil
}

func BatchEdit(state AppState, req BatchEditRequest) (AppState, error) {
	if len(req.ItemIDs) == 0 {
		return state, invalid("itemIds", "must not be empty")
	}
	if req.CategoryID != "" {
		if _, ok := state.FindCategory(req.CategoryID); !ok {
			return state, invalid("categoryId", "unknown category %s", req.CategoryID)
		}
	}
	selected := idSet(req.ItemIDs)
	next := state.Clone()
	for i, item := range next.Items {
		if !selected[item.ID] {
			continue
		}
		if strings.TrimSpace(req.Description) != "" {
			item.Description = req.Description
		}
		if req.CategoryID != "" && !item.HasCategory(req.CategoryID) {
			item.CategoryIDs = append(item.CategoryIDs, req.CategoryID)
		}
		next.Items[i] = item
	}
	return next, nil
}

func BatchDelete(state AppState, itemIDs []string) (AppState, error) {
	if len(itemIDs) == 0 {
		return state, invalid("itemIds", "must not be empty")
	}
	selected := idSet(itemIDs)
	next := state.Clone()
	items := next.Items[:0]
	for _, item := range next.Items {
		if !selected[item.ID] {
			items = append(items, item)
		}
	}
	next.Items = items
	return next, nil
}

// BatchRemoveCategories skips items that would be left without a category and
// fails when nothing changed.
func BatchRemoveCategories(state AppState, itemIDs, categoryIDs []string) (AppState, error) {
	if len(itemIDs) == 0 {
		return state, invalid("itemIds", "must not be empty")
	}
	if len(categoryIDs) == 0 {
		return state, invalid("categoryIds", "must not be empty")
	}
	selected := idSet(itemIDs)
	removed := idSet(categoryIDs)
	next := state.Clone()
	modified := 0
	for i, item := range next.Items {
		if !selected[item.ID] {
			continue
		}
		kept := withoutIDs(item.CategoryIDs, removed)
		if len(kept) == 0 || len(kept) == len(item.CategoryIDs) {
			continue
		}
		next.Items[i].CategoryIDs = kept
		modified++
	}
	if modified == 0 {
		return state, invalid("", "no item was modified; the categories are absent or are the last remaining ones")
	}
	return next, nil
}

// ToggleCategory removes categoryID when every selected item carries it and
// adds it otherwise. Removing a parent also removes its descendants; adding a
// leaf also adds its ancestors.
func ToggleCategory(state AppState, itemIDs []string, categoryID string) (AppState, error) {
	if len(itemIDs) == 0 || categoryID == "" {
		return state, invalid("", "itemIds and categoryId are required")
	}
	if _, ok := state.FindCategory(categoryID); !ok {
		return state, invalid("categoryId", "unknown category %s", categoryID)
	}
	selected := idSet(itemIDs)
	allHave := true
	for _, item := range state.Items {
		if selected[item.ID] && !item.HasCategory(categoryID) {
			allHave = false
			break
		}
	}
	descendants := DescendantIDs(state.Categories, categoryID)
	next := state.Clone()
	if allHave {
		removed := map[string]bool{categoryID: true}
		for _, d := range descendants {
			removed[d] = true
		}
		for i, item := range next.Items {
			if !selected[item.ID] {
				continue
			}
			kept := withoutIDs(item.CategoryIDs, removed)
			if len(kept) == 0 {
				return state, invalid("categoryIds", "item %s would be left without a category", item.ID)
			}
			next.Items[i].CategoryIDs = kept
		}
		return next, nil
	}
	add := []string{categoryID}
	if len(descendants) == 0 {
		add = AncestorIDs(state.Categories, categoryID)
	}
	for i, item := range next.Items {
		if selected[item.ID] {
			next.Items[i].CategoryIDs = unionIDs(item.CategoryIDs, add)
		}
	}
	return next, nil
}

func RemoveCategoryFromItem(state AppState, itemID, categoryID string) (AppState, Item, error) {
	idx := itemIndex(state, itemID)
	if idx < 0 {
		return state, Item{}, ErrNotFound
	}
	item := state.Items[idx]
	if !item.HasCategory(categoryID) {
		return state, Item{}, invalid("categoryId", "item does not carry category %s", categoryID)
	}
	kept := withoutIDs(item.CategoryIDs, map[string]bool{categoryID: true})
	if len(kept) == 0 {
		return state, Item{}, invalid("categoryIds", "an item needs at least one category")
	}
	next := state.Clone()
	next.Items[idx].CategoryIDs = kept
	return next, next.Items[idx], nil
}

func SelectCategories(state AppState, categoryIDs []string) (AppState, error) {
	for _, id := range categoryIDs {
		if _, ok := state.FindCategory(id); !ok {
			return state, invalid("selectedCategoryIds", "unknown category %s", id)
		}
	}
	next := state.Clone()
	next.SelectedCategoryIDs = append([]string{}, categoryIDs...)
	return next, nil
}

// FilterItems keeps items matching every selected category branch, then
// applies a case-insensitive search over description, file name and textual content.
func FilterItems(state AppState, query ItemQuery) []Item {
	out := make([]Item, 0, len(state.Items))
	branches := make([]map[string]bool, 0, len(query.CategoryIDs))
	for _, id := range query.CategoryIDs {
		branch := map[string]bool{id: true}
		for _, d := range DescendantIDs(state.Categories, id) {
			branch[d] = true
		}
		branches = append(branches, branch)
	}
	needle := strings.ToLower(strings.TrimSpace(query.Search))
	for _, item := range state.Items {
		if len(branches) > 0 && !matchesAllBranches(item, branches) {
			continue
		}
		if needle != "" && !matchesSearch(item, needle) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func matchesAllBranches(item Item, branches []map[string]bool) bool {
	if len(item.CategoryIDs) == 0 {
		return false
	}
	for _, branch := range branches {
		hit := false
		for _, id := range item.CategoryIDs {
			if branch[id] {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func matchesSearch(item Item, needle string) bool {
	if strings.Contains(strings.ToLower(item.Description), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(item.FileName), needle) {
		return true
	}
	return item.Type.Textual() && strings.Contains(strings.ToLower(item.Content), needle)
}

// CheckInvariants reports the first item without a category, item tagged
// with an unknown category or category with a dangling parent.
func CheckInvariants(state AppState) error {
	known := make(map[string]bool, len(state.Categories))
	for _, c := range state.Categories {
		known[c.ID] = true
	}
	for _, item := range state.Items {
		if len(item.CategoryIDs) == 0 {
			return invalid("categoryIds", "item %s has no category", item.ID)
		}
		for _, id := range item.CategoryIDs {
			if !known[id] {
				return invalid("categoryIds", "item %s references unknown category %s", item.ID, id)
			}
		}
	}
	for _, c := range state.Categories {
		if c.ParentID == nil {
			continue
		}
		if _, ok := state.FindCategory(*c.ParentID); !ok {
			return invalid("parentId", "category %s references unknown parent %s", c.ID, *c.ParentID)
		}
		for _, ancestor := range AncestorIDs(state.Categories, *c.ParentID) {
			if ancestor == c.ID {
				return invalid("parentId", "category %s is part of a cycle", c.ID)
			}
		}
	}
	return nil
}

func validateNewItem(state AppState, item Item) error {
	if strings.TrimSpace(item.ID) == "" {
		return invalid("id", "must not be empty")
	}
	if _, exists := state.FindItem(item.ID); exists {
		return invalid("id", "item %s already exists", item.ID)
	}
	if !item.Type.Valid() {
		return invalid("type", "unsupported media type %q", item.Type)
	}
	return validateCategoryRefs(state, item.CategoryIDs)
}

func validateCategoryRefs(state AppState, ids []string) error {
	if len(ids) == 0 {
		return invalid("categoryIds", "an item needs at least one category")
	}
	for _, id := range ids {
		if _, ok := state.FindCategory(id); !ok {
			return invalid("categoryIds", "unknown category %s", id)
		}
	}
	return nil
}

func insertItem(state AppState, item Item) (AppState, Item, error) {
	item.CategoryIDs = ExpandCategoryIDs(state.Categories, item.CategoryIDs)
	next := state.Clone()
	next.Items = append([]Item{item}, next.Items...)
	return next, item, nil
}

func categoryIndex(state AppState, id string) int {
	for i, c := range state.Categories {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func itemIndex(state AppState, id string) int {
	for i, item := range state.Items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func idSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func withoutIDs(ids []string, removed map[string]bool) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !removed[id] {
			out = append(out, id)
		}
	}
	return out
}

func unionIDs(current, add []string) []string {
	out := append([]string{}, current...)
	seen := idSet(current)
	for _, id := range add {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
