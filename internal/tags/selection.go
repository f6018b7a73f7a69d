package tags

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// PrefStore persists selection flags.
type PrefStore interface {
	GetBool(key string) (value bool, ok bool, err error)
	SetBools(values map[string]bool) error
}

// Item is one selectable option in a List.
type Item struct {
	Tag   *Tag
	TagID int
	Text  string
	on    bool
}

// On reports whether the item is selected.
func (i *Item) On() bool { return i.on }

// Key returns the persistence key of the item.
func (i *Item) Key() string { return i.Tag.Key(i.TagID) }

// List is a flattened selection list over the options of one or more tags.
// A List is not safe for concurrent use.
type List struct {
	items []*Item
	min   int
	max   int
}

// NewList builds a list from every option of every tag in c. Items start with
// their catalog default. A list over a single tag takes that tag's limits.
func NewList(c *Catalog, mode ...Mode) *List {
	l := &List{}
	if c == nil {
		return l
	}
	var tags []*Tag
	for _, t := range c.Tags {
		if len(mode) > 0 && !containsMode(mode, t.Mode) {
			continue
		}
		tags = append(tags, t)
		for _, opt := range t.Options {
			l.items = append(l.items, &Item{Tag: t, TagID: opt.TagID, Text: opt.Value, on: opt.SelectByDefault})
		}
	}
	if len(tags) == 1 {
		l.min = tags[0].MinSelected()
		l.max = tags[0].MaxSelected()
	} else {
		l.min = 0
		l.max = len(l.items)
	}
	return l
}

func containsMode(modes []Mode, m Mode) bool {
	for _, x := range modes {
		if x == m {
			return true
		}
	}
	return false
}

// Items returns the items in list order.
func (l *List) Items() []*Item { return l.items }

// Len returns the number of items.
func (l *List) Len() int { return len(l.items) }

// MinSelection returns the minimum selection count of the list.
func (l *List) MinSelection() int { return l.min }

// MaxSelection returns the maximum selection count of the list.
func (l *List) MaxSelection() int { return l.max }

// Item returns the item with the given option id, or nil.
func (l *List) Item(tagID int) *Item {
	for _, it := range l.items {
		if it.TagID == tagID {
			return it
		}
	}
	return nil
}

// Filter returns a view of the items of tag. Items are shared with l.
func (l *List) Filter(tag *Tag) *List {
	out := &List{}
	if tag == nil {
		return out
	}
	for _, it := range l.items {
		if it.Tag == tag {
			out.items = append(out.items, it)
		}
	}
	out.min = tag.MinSelected()
	out.max = tag.MaxSelected()
	return out
}

// Sublist returns an independent copy of the items of tag.
func (l *List) Sublist(tag *Tag) *List {
	view := l.Filter(tag)
	for i, it := range view.items {
		cp := *it
		view.items[i] = &cp
	}
	return view
}

// Clone returns an independent copy of l. Tags are shared.
func (l *List) Clone() *List {
	out := &List{min: l.min, max: l.max, items: make([]*Item, len(l.items))}
	for i, it := range l.items {
		cp := *it
		out.items[i] = &cp
	}
	return out
}

// RemoveAll drops every item of tag, or every item when tag is nil.
func (l *List) RemoveAll(tag *Tag) {
	if tag == nil {
		l.items = nil
		return
	}
	kept := l.items[:0]
	for _, it := range l.items {
		if it.Tag != tag {
			kept = append(kept, it)
		}
	}
	l.items = kept
}

// ClearSelection turns off every item of tag, or of the whole list when tag is nil.
func (l *List) ClearSelection(tag *Tag) {
	for _, it := range l.items {
		if tag == nil || it.Tag == tag {
			it.on = false
		}
	}
}

// SelectAll turns on every item of tag, or of the whole list when tag is nil.
func (l *List) SelectAll(tag *Tag) {
	for _, it := range l.items {
		if tag == nil || it.Tag == tag {
			it.on = true
		}
	}
}

// SelectedCount counts the selected items of tag, or of the list when tag is nil.
func (l *List) SelectedCount(tag *Tag) int {
	n := 0
	for _, it := range l.items {
		if it.on && (tag == nil || it.Tag == tag) {
			n++
		}
	}
	return n
}

// SelectedItems returns the selected items of tag, or of the list when tag is nil.
func (l *List) SelectedItems(tag *Tag) []*Item {
	var out []*Item
	for _, it := range l.items {
		if it.on && (tag == nil || it.Tag == tag) {
			out = append(out, it)
		}
	}
	return out
}

// IsSingleSelect reports whether exactly one option of tag must be selected.
func (l *List) IsSingleSelect(tag *Tag) bool {
	sub := l.Filter(tag)
	return sub.min == 1 && sub.max == 1
}

// Select turns item on. When the tag is at its maximum the call is rejected,
// except for single-select tags where the selected option is swapped for item.
func (l *List) Select(item *Item) bool {
	if item == nil || item.on {
		return false
	}
	sub := l.Filter(item.Tag)
	if sub.SelectedCount(item.Tag) < sub.max {
		item.on = true
		return true
	}
	if !l.IsSingleSelect(item.Tag) {
		return false
	}
	for _, it := range sub.items {
		if it.on {
			it.on = false
			break
		}
	}
	item.on = true
	return true
}

// Deselect turns item off unless that would leave its tag below the minimum.
func (l *List) Deselect(item *Item) bool {
	if item == nil || !item.on {
		return false
	}
	if l.SelectedCount(item.Tag) <= item.Tag.MinSelected() {
		return false
	}
	item.on = false
	return true
}

// Toggle selects or deselects item.
func (l *List) Toggle(item *Item) bool {
	if item == nil {
		return false
	}
	if item.on {
		return l.Deselect(item)
	}
	return l.Select(item)
}

// AutoSelectSingleItem selects the only option of every given tag that has
// exactly one option.
func (l *List) AutoSelectSingleItem(tags ...*Tag) {
	for _, tag := range tags {
		sub := l.Filter(tag)
		if len(sub.items) == 1 {
			sub.items[0].on = true
		}
	}
}

// Tags returns the distinct tags of the list in order of first appearance.
func (l *List) Tags() []*Tag {
	var out []*Tag
	seen := make(map[*Tag]bool)
	for _, it := range l.items {
		if !seen[it.Tag] {
			seen[it.Tag] = true
			out = append(out, it.Tag)
		}
	}
	return out
}

// HasValidSelections reports whether every given tag, or every tag of the list
// when none are given, has a selection count within its limits.
func (l *List) HasValidSelections(tags ...*Tag) bool {
	if len(tags) == 0 {
		tags = l.Tags()
	}
	for _, tag := range tags {
		sub := l.Filter(tag)
		n := sub.SelectedCount(nil)
		if n < sub.min || n > sub.max {
			return false
		}
	}
	return true
}

// SelectedTagIDs returns the selected option ids joined by commas.
func (l *List) SelectedTagIDs() string {
	var ids []string
	for _, it := range l.items {
		if it.on {
			ids = append(ids, strconv.Itoa(it.TagID))
		}
	}
	return strings.Join(ids, ",")
}

// SaveSelectionState writes the on flag of every item under its key.
func (l *List) SaveSelectionState(store PrefStore) error {
	values := make(map[string]bool, len(l.items))
	for _, it := range l.items {
		values[it.Key()] = it.on
	}
	return store.SetBools(values)
}

// RestoreSelectionState reads back flags saved by SaveSelectionState. Items
// without a saved flag keep their current state.
func (l *List) RestoreSelectionState(store PrefStore) error {
	for _, it := range l.items {
		v, ok, err := store.GetBool(it.Key())
		if err != nil {
			return err
		}
		if ok {
			it.on = v
		}
	}
	return nil
}

// SetSelectionFromQuery applies a query of the form "code=1,2&other=3". Every
// option of a named tag is turned on exactly when its id is listed.
func (l *List) SetSelectionFromQuery(query string) error {
	values, err := url.ParseQuery(query)
	if err != nil {
		return err
	}
	for code, lists := range values {
		selected := make(map[string]bool)
		for _, v := range lists {
			for _, id := range strings.Split(v, ",") {
				selected[strings.TrimSpace(id)] = true
			}
		}
		for _, it := range l.items {
			if it.Tag.Code != code {
				continue
			}
			it.on = selected[strconv.Itoa(it.TagID)]
		}
	}
	return nil
}

// WebJSON renders the catalog of the list with each tag's defaults replaced by
// the current selection.
func (l *List) WebJSON() ([]byte, error) {
	c := &Catalog{Tags: l.Tags()}
	return json.Marshal(c.sections(func(t *Tag) []int {
		ids := []int{}
		for _, it := range l.items {
			if it.Tag == t && it.on {
				ids = append(ids, it.TagID)
			}
		}
		return ids
	}))
}
