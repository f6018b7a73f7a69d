// Package tags implements the tag catalog returned by the server and the
// selection list derived from it.
package tags

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/fentz26/rwclient/internal/models"
)

// Mode is the part of the application a tag belongs to.
type Mode string

const (
	ModeListen Mode = "listen"
	ModeSpeak  Mode = "speak"
)

// Modes lists the catalog sections in serialization order.
var Modes = []Mode{ModeListen, ModeSpeak}

// SelectionType controls how many options of a tag can be selected.
type SelectionType string

const (
	SelectSingle          SelectionType = "single"
	SelectMulti           SelectionType = "multi"
	SelectMultiAtLeastOne SelectionType = "multi_at_least_one"
)

var (
	// ErrInvalidCatalog is returned for payloads that are not a tag catalog.
	ErrInvalidCatalog = errors.New("invalid tag catalog")
)

// Option is one selectable answer of a tag.
type Option struct {
	TagID           int    `json:"tag_id"`
	Order           int    `json:"order"`
	Data            string `json:"data,omitempty"`
	Value           string `json:"value"`
	SelectByDefault bool   `json:"-"`
}

// Tag is a categorical filter with an ordered list of options.
type Tag struct {
	Mode      Mode          `json:"-"`
	Code      string        `json:"code"`
	Name      string        `json:"name"`
	Order     int           `json:"order"`
	Selection SelectionType `json:"select"`
	Defaults  []int         `json:"defaults"`
	Options   []Option      `json:"options"`
}

// MinSelected returns the minimum number of options that must be selected.
func (t *Tag) MinSelected() int {
	switch t.Selection {
	case SelectSingle, SelectMultiAtLeastOne:
		return 1
	default:
		return 0
	}
}

// MaxSelected returns the maximum number of options that can be selected.
func (t *Tag) MaxSelected() int {
	if t.Selection == SelectSingle {
		return 1
	}
	return len(t.Options)
}

// Key returns the persistence key of one option of this tag.
func (t *Tag) Key(tagID int) string {
	return fmt.Sprintf("%s_%s_%d", t.Mode, t.Code, tagID)
}

func (t *Tag) isDefault(tagID int) bool {
	for _, id := range t.Defaults {
		if id == tagID {
			return true
		}
	}
	return false
}

// Catalog is the full set of listen and speak tags for a project.
type Catalog struct {
	Tags       []*Tag
	DataSource models.DataSource
	// Skipped lists option ids dropped by Parse because an earlier option
	// already used them.
	Skipped []int
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{DataSource: models.SourceDefaults}
}

// Parse decodes a catalog payload of the form {"listen":[...],"speak":[...]}.
// An option whose tag_id was already seen is dropped and listed in Skipped.
func Parse(data []byte, source models.DataSource) (*Catalog, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	c := &Catalog{DataSource: source}
	seen := make(map[int]bool)
	for _, mode := range Modes {
		raw, ok := root[string(mode)]
		if !ok {
			continue
		}
		var list []*Tag
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, mode, err)
		}
		for _, t := range list {
			if t == nil {
				continue
			}
			t.Mode = mode
			sort.SliceStable(t.Options, func(i, j int) bool { return t.Options[i].Order < t.Options[j].Order })
			opts := t.Options[:0]
			for _, o := range t.Options {
				if seen[o.TagID] {
					c.Skipped = append(c.Skipped, o.TagID)
					continue
				}
				seen[o.TagID] = true
				o.SelectByDefault = t.isDefault(o.TagID)
				opts = append(opts, o)
			}
			t.Options = opts
			c.Tags = append(c.Tags, t)
		}
	}
	return c, nil
}

// ToJSON encodes the catalog in the same shape Parse accepts.
func (c *Catalog) ToJSON() ([]byte, error) {
	return json.Marshal(c.sections(nil))
}

// sections groups tags per mode. override, when set, replaces tag defaults.
func (c *Catalog) sections(override func(*Tag) []int) map[string][]Tag {
	out := make(map[string][]Tag, len(Modes))
	for _, mode := range Modes {
		out[string(mode)] = []Tag{}
	}
	for _, t := range c.Tags {
		cp := *t
		if cp.Defaults == nil {
			cp.Defaults = []int{}
		}
		if override != nil {
			cp.Defaults = override(t)
		}
		out[string(t.Mode)] = append(out[string(t.Mode)], cp)
	}
	return out
}

// Filter returns the tags of one mode, in catalog order.
func (c *Catalog) Filter(mode Mode) []*Tag {
	var out []*Tag
	for _, t := range c.Tags {
		if t.Mode == mode {
			out = append(out, t)
		}
	}
	return out
}

// Find returns the tag with the given code and mode, or nil.
func (c *Catalog) Find(code string, mode Mode) *Tag {
	for _, t := range c.Tags {
		if t.Code == code && t.Mode == mode {
			return t
		}
	}
	return nil
}

// FindByOrder returns the tag of a mode with the given order index, or nil.
func (c *Catalog) FindByOrder(mode Mode, order int) *Tag {
	for _, t := range c.Tags {
		if t.Mode == mode && t.Order == order {
			return t
		}
	}
	return nil
}

// SortByOrder sorts tags by their order index, keeping catalog order on ties.
func (c *Catalog) SortByOrder() {
	sort.SliceStable(c.Tags, func(i, j int) bool { return c.Tags[i].Order < c.Tags[j].Order })
}

// Len returns the number of tags.
func (c *Catalog) Len() int {
	return len(c.Tags)
}
