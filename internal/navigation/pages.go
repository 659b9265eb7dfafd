package navigation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrUnknownPage is returned when a page id is not in the table.
	ErrUnknownPage = errors.New("unknown page")

	// ErrDuplicatePage is returned when the table repeats an id or a path.
	ErrDuplicatePage = errors.New("duplicate page")
)

// PageHandle is one row of the static page table.
type PageHandle struct {
	ID        string `yaml:"id" json:"id"`
	Path      string `yaml:"path" json:"path"`
	Container string `yaml:"container" json:"container"`
	Module    string `yaml:"module,omitempty" json:"module,omitempty"`
	Title     string `yaml:"title" json:"title"`
	Icon      string `yaml:"icon,omitempty" json:"icon,omitempty"`
}

// Meta is the menu presentation of a page.
type Meta struct {
	Title string `yaml:"title" json:"title"`
	Icon  string `yaml:"icon,omitempty" json:"icon,omitempty"`
}

// Table maps page ids to handles and locations to page ids. The set of
// pages is fixed at construction; only titles and icons can change.
type Table struct {
	mu          sync.RWMutex
	pages       map[string]PageHandle
	order       []string
	byPath      map[string]string
	defaultPage string
}

// NewTable validates pages and builds a table. defaultPage must be one of
// the pages and must have a container.
func NewTable(pages []PageHandle, defaultPage string) (*Table, error) {
	t := &Table{
		pages:       make(map[string]PageHandle, len(pages)),
		byPath:      make(map[string]string, len(pages)),
		defaultPage: defaultPage,
	}

	for _, p := range pages {
		if p.ID == "" {
			return nil, fmt.Errorf("page without id")
		}
		if _, exists := t.pages[p.ID]; exists {
			return nil, fmt.Errorf("%w: id %q", ErrDuplicatePage, p.ID)
		}
		if p.Path == "" {
			p.Path = "/" + p.ID
		}
		p.Path = NormalizePath(p.Path)
		if other, exists := t.byPath[p.Path]; exists {
			return nil, fmt.Errorf("%w: path %q used by %q and %q", ErrDuplicatePage, p.Path, other, p.ID)
		}
		t.pages[p.ID] = p
		t.byPath[p.Path] = p.ID
		t.order = append(t.order, p.ID)
	}

	def, ok := t.pages[defaultPage]
	if !ok {
		return nil, fmt.Errorf("%w: default page %q", ErrUnknownPage, defaultPage)
	}
	if def.Container == "" {
		return nil, fmt.Errorf("default page %q has no container", defaultPage)
	}
	return t, nil
}

// Lookup returns the handle for id.
func (t *Table) Lookup(id string) (PageHandle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.pages[id]
	return p, ok
}

// Default returns the fallback page.
func (t *Table) Default() PageHandle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pages[t.defaultPage]
}

// Pages returns every handle in table order.
func (t *Table) Pages() []PageHandle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PageHandle, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.pages[id])
	}
	return out
}

// PageForPath maps a location to a page id, falling back to the default page.
func (t *Table) PageForPath(location string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id, ok := t.byPath[NormalizePath(location)]; ok {
		return id
	}
	return t.defaultPage
}

// UpdateMeta replaces titles and icons of known pages and returns how many
// pages changed. Unknown ids are ignored.
func (t *Table) UpdateMeta(meta map[string]Meta) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := 0
	for id, m := range meta {
		p, ok := t.pages[id]
		if !ok {
			continue
		}
		if p.Title == m.Title && p.Icon == m.Icon {
			continue
		}
		p.Title = m.Title
		p.Icon = m.Icon
		t.pages[id] = p
		changed++
	}
	return changed
}

// NormalizePath reduces a location to the form used as a table key:
// hash-routing prefixes, query strings and trailing slashes are removed.
func NormalizePath(location string) string {
	p := strings.TrimSpace(location)
	p = strings.TrimPrefix(p, "#")
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}
