package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Mukhsinh/manajemenresiko-sub005/internal/navigation"
)

// ErrInvalidPages is returned when a page table cannot be used.
var ErrInvalidPages = errors.New("invalid page table")

//go:embed default_pages.yaml
var defaultPages []byte

// Pages is the on-disk page table.
type Pages struct {
	DefaultPage string                  `yaml:"defaultPage"`
	Pages       []navigation.PageHandle `yaml:"pages"`
}

// LoadPages reads the page table at path, or the built-in table when path
// is empty.
func LoadPages(path string) (*Pages, error) {
	if path == "" {
		return ParsePages(defaultPages)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pages file: %w", err)
	}
	return ParsePages(data)
}

// ParsePages decodes and validates a YAML page table.
func ParsePages(data []byte) (*Pages, error) {
	var p Pages
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPages, err)
	}
	if len(p.Pages) == 0 {
		return nil, fmt.Errorf("%w: at least one page must be configured", ErrInvalidPages)
	}
	if p.DefaultPage == "" {
		p.DefaultPage = p.Pages[0].ID
	}
	return &p, nil
}

// Table builds the navigation table.
func (p *Pages) Table() (*navigation.Table, error) {
	table, err := navigation.NewTable(p.Pages, p.DefaultPage)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPages, err)
	}
	return table, nil
}

// Meta returns the menu presentation of every page, keyed by id.
func (p *Pages) Meta() map[string]navigation.Meta {
	meta := make(map[string]navigation.Meta, len(p.Pages))
	for _, page := range p.Pages {
		meta[page.ID] = navigation.Meta{Title: page.Title, Icon: page.Icon}
	}
	return meta
}
