package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mukhsinh/manajemenresiko-sub005/internal/navigation"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, 8420, cfg.Port)
	assert.Equal(t, "./frontend/dist", cfg.StaticDir)
	assert.Empty(t, cfg.PagesFile)
	assert.Equal(t, 100*time.Millisecond, cfg.NavDebounce)
	assert.Equal(t, 5*time.Second, cfg.ReadyTimeout)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, ":8420", cfg.Addr())
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"PORT":            "9000",
		"NAV_DEBOUNCE":    "0s",
		"READY_TIMEOUT":   "250ms",
		"LOG_FORMAT":      "console",
		"METRICS_ENABLED": "false",
		"PAGES_FILE":      "/etc/pages.yaml",
	})
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Zero(t, cfg.NavDebounce)
	assert.Equal(t, 250*time.Millisecond, cfg.ReadyTimeout)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.False(t, cfg.MetricsEnabled)
	assert.Equal(t, "/etc/pages.yaml", cfg.PagesFile)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"port not a number": {"PORT": "abc"},
		"port out of range": {"PORT": "70000"},
		"negative debounce": {"NAV_DEBOUNCE": "-1s"},
		"zero ready":        {"READY_TIMEOUT": "0s"},
		"zero session ttl":  {"SESSION_TTL": "0s"},
		"bad log format":    {"LOG_FORMAT": "xml"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(vars)
			assert.Error(t, err)
		})
	}
}

func TestLoadPages_Embedded(t *testing.T) {
	pages, err := LoadPages("")
	require.NoError(t, err)
	assert.Equal(t, "dashboard", pages.DefaultPage)

	table, err := pages.Table()
	require.NoError(t, err)
	assert.Len(t, table.Pages(), 6)
	assert.Equal(t, "risk-register", table.PageForPath("/risk-register"))
}

func TestLoadPages_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pages:
  - id: home
    container: home-page
    title: Beranda
  - id: risks
    container: risks-page
    title: Risiko
    icon: alert
`), 0o644))

	pages, err := LoadPages(path)
	require.NoError(t, err)
	assert.Equal(t, "home", pages.DefaultPage, "first page is the default")

	meta := pages.Meta()
	assert.Equal(t, navigation.Meta{Title: "Risiko", Icon: "alert"}, meta["risks"])
}

func TestLoadPages_Errors(t *testing.T) {
	_, err := LoadPages(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = ParsePages([]byte("pages: [unterminated"))
	assert.ErrorIs(t, err, ErrInvalidPages)

	_, err = ParsePages([]byte("pages: []"))
	assert.ErrorIs(t, err, ErrInvalidPages)

	pages, err := ParsePages([]byte("defaultPage: missing\npages:\n  - id: a\n    container: a-page\n"))
	require.NoError(t, err)
	_, err = pages.Table()
	assert.True(t, errors.Is(err, ErrInvalidPages))
}
