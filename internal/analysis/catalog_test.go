package analysis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog()

	require.Len(t, catalog, 9)
	paths := make([]string, len(catalog))
	for i, ep := range catalog {
		paths[i] = ep.Path
		_, ok := knownRoles[ep.Role]
		assert.True(t, ok, "role %q", ep.Role)
	}
	assert.Equal(t, []string{
		"/top-referers", "/top-page-visits", "/check-domains", "/request-status",
		"/404-error-ips", "/429-error-ips", "/burstActivity", "/get-data-exfiltration",
		"/activity-timeline",
	}, paths)
}

func TestParseCatalog(t *testing.T) {
	blob := []byte(`
endpoints:
  - role: request-status
    path: request-status
    title: Traffic
  - path: /custom
`)
	catalog, err := ParseCatalog(blob)

	require.NoError(t, err)
	assert.Equal(t, []Endpoint{
		{Role: RoleRequestStatus, Path: "/request-status", Title: "Traffic"},
		{Role: RoleOther, Path: "/custom", Title: "Dataset 2"},
	}, catalog)
}

func TestParseCatalog_Errors(t *testing.T) {
	tests := map[string]string{
		"empty":        "endpoints: []",
		"missing path": "endpoints:\n  - role: other\n",
		"unknown role": "endpoints:\n  - role: weather\n    path: /w\n",
		"bad yaml":     "endpoints: [",
	}
	for name, blob := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(blob))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	catalog, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Equal(t, DefaultCatalog(), catalog)

	path := filepath.Join(t.TempDir(), "endpoints.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoints:\n  - role: top-referers\n    path: /top-referers\n    title: Referers\n"), 0o600))
	catalog, err = LoadCatalog(path)
	require.NoError(t, err)
	assert.Len(t, catalog, 1)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
