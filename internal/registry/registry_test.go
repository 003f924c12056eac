package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"topmed", "topmed"},
		{"TOPMed", "topmed"},
		{"Topmed-R3", "topmedr3"},
		{"topmed_r3", "topmedr3"},
		{" TOPMED.R3 ", "topmedr3"},
		{"1000 Genomes Phase 3", "1000genomesphase3"},
		{"", ""},
		{"-_. \t", ""},
	}

	for _, tt := range tests {
		got := Normalize(tt.input)
		assert.Equal(t, tt.want, got, "Normalize(%q)", tt.input)
		assert.Equal(t, got, Normalize(got), "Normalize should be idempotent for %q", tt.input)
	}
}

// writeRegistryFile drops raw YAML where the registry expects its file.
func writeRegistryFile(t *testing.T, dataDir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, serversFileName), []byte(content), 0o644))
}

const goodRegistry = `
servers:
  topmed:
    url: https://imputation.biodatacatalyst.nhlbi.nih.gov
    aliases: [tm, biodatacatalyst]
    last-updated: "2026-08-01T00:00:00Z"
    refpanels:
      topmed-r3:
        aliases: [legacy]
        populations:
          all:
            display-name: ALL
          "off":
            display-name: Skip
`

func TestLoadAndLookup(t *testing.T) {
	dir := t.TempDir()
	writeRegistryFile(t, dir, goodRegistry)
	reg := NewRegistry(dir, nil)

	server, err := reg.GetServer("topmed")
	require.NoError(t, err)
	assert.Equal(t, "https://imputation.biodatacatalyst.nhlbi.nih.gov", server.URL)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), server.LastUpdated.UTC())

	// Aliases and spelling variants resolve to the same entry.
	for _, name := range []string{"tm", "TOPMed", "top-med", "BioDataCatalyst"} {
		got, err := reg.GetServer(name)
		require.NoError(t, err, "lookup of %q", name)
		assert.Same(t, server, got, "lookup of %q", name)
	}

	panel, err := server.GetRefpanel("TOPMed R3")
	require.NoError(t, err)
	byAlias, err := server.GetRefpanel("legacy")
	require.NoError(t, err)
	assert.Same(t, panel, byAlias)

	pop, err := panel.GetPopulation("ALL")
	require.NoError(t, err)
	assert.Equal(t, "ALL", pop.DisplayName)

	_, err = panel.GetPopulation("afr")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "population not recognized")
	assert.Contains(t, err.Error(), "accepted values")
}

func TestGetServerUnknown(t *testing.T) {
	dir := t.TempDir()
	writeRegistryFile(t, dir, goodRegistry)
	reg := NewRegistry(dir, nil)

	_, err := reg.GetServer("imputeme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `server not recognized: "imputeme"`)
	assert.Contains(t, err.Error(), "available values")
}

func TestLoadSeedsDefaults(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir, nil)

	servers, err := reg.GetAllServers()
	require.NoError(t, err)
	assert.Len(t, servers, 2)

	topmed, err := reg.GetServer("topmed")
	require.NoError(t, err)
	assert.Equal(t, "https://imputation.biodatacatalyst.nhlbi.nih.gov", topmed.URL)
	assert.True(t, topmed.LastUpdated.Unix() == 0, "default servers should start stale")

	michigan, err := reg.GetServer("michigan")
	require.NoError(t, err)
	assert.Equal(t, "https://imputationserver.sph.umich.edu", michigan.URL)

	// The seeded registry is persisted immediately.
	_, err = os.Stat(filepath.Join(dir, serversFileName))
	require.NoError(t, err)

	// A second registry over the same directory loads the same servers.
	again := NewRegistry(dir, nil)
	servers, err = again.GetAllServers()
	require.NoError(t, err)
	assert.Len(t, servers, 2)
}

func TestLoadStrictValidation(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		errContains string
	}{
		{
			name:        "missing servers entry",
			content:     "hosts: {}\n",
			errContains: "'servers' entry",
		},
		{
			name:        "servers entry is not a map",
			content:     "servers: [topmed]\n",
			errContains: "to be a map",
		},
		{
			name: "missing url",
			content: `
servers:
  topmed:
    aliases: []
    refpanels: {}
`,
			errContains: `missing mandatory key "url"`,
		},
		{
			name: "missing aliases",
			content: `
servers:
  topmed:
    url: https://example.org
    refpanels: {}
`,
			errContains: `missing mandatory key "aliases"`,
		},
		{
			name: "missing refpanels",
			content: `
servers:
  topmed:
    url: https://example.org
    aliases: []
`,
			errContains: "missing mandatory key 'refpanels'",
		},
		{
			name: "refpanel without populations",
			content: `
servers:
  topmed:
    url: https://example.org
    aliases: []
    refpanels:
      topmed-r3:
        aliases: []
`,
			errContains: "missing mandatory key 'populations'",
		},
		{
			name: "population without display name",
			content: `
servers:
  topmed:
    url: https://example.org
    aliases: []
    refpanels:
      topmed-r3:
        aliases: []
        populations:
          all: {}
`,
			errContains: `missing mandatory key "display-name"`,
		},
		{
			name: "alias collides with another server",
			content: `
servers:
  topmed:
    url: https://example.org
    aliases: [shared]
    refpanels: {}
  michigan:
    url: https://example.net
    aliases: [SHARED]
    refpanels: {}
`,
			errContains: "already present",
		},
		{
			name: "refpanel alias collides with panel id",
			content: `
servers:
  topmed:
    url: https://example.org
    aliases: []
    refpanels:
      topmed-r3:
        aliases: ["TOPMed R3"]
        populations:
          all:
            display-name: ALL
`,
			errContains: "collides",
		},
		{
			name: "bad last-updated",
			content: `
servers:
  topmed:
    url: https://example.org
    aliases: []
    last-updated: "yesterday"
    refpanels: {}
`,
			errContains: "invalid 'last-updated'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeRegistryFile(t, dir, tt.content)
			reg := NewRegistry(dir, nil)

			_, err := reg.GetServer("topmed")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestRegisterServer(t *testing.T) {
	dir := t.TempDir()
	writeRegistryFile(t, dir, goodRegistry)
	reg := NewRegistry(dir, nil)

	server, err := reg.RegisterServer("local", "http://impute.example.org:8080/some/path")
	require.NoError(t, err)
	// Only the host survives; the scheme is forced to https.
	assert.Equal(t, "https://impute.example.org:8080", server.URL)
	assert.True(t, server.LastUpdated.Unix() == 0, "fresh registrations start stale")

	// The registration is persisted.
	again := NewRegistry(dir, nil)
	loaded, err := again.GetServer("local")
	require.NoError(t, err)
	assert.Equal(t, server.URL, loaded.URL)
}

func TestRegisterServerCollision(t *testing.T) {
	dir := t.TempDir()
	writeRegistryFile(t, dir, goodRegistry)
	reg := NewRegistry(dir, nil)

	before, err := reg.GetAllServers()
	require.NoError(t, err)
	count := len(before)

	// Collides with the alias "tm" after normalization.
	_, err = reg.RegisterServer("T-M", "https://example.org")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already associated")

	after, err := reg.GetAllServers()
	require.NoError(t, err)
	assert.Len(t, after, count, "a rejected registration must not mutate the registry")
}

func TestRegisterServerMalformedURL(t *testing.T) {
	dir := t.TempDir()
	writeRegistryFile(t, dir, goodRegistry)
	reg := NewRegistry(dir, nil)

	_, err := reg.RegisterServer("local", "not a url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}
