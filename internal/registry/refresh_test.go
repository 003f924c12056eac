package registry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubCatalog is a canned CatalogSource.
type stubCatalog struct {
	entries []CatalogEntry
	err     error
	calls   int
}

func (s *stubCatalog) ListRefpanels(_ context.Context, _ *Server) ([]CatalogEntry, error) {
	s.calls++
	return s.entries, s.err
}

func testCatalog() []CatalogEntry {
	return []CatalogEntry{
		{
			ID:          "topmed-r3",
			DisplayName: "TOPMed r3",
			Populations: []Population{
				{ID: "all", DisplayName: "ALL"},
				{ID: "off", DisplayName: "Skip"},
			},
		},
		{
			ID:          "1000g-phase-3-v5",
			DisplayName: "1000G Phase 3 v5",
			Populations: []Population{
				{ID: "eur", DisplayName: "EUR"},
			},
		},
	}
}

func TestMaybeRefreshStale(t *testing.T) {
	dir := t.TempDir()
	writeRegistryFile(t, dir, goodRegistry)
	catalog := &stubCatalog{entries: testCatalog()}
	reg := NewRegistry(dir, catalog)

	server, err := reg.GetServer("topmed")
	require.NoError(t, err)
	server.LastUpdated = time.Now().Add(-8 * 24 * time.Hour)

	refreshed, err := reg.MaybeRefresh(context.Background(), server)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, 1, catalog.calls)
	assert.Len(t, server.Refpanels, 2)
	assert.WithinDuration(t, time.Now(), server.LastUpdated, time.Minute)
}

func TestMaybeRefreshFresh(t *testing.T) {
	dir := t.TempDir()
	writeRegistryFile(t, dir, goodRegistry)
	catalog := &stubCatalog{entries: testCatalog()}
	reg := NewRegistry(dir, catalog)

	server, err := reg.GetServer("topmed")
	require.NoError(t, err)
	server.LastUpdated = time.Now().Add(-time.Hour)

	refreshed, err := reg.MaybeRefresh(context.Background(), server)
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Equal(t, 0, catalog.calls, "a fresh catalog must not hit the network")
}

func TestForceRefreshKeepsCuratedAliases(t *testing.T) {
	dir := t.TempDir()
	writeRegistryFile(t, dir, goodRegistry)
	reg := NewRegistry(dir, &stubCatalog{entries: testCatalog()})

	server, err := reg.GetServer("topmed")
	require.NoError(t, err)

	require.NoError(t, reg.ForceRefresh(context.Background(), server))

	// The curated alias of the surviving panel id is carried over.
	panel, err := server.GetRefpanel("legacy")
	require.NoError(t, err)
	assert.Equal(t, "topmed-r3", panel.ID)

	// The replacement catalog is in effect, populations included.
	added, err := server.GetRefpanel("1000G Phase 3 v5")
	require.NoError(t, err)
	_, err = added.GetPopulation("EUR")
	require.NoError(t, err)
}

func TestForceRefreshPersists(t *testing.T) {
	dir := t.TempDir()
	writeRegistryFile(t, dir, goodRegistry)
	reg := NewRegistry(dir, &stubCatalog{entries: testCatalog()})

	server, err := reg.GetServer("topmed")
	require.NoError(t, err)
	require.NoError(t, reg.ForceRefresh(context.Background(), server))

	// A registry loaded fresh from disk sees the refreshed catalog and the
	// new timestamp, so it will not refresh again.
	catalog := &stubCatalog{entries: testCatalog()}
	again := NewRegistry(dir, catalog)
	loaded, err := again.GetServer("topmed")
	require.NoError(t, err)
	assert.Len(t, loaded.Refpanels, 2)

	refreshed, err := again.MaybeRefresh(context.Background(), loaded)
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Equal(t, 0, catalog.calls)

	// The curated alias survives the round trip.
	panel, err := loaded.GetRefpanel("legacy")
	require.NoError(t, err)
	assert.Equal(t, "topmed-r3", panel.ID)
}

func TestForceRefreshEmptyCatalog(t *testing.T) {
	dir := t.TempDir()
	writeRegistryFile(t, dir, goodRegistry)
	reg := NewRegistry(dir, &stubCatalog{})

	server, err := reg.GetServer("topmed")
	require.NoError(t, err)

	err = reg.ForceRefresh(context.Background(), server)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty refpanel catalog")

	// The previous catalog stays in place.
	_, err = server.GetRefpanel("topmed-r3")
	require.NoError(t, err)
}

func TestForceRefreshFetchFailure(t *testing.T) {
	dir := t.TempDir()
	writeRegistryFile(t, dir, goodRegistry)
	reg := NewRegistry(dir, &stubCatalog{err: fmt.Errorf("connection refused")})

	server, err := reg.GetServer("topmed")
	require.NoError(t, err)

	err = reg.ForceRefresh(context.Background(), server)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog fetch failed")
}

func TestForceRefreshDuplicatePanel(t *testing.T) {
	dir := t.TempDir()
	writeRegistryFile(t, dir, goodRegistry)
	entries := append(testCatalog(), CatalogEntry{ID: "topmed-r3"})
	reg := NewRegistry(dir, &stubCatalog{entries: entries})

	server, err := reg.GetServer("topmed")
	require.NoError(t, err)

	err = reg.ForceRefresh(context.Background(), server)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "twice")
}

func TestForceRefreshNoCatalogSource(t *testing.T) {
	dir := t.TempDir()
	writeRegistryFile(t, dir, goodRegistry)
	reg := NewRegistry(dir, nil)

	server, err := reg.GetServer("topmed")
	require.NoError(t, err)

	err = reg.ForceRefresh(context.Background(), server)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no catalog source")
}
