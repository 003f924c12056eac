package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// staleAfter is the maximum age of a cached panel catalog before a lazy
// refresh is triggered.
const staleAfter = 7 * 24 * time.Hour

// defaultServers are registered on first use when no registry file exists.
// They start with an epoch timestamp so the next refresh cycle fetches their
// catalogs live.
var defaultServers = map[string]string{
	"topmed":   "https://imputation.biodatacatalyst.nhlbi.nih.gov",
	"michigan": "https://imputationserver.sph.umich.edu",
}

// registerDefaults initializes an empty registry with the default servers and
// persists it.
func (r *Registry) registerDefaults() error {
	if r.servers != nil {
		return fmt.Errorf("server registry already initialized")
	}
	r.servers = make(map[string]*Server)
	r.lookup = make(map[string]*Server)

	for id, baseURL := range defaultServers {
		if _, err := r.insertServer(id, baseURL); err != nil {
			r.servers = nil
			r.lookup = nil
			return err
		}
	}

	slog.Info("seeded default server registry", "servers", sortedKeys(r.servers))
	return r.Save()
}

// RegisterServer adds a new server with the given id and base URL, persists
// the registry, and returns the new entry. The entry starts with an empty,
// clearly-stale catalog; the next refresh cycle populates it.
func (r *Registry) RegisterServer(id, rawURL string) (*Server, error) {
	if err := r.EnsureLoaded(); err != nil {
		return nil, err
	}
	server, err := r.insertServer(id, rawURL)
	if err != nil {
		return nil, err
	}
	if err := r.Save(); err != nil {
		return nil, err
	}
	return server, nil
}

// insertServer validates and inserts a server without persisting.
func (r *Registry) insertServer(id, rawURL string) (*Server, error) {
	norm := Normalize(id)
	if prev, ok := r.lookup[norm]; ok {
		return nil, fmt.Errorf("id %q already associated with server %q (normalized form: %q); aborting registration", id, prev.ID, norm)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("submitted URL is malformed: %q: %w", rawURL, err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("submitted URL is malformed: %q", rawURL)
	}

	server := &Server{
		ID:          id,
		URL:         "https://" + parsed.Host,
		Refpanels:   make(map[string]*RefPanel),
		LastUpdated: time.Unix(0, 0), // clearly out of date
	}
	server.refpanelLookup = make(map[string]*RefPanel)

	r.servers[id] = server
	r.lookup[norm] = server
	return server, nil
}

// MaybeRefresh refreshes the server's panel catalog if it is older than the
// staleness threshold. Returns true if a refresh happened.
func (r *Registry) MaybeRefresh(ctx context.Context, server *Server) (bool, error) {
	if time.Since(server.LastUpdated) <= staleAfter {
		return false, nil
	}
	if err := r.ForceRefresh(ctx, server); err != nil {
		return false, err
	}
	return true, nil
}

// ForceRefresh queries the remote server for its reference-panel catalog and
// replaces the server's panel set with the result. Curated aliases of panels
// whose id is unchanged survive the replacement. The registry is persisted
// afterwards.
func (r *Registry) ForceRefresh(ctx context.Context, server *Server) error {
	if r.catalogs == nil {
		return fmt.Errorf("server %q: no catalog source configured", server.ID)
	}

	start := time.Now()
	entries, err := r.catalogs.ListRefpanels(ctx, server)
	if err != nil {
		return fmt.Errorf("server %q: refpanel catalog fetch failed: %w", server.ID, err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("server %q: remote returned an empty refpanel catalog", server.ID)
	}

	panels := make(map[string]*RefPanel, len(entries))
	for _, entry := range entries {
		if _, ok := panels[entry.ID]; ok {
			return fmt.Errorf("server %q: remote catalog lists refpanel %q twice", server.ID, entry.ID)
		}
		populations := make(map[string]Population, len(entry.Populations))
		for _, pop := range entry.Populations {
			populations[Normalize(pop.ID)] = pop
		}
		panels[entry.ID] = &RefPanel{
			ID:          entry.ID,
			Populations: populations,
		}
	}

	// The new panel set is authoritative, but operator-curated aliases are
	// carried over for panels whose id is unchanged.
	for id, panel := range panels {
		if old, ok := server.Refpanels[id]; ok && len(old.Aliases) > 0 {
			panel.Aliases = old.Aliases
		}
	}

	old := server.Refpanels
	server.Refpanels = panels
	if err := server.rebuildLookup(); err != nil {
		server.Refpanels = old
		_ = server.rebuildLookup()
		return err
	}
	server.LastUpdated = start

	slog.Info("refreshed server catalog", "server", server.ID, "refpanels", len(panels))
	return r.Save()
}
