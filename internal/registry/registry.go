// Package registry maintains the local catalog of known imputation servers:
// their base URLs, aliases, and reference-panel/population listings. All
// identifier matching goes through Normalize so that "TOPMed R3",
// "topmed-r3", and "topmed_r3" resolve to the same entry.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Normalize produces the canonical comparison key for an identifier. It
// removes all whitespace (internal included), removes the joiners '-', '_',
// and '.', and lowercases the remainder. Normalize is idempotent.
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsSpace(r) || r == '-' || r == '_' || r == '.' {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Population is a named sub-group within a reference panel, used for the
// allele-frequency check during imputation.
type Population struct {
	ID          string
	DisplayName string
}

// RefPanel is one reference panel offered by a server. Populations are keyed
// by their normalized id.
type RefPanel struct {
	ID          string
	Aliases     []string
	Populations map[string]Population
}

// GetPopulation resolves a population by id, ignoring case, whitespace, and
// the joiners -_. in the comparison.
func (p *RefPanel) GetPopulation(name string) (Population, error) {
	norm := Normalize(name)
	pop, ok := p.Populations[norm]
	if !ok {
		return Population{}, fmt.Errorf("refpanel %q: population not recognized: %q (normalized form: %q); accepted values: %v",
			p.ID, name, norm, sortedKeys(p.Populations))
	}
	return pop, nil
}

// Server is one registered imputation server deployment.
type Server struct {
	ID          string
	URL         string
	Aliases     []string
	Refpanels   map[string]*RefPanel
	LastUpdated time.Time

	// refpanelLookup maps every normalized panel id and alias back to its
	// panel. Rebuilt whenever Refpanels changes.
	refpanelLookup map[string]*RefPanel
}

// GetRefpanel resolves a reference panel by id or alias.
func (s *Server) GetRefpanel(name string) (*RefPanel, error) {
	norm := Normalize(name)
	panel, ok := s.refpanelLookup[norm]
	if !ok {
		return nil, fmt.Errorf("server %q: refpanel not recognized: %q (normalized form: %q); accepted values: %v",
			s.ID, name, norm, sortedKeys(s.refpanelLookup))
	}
	return panel, nil
}

// rebuildLookup reconstructs refpanelLookup from Refpanels. Every normalized
// panel id and alias must be unique within the server.
func (s *Server) rebuildLookup() error {
	lookup := make(map[string]*RefPanel, len(s.Refpanels))
	for id, panel := range s.Refpanels {
		norm := Normalize(id)
		if prev, ok := lookup[norm]; ok {
			return fmt.Errorf("server %q: refpanel id %q collides with %q (normalized form: %q)", s.ID, id, prev.ID, norm)
		}
		lookup[norm] = panel
		for _, alias := range panel.Aliases {
			aliasNorm := Normalize(alias)
			if prev, ok := lookup[aliasNorm]; ok {
				return fmt.Errorf("server %q: refpanel alias %q of %q collides with %q (normalized form: %q)", s.ID, alias, id, prev.ID, aliasNorm)
			}
			lookup[aliasNorm] = panel
		}
	}
	s.refpanelLookup = lookup
	return nil
}

// CatalogEntry is one reference panel as reported by a remote server,
// including its population listing.
type CatalogEntry struct {
	ID          string
	DisplayName string
	Populations []Population
}

// CatalogSource fetches the reference-panel catalog of a remote server. The
// API client implements this; the registry only depends on the interface.
type CatalogSource interface {
	ListRefpanels(ctx context.Context, server *Server) ([]CatalogEntry, error)
}

// Registry is the process-wide table of known servers. It is lazily loaded
// from <dataDir>/servers.yaml on first access and rewritten wholesale after
// any mutation. Concurrent writers of the same file are not coordinated;
// single-writer discipline is assumed.
type Registry struct {
	dataDir  string
	catalogs CatalogSource

	servers map[string]*Server // canonical id -> server
	lookup  map[string]*Server // normalized id or alias -> server
}

// NewRegistry creates a registry rooted at dataDir. The catalog source is
// used to refresh server panel listings; it may be nil if no refresh will be
// requested.
func NewRegistry(dataDir string, catalogs CatalogSource) *Registry {
	return &Registry{
		dataDir:  dataDir,
		catalogs: catalogs,
	}
}

// EnsureLoaded loads the registry file if it has not been loaded yet. A
// missing or empty file seeds the default servers and persists immediately.
func (r *Registry) EnsureLoaded() error {
	if r.servers != nil {
		return nil
	}
	return r.load()
}

// GetServer resolves a server by id or alias.
func (r *Registry) GetServer(name string) (*Server, error) {
	if err := r.EnsureLoaded(); err != nil {
		return nil, err
	}
	norm := Normalize(name)
	server, ok := r.lookup[norm]
	if !ok {
		return nil, fmt.Errorf("server not recognized: %q (normalized form: %q); available values: %v",
			name, norm, sortedKeys(r.lookup))
	}
	return server, nil
}

// GetAllServers returns every registered server keyed by canonical id.
func (r *Registry) GetAllServers() (map[string]*Server, error) {
	if err := r.EnsureLoaded(); err != nil {
		return nil, err
	}
	return r.servers, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
