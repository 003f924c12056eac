package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const serversFileName = "servers.yaml"

// Persisted file shape. The derived alias-lookup index and the canonical id
// (already the map key) are deliberately not written.
type serversFile struct {
	Servers map[string]serverRecord `yaml:"servers"`
}

type serverRecord struct {
	URL         string                 `yaml:"url"`
	Aliases     []string               `yaml:"aliases"`
	LastUpdated string                 `yaml:"last-updated,omitempty"`
	Refpanels   map[string]panelRecord `yaml:"refpanels"`
}

type panelRecord struct {
	Aliases     []string                    `yaml:"aliases"`
	Populations map[string]populationRecord `yaml:"populations"`
}

type populationRecord struct {
	DisplayName string `yaml:"display-name"`
}

// load reads and validates <dataDir>/servers.yaml. A missing or empty file
// seeds the defaults instead. Any structural problem aborts the whole load:
// a partial registry is never exposed.
func (r *Registry) load() error {
	if err := os.MkdirAll(r.dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	path := filepath.Join(r.dataDir, serversFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r.registerDefaults()
		}
		return fmt.Errorf("failed to read server registry: %w", err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse server registry: %w", err)
	}
	// An empty YAML document is treated the same as a missing file.
	if raw == nil {
		return r.registerDefaults()
	}

	servers, lookup, err := parseServers(raw)
	if err != nil {
		return err
	}

	r.servers = servers
	r.lookup = lookup
	return nil
}

// parseServers validates the decoded YAML tree and builds the server table
// plus the normalized lookup. All errors are fatal to the load.
func parseServers(raw any) (map[string]*Server, map[string]*Server, error) {
	top, ok := raw.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("expected top-level server configuration to be a map, found %T", raw)
	}

	serversField, ok := top["servers"]
	if !ok {
		return nil, nil, fmt.Errorf("expected top-level server configuration to contain a 'servers' entry; found keys: %v", sortedKeys(top))
	}
	serverData, ok := serversField.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("expected top-level 'servers' entry to be a map, found %T", serversField)
	}

	servers := make(map[string]*Server, len(serverData))
	lookup := make(map[string]*Server, len(serverData))

	for serverID, detailsRaw := range serverData {
		norm := Normalize(serverID)
		if prev, ok := lookup[norm]; ok {
			return nil, nil, fmt.Errorf("server id %q already present as a prior id or alias of %q (normalized form: %q)", serverID, prev.ID, norm)
		}

		details, ok := detailsRaw.(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("server %q: expected server details to be a map, found %T", serverID, detailsRaw)
		}

		url, err := stringField(details, "url", "server "+serverID)
		if err != nil {
			return nil, nil, err
		}
		aliases, err := stringListField(details, "aliases", "server "+serverID)
		if err != nil {
			return nil, nil, err
		}

		lastUpdated := time.Unix(0, 0)
		if tsRaw, ok := details["last-updated"]; ok {
			ts, ok := tsRaw.(string)
			if !ok {
				return nil, nil, fmt.Errorf("server %q: field 'last-updated' should be a string, found %T", serverID, tsRaw)
			}
			parsed, err := time.Parse(time.RFC3339, ts)
			if err != nil {
				return nil, nil, fmt.Errorf("server %q: invalid 'last-updated' timestamp: %w", serverID, err)
			}
			lastUpdated = parsed
		}

		panelsRaw, ok := details["refpanels"]
		if !ok {
			return nil, nil, fmt.Errorf("server %q: missing mandatory key 'refpanels'; found keys: %v", serverID, sortedKeys(details))
		}
		panelData, ok := panelsRaw.(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("server %q: field 'refpanels' should be a map, found %T", serverID, panelsRaw)
		}

		panels, err := parseRefpanels(serverID, panelData)
		if err != nil {
			return nil, nil, err
		}

		server := &Server{
			ID:          serverID,
			URL:         url,
			Aliases:     aliases,
			Refpanels:   panels,
			LastUpdated: lastUpdated,
		}
		if err := server.rebuildLookup(); err != nil {
			return nil, nil, err
		}

		servers[serverID] = server
		lookup[norm] = server
		for _, alias := range aliases {
			aliasNorm := Normalize(alias)
			if prev, ok := lookup[aliasNorm]; ok {
				return nil, nil, fmt.Errorf("server %q: alias %q already present as a prior server id or alias of %q (normalized form: %q)",
					serverID, alias, prev.ID, aliasNorm)
			}
			lookup[aliasNorm] = server
		}
	}

	return servers, lookup, nil
}

func parseRefpanels(serverID string, panelData map[string]any) (map[string]*RefPanel, error) {
	panels := make(map[string]*RefPanel, len(panelData))

	for panelID, detailsRaw := range panelData {
		scope := fmt.Sprintf("server %q, refpanel %q", serverID, panelID)

		details, ok := detailsRaw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected refpanel details to be a map, found %T", scope, detailsRaw)
		}

		aliases, err := stringListField(details, "aliases", scope)
		if err != nil {
			return nil, err
		}

		popsRaw, ok := details["populations"]
		if !ok {
			return nil, fmt.Errorf("%s: missing mandatory key 'populations'; found keys: %v", scope, sortedKeys(details))
		}
		popData, ok := popsRaw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: field 'populations' should be a map, found %T", scope, popsRaw)
		}

		populations := make(map[string]Population, len(popData))
		for popID, popRaw := range popData {
			popDetails, ok := popRaw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s: population %q should be a map, found %T", scope, popID, popRaw)
			}
			displayName, err := stringField(popDetails, "display-name", fmt.Sprintf("%s, population %q", scope, popID))
			if err != nil {
				return nil, err
			}
			populations[Normalize(popID)] = Population{ID: popID, DisplayName: displayName}
		}

		panels[panelID] = &RefPanel{
			ID:          panelID,
			Aliases:     aliases,
			Populations: populations,
		}
	}

	return panels, nil
}

func stringField(m map[string]any, key, scope string) (string, error) {
	raw, ok := m[key]
	if !ok {
		return "", fmt.Errorf("%s: missing mandatory key %q; found keys: %v", scope, key, sortedKeys(m))
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s: field %q should be a string, found %T", scope, key, raw)
	}
	return value, nil
}

func stringListField(m map[string]any, key, scope string) ([]string, error) {
	raw, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("%s: missing mandatory key %q; found keys: %v", scope, key, sortedKeys(m))
	}
	list, ok := raw.([]any)
	if !ok {
		if raw == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: field %q should be a list, found %T", scope, key, raw)
	}
	values := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%s: each entry of %q should be a string, found %T", scope, key, item)
		}
		values = append(values, s)
	}
	return values, nil
}

// Save rewrites the registry file wholesale from the in-memory state.
func (r *Registry) Save() error {
	if r.servers == nil {
		return fmt.Errorf("server registry not loaded")
	}

	out := serversFile{Servers: make(map[string]serverRecord, len(r.servers))}
	for id, server := range r.servers {
		record := serverRecord{
			URL:       server.URL,
			Aliases:   server.Aliases,
			Refpanels: make(map[string]panelRecord, len(server.Refpanels)),
		}
		if !server.LastUpdated.IsZero() && server.LastUpdated.Unix() != 0 {
			record.LastUpdated = server.LastUpdated.UTC().Format(time.RFC3339)
		}
		for panelID, panel := range server.Refpanels {
			populations := make(map[string]populationRecord, len(panel.Populations))
			for _, pop := range panel.Populations {
				populations[pop.ID] = populationRecord{DisplayName: pop.DisplayName}
			}
			record.Refpanels[panelID] = panelRecord{
				Aliases:     panel.Aliases,
				Populations: populations,
			}
		}
		out.Servers[id] = record
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode server registry: %w", err)
	}

	if err := os.MkdirAll(r.dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	path := filepath.Join(r.dataDir, serversFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write server registry: %w", err)
	}
	return nil
}
