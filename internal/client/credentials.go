package client

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"
)

// Prompter gathers credentials interactively. It is an interface so tests
// can supply canned input.
type Prompter interface {
	// ReadLine prints the prompt and reads one line of input.
	ReadLine(prompt string) (string, error)

	// ReadPassword prints the prompt and reads a line with echo disabled.
	ReadPassword(prompt string) (string, error)
}

// TerminalPrompter reads from the controlling terminal.
type TerminalPrompter struct{}

func (TerminalPrompter) ReadLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (TerminalPrompter) ReadPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// CredentialStore caches bearer tokens per (server, role) pair and persists
// them as plain-text files under the data directory:
// <dataDir>/<server-id>.token for the user role, <server-id>-admin.token for
// the admin role.
type CredentialStore struct {
	dataDir     string
	tokenFile   string // explicit override, used for every lookup when set
	interactive bool
	prompter    Prompter

	cache map[string]string
}

// NewCredentialStore creates a store rooted at dataDir. tokenFile, when
// non-empty, overrides the default per-server path. When interactive is
// false, a missing token is a hard failure instead of a prompt.
func NewCredentialStore(dataDir, tokenFile string, interactive bool) *CredentialStore {
	return &CredentialStore{
		dataDir:     dataDir,
		tokenFile:   tokenFile,
		interactive: interactive,
		prompter:    TerminalPrompter{},
		cache:       make(map[string]string),
	}
}

// SetPrompter replaces the interactive input source.
func (s *CredentialStore) SetPrompter(p Prompter) {
	s.prompter = p
}

// Interactive reports whether the store may prompt for missing credentials.
func (s *CredentialStore) Interactive() bool {
	return s.interactive
}

// TokenPath returns the on-disk location for a (server, role) token.
func (s *CredentialStore) TokenPath(serverID string, admin bool) string {
	name := serverID + ".token"
	if admin {
		name = serverID + "-admin.token"
	}
	return filepath.Join(s.dataDir, name)
}

func cacheKey(serverID string, admin bool) string {
	if admin {
		return serverID + "/admin"
	}
	return serverID + "/user"
}

// CachedToken returns a token from memory or from disk, if one exists. Disk
// hits are cached for the life of the store. An explicit token file that is
// missing or empty is an error, never a silent fallthrough to prompting.
func (s *CredentialStore) CachedToken(serverID string, admin bool) (string, bool, error) {
	key := cacheKey(serverID, admin)
	if token, ok := s.cache[key]; ok {
		return token, true, nil
	}

	if s.tokenFile != "" {
		data, err := os.ReadFile(s.tokenFile)
		if err != nil {
			return "", false, fmt.Errorf("failed to read token file %q: %w", s.tokenFile, err)
		}
		token := strings.TrimSpace(string(data))
		if token == "" {
			return "", false, fmt.Errorf("token file %q is empty", s.tokenFile)
		}
		s.cache[key] = token
		return token, true, nil
	}

	data, err := os.ReadFile(s.TokenPath(serverID, admin))
	if err != nil {
		return "", false, nil
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", false, nil
	}
	s.cache[key] = token
	return token, true, nil
}

// StoreToken caches a token and persists it to the default path for the
// (server, role) pair.
func (s *CredentialStore) StoreToken(serverID string, admin bool, token string) error {
	s.cache[cacheKey(serverID, admin)] = token

	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	path := s.TokenPath(serverID, admin)
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// PromptToken interactively asks for a raw bearer token (user role).
func (s *CredentialStore) PromptToken(serverID string) (string, error) {
	token, err := s.prompter.ReadLine(fmt.Sprintf("API token for %s: ", serverID))
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", fmt.Errorf("empty token provided for server %q", serverID)
	}
	return token, nil
}

// PromptLogin interactively asks for a username and a masked password
// (admin role).
func (s *CredentialStore) PromptLogin() (username, password string, err error) {
	username, err = s.prompter.ReadLine("Username: ")
	if err != nil {
		return "", "", err
	}
	password, err = s.prompter.ReadPassword("Password: ")
	if err != nil {
		return "", "", err
	}
	return username, password, nil
}
