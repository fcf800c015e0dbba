package auth

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Role is the access level attached to an API key.
type Role string

const (
	// RoleUser grants read access to authenticated routes.
	RoleUser Role = "user"
	// RoleAdmin grants read access plus update and delete operations.
	RoleAdmin Role = "admin"
)

const adminIdentityName = "admin"

// ParseRole validates a textual role. Roles match exactly, so "Admin" is not an admin.
func ParseRole(value string) (Role, error) {
	switch Role(value) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("auth: unknown role %q", value)
	}
}

// Identity is the (name, role) pair resolved from a presented key.
type Identity struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// DefaultAPIKeys returns the development key table used when no keys are configured.
func DefaultAPIKeys() map[string]Identity {
	return map[string]Identity{
		"chemapi-admin-key-2024": {Name: "admin", Role: RoleAdmin},
		"chemapi-user1-key-2024": {Name: "user1", Role: RoleUser},
		"chemapi-user2-key-2024": {Name: "user2", Role: RoleUser},
	}
}

// ParseAPIKeys parses "key:name:role" entries separated by commas.
// Malformed entries are returned separately so the caller can report them.
func ParseAPIKeys(raw string) (map[string]Identity, []string) {
	keys := make(map[string]Identity)
	var skipped []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			skipped = append(skipped, entry)
			continue
		}
		key := strings.TrimSpace(parts[0])
		name := strings.TrimSpace(parts[1])
		role, err := ParseRole(parts[2])
		if key == "" || name == "" || err != nil {
			skipped = append(skipped, entry)
			continue
		}
		keys[key] = Identity{Name: name, Role: role}
	}
	return keys, skipped
}

// CredentialConfig describes where API keys come from.
type CredentialConfig struct {
	APIKeys     string
	AdminAPIKey string
	Logger      *zap.Logger
}

type credentialEntry struct {
	key      []byte
	identity Identity
}

// CredentialStore maps API keys to identities. It is immutable after construction.
type CredentialStore struct {
	entries []credentialEntry
}

// NewCredentialStore builds a store from an explicit key table.
func NewCredentialStore(keys map[string]Identity) *CredentialStore {
	store := &CredentialStore{entries: make([]credentialEntry, 0, len(keys))}
	for key, identity := range keys {
		store.entries = append(store.entries, credentialEntry{key: []byte(key), identity: identity})
	}
	return store
}

// LoadCredentialStore builds the process-wide store from configuration.
// An empty or fully malformed key table falls back to DefaultAPIKeys.
func LoadCredentialStore(cfg CredentialConfig) *CredentialStore {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	keys, skipped := ParseAPIKeys(cfg.APIKeys)
	for _, entry := range skipped {
		logger.Warn("skipping malformed api key entry", zap.Int("length", len(entry)))
	}
	if len(keys) == 0 {
		if strings.TrimSpace(cfg.APIKeys) != "" {
			logger.Warn("no valid api keys configured, using development defaults")
		}
		keys = DefaultAPIKeys()
	}

	if adminKey := strings.TrimSpace(cfg.AdminAPIKey); adminKey != "" {
		keys[adminKey] = Identity{Name: adminIdentityName, Role: RoleAdmin}
	}

	logger.Info("credential store loaded", zap.Int("keys", len(keys)))
	return NewCredentialStore(keys)
}

// Resolve returns the identity bound to key. Every entry is compared in constant time.
func (s *CredentialStore) Resolve(key string) (Identity, bool) {
	if s == nil {
		return Identity{}, false
	}
	presented := []byte(key)
	var (
		found    Identity
		resolved bool
	)
	for _, entry := range s.entries {
		if subtle.ConstantTimeCompare(entry.key, presented) == 1 {
			found = entry.identity
			resolved = true
		}
	}
	return found, resolved
}

// Len reports the number of configured keys.
func (s *CredentialStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}
