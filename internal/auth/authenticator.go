package auth

import (
	"errors"
	"strings"

	"github.com/agora-labs/agora/internal/apperror"
)

var errMissingCredentialStore = errors.New("auth: credential store required")

// Authenticator resolves presented API keys and enforces role requirements.
type Authenticator struct {
	store *CredentialStore
}

// NewAuthenticator constructs an Authenticator over a loaded credential store.
func NewAuthenticator(store *CredentialStore) (*Authenticator, error) {
	if store == nil {
		return nil, errMissingCredentialStore
	}
	return &Authenticator{store: store}, nil
}

// Authenticate resolves key to an identity. A blank key counts as missing.
func (a *Authenticator) Authenticate(key string) (Identity, error) {
	if strings.TrimSpace(key) == "" {
		return Identity{}, apperror.ErrMissingCredential
	}
	identity, ok := a.store.Resolve(key)
	if !ok {
		return Identity{}, apperror.ErrInvalidCredential
	}
	return identity, nil
}

// Authorize checks identity against the required role.
// Only admin satisfies admin-gated operations; any resolved identity satisfies user-gated ones.
func (a *Authenticator) Authorize(identity Identity, required Role) (Identity, error) {
	if required == RoleAdmin && identity.Role != RoleAdmin {
		return Identity{}, apperror.ErrInsufficientRole
	}
	return identity, nil
}
