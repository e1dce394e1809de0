// Package account resolves a user's node credentials.
package account

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNotFound is returned when a user has no node account.
var ErrNotFound = errors.New("node account not found")

// Config describes one user's node as loaded from configuration.
type Config struct {
	UserID       string `mapstructure:"user_id"`
	Name         string `mapstructure:"name"`
	Socket       string `mapstructure:"socket"`
	CertPath     string `mapstructure:"cert_path"`
	MacaroonPath string `mapstructure:"macaroon_path"`
}

// Credentials is the bundle needed to reach a user's node.
type Credentials struct {
	Name         string
	Socket       string
	CertPath     string
	MacaroonPath string
}

// Resolver looks up credentials by user id.
type Resolver interface {
	Lookup(userID string) (Credentials, error)
}

// Registry is an in-memory Resolver.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]Credentials
}

// NewRegistry builds a registry from configured accounts.
func NewRegistry(entries []Config) (*Registry, error) {
	r := &Registry{accounts: make(map[string]Credentials, len(entries))}
	for i, entry := range entries {
		id := strings.TrimSpace(entry.UserID)
		if id == "" {
			return nil, fmt.Errorf("accounts[%d].user_id is required", i)
		}
		if strings.TrimSpace(entry.Socket) == "" {
			return nil, fmt.Errorf("accounts[%d].socket is required", i)
		}
		if _, dup := r.accounts[id]; dup {
			return nil, fmt.Errorf("duplicate account for user %q", id)
		}
		r.accounts[id] = Credentials{
			Name:         entry.Name,
			Socket:       entry.Socket,
			CertPath:     entry.CertPath,
			MacaroonPath: entry.MacaroonPath,
		}
	}
	return r, nil
}

// Lookup returns the credentials for userID or ErrNotFound.
func (r *Registry) Lookup(userID string) (Credentials, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	creds, ok := r.accounts[strings.TrimSpace(userID)]
	if !ok {
		return Credentials{}, ErrNotFound
	}
	return creds, nil
}

// Put registers or replaces an account.
func (r *Registry) Put(userID string, creds Credentials) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[strings.TrimSpace(userID)] = creds
}

// Len returns the number of registered accounts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

var _ Resolver = (*Registry)(nil)
