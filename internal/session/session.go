// Package session resolves the principal active on the device at trigger time.
package session

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/stacklok/fieldsync/internal/config"
)

// ErrNoSession is returned when nobody is signed in
var ErrNoSession = errors.New("no active session")

// Principal is a signed-in user
type Principal struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// CanSync reports whether the principal's role is one of the eligible roles
func (p Principal) CanSync(eligibleRoles []string) bool {
	return p.ID != "" && slices.Contains(eligibleRoles, p.Role)
}

// Provider returns the current principal or ErrNoSession
type Provider interface {
	Current(ctx context.Context) (Principal, error)
}

// StaticProvider holds the principal configured for the device. It can be replaced
// at runtime by SignIn / SignOut.
type StaticProvider struct {
	mu        sync.RWMutex
	principal *Principal
}

// NewStaticProvider creates a provider from the session configuration. A nil
// configuration means nobody is signed in.
func NewStaticProvider(cfg *config.SessionConfig) *StaticProvider {
	p := &StaticProvider{}
	if cfg != nil && cfg.PrincipalID != "" {
		p.principal = &Principal{ID: cfg.PrincipalID, Role: cfg.Role}
	}
	return p
}

// Current implements Provider
func (s *StaticProvider) Current(_ context.Context) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.principal == nil {
		return Principal{}, ErrNoSession
	}
	return *s.principal, nil
}

// SignIn makes p the current principal
func (s *StaticProvider) SignIn(p Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principal = &p
}

// SignOut clears the current principal
func (s *StaticProvider) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principal = nil
}
