package gpt

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Role is a named persona for the bot: capability scopes, system directive
// lines, and provider safety settings. Role records are mutable in place so
// every holder of a reference observes a reload without re-fetching.
type Role struct {
	Name           string
	Scopes         []string
	Instructions   []string
	SafetySettings map[string]string
}

// HasScope reports whether the role carries the capability tag.
func (r *Role) HasScope(scope string) bool {
	return slices.Contains(r.Scopes, scope)
}

// instructionText joins the directive lines, trimming whitespace and dropping
// comment lines starting with '#'.
func (r *Role) instructionText() string {
	var lines []string
	for _, raw := range r.Instructions {
		for _, l := range strings.Split(raw, "\n") {
			l = strings.TrimSpace(l)
			if l == "" || strings.HasPrefix(l, "#") {
				continue
			}
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}

// RoleStore loads role records from the backing store.
type RoleStore interface {
	GetRole(ctx context.Context, name string) (*Role, error)
}

// Roles caches roles by name and can refresh every cached record in place.
type Roles struct {
	mu    sync.Mutex
	store RoleStore
	cache map[string]*Role
}

// NewRoles returns a cache backed by store.
func NewRoles(store RoleStore) *Roles {
	return &Roles{store: store, cache: make(map[string]*Role)}
}

// Get returns the cached role, loading it on first use. A nil role with a
// nil error means the store has no record under that name.
func (rs *Roles) Get(ctx context.Context, name string) (*Role, error) {
	rs.mu.Lock()
	if r, ok := rs.cache[name]; ok {
		rs.mu.Unlock()
		return r, nil
	}
	rs.mu.Unlock()

	r, err := rs.store.GetRole(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load role %q: %w", name, err)
	}
	if r == nil {
		return nil, nil
	}
	rs.mu.Lock()
	rs.cache[name] = r
	rs.mu.Unlock()
	return r, nil
}

// Reload re-reads every cached role and updates the cached records in place,
// so processors holding a *Role see new instructions immediately. Roles the
// store no longer has are left untouched.
func (rs *Roles) Reload(ctx context.Context) error {
	rs.mu.Lock()
	names := make([]string, 0, len(rs.cache))
	for name := range rs.cache {
		names = append(names, name)
	}
	rs.mu.Unlock()

	for _, name := range names {
		fresh, err := rs.store.GetRole(ctx, name)
		if err != nil {
			return fmt.Errorf("reload role %q: %w", name, err)
		}
		if fresh == nil {
			continue
		}
		rs.mu.Lock()
		if cached, ok := rs.cache[name]; ok {
			cached.Name = fresh.Name
			cached.Scopes = fresh.Scopes
			cached.Instructions = fresh.Instructions
			cached.SafetySettings = fresh.SafetySettings
		}
		rs.mu.Unlock()
	}
	return nil
}
