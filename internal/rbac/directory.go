// Package rbac implements the UserDirectory component (spec.md §4.1): a
// pure, cached mapping from phone number to derived Role and permissions.
package rbac

import (
	"sync"

	"github.com/local/denidin/internal/denerr"
)

// Config is the immutable role-assignment configuration for a process
// lifetime: a designated principal phone, a set of administrators, and a
// set of blocked phones.
type Config struct {
	GodfatherPhone string
	AdminPhones    []string
	BlockedPhones  []string
}

// Directory derives and caches Role/permission snapshots from Config. It is
// safe for concurrent use; Config is never mutated after construction.
type Directory struct {
	godfather string
	admins    map[string]struct{}
	blocked   map[string]struct{}

	mu    sync.RWMutex
	cache map[string]User
}

// New builds a Directory from the given role configuration.
func New(cfg Config) *Directory {
	admins := make(map[string]struct{}, len(cfg.AdminPhones))
	for _, p := range cfg.AdminPhones {
		admins[p] = struct{}{}
	}
	blocked := make(map[string]struct{}, len(cfg.BlockedPhones))
	for _, p := range cfg.BlockedPhones {
		blocked[p] = struct{}{}
	}
	return &Directory{
		godfather: cfg.GodfatherPhone,
		admins:    admins,
		blocked:   blocked,
		cache:     make(map[string]User),
	}
}

// Lookup derives (or returns the cached) User for phone. Precedence when a
// phone appears in multiple configured sets: ADMIN > GODFATHER > BLOCKED >
// CLIENT. An empty phone is a domain error (denerr.KindConfig would be wrong
// here — this is a caller-input problem, classified NotFound since there is
// no such user to resolve).
func (d *Directory) Lookup(phone string) (User, error) {
	if phone == "" {
		return User{}, denerr.New(denerr.KindNotFound, "rbac.Lookup", errEmptyPhone)
	}

	d.mu.RLock()
	if u, ok := d.cache[phone]; ok {
		d.mu.RUnlock()
		return u, nil
	}
	d.mu.RUnlock()

	u := d.derive(phone)

	d.mu.Lock()
	d.cache[phone] = u
	d.mu.Unlock()

	return u, nil
}

func (d *Directory) derive(phone string) User {
	role := d.roleFor(phone)
	def := defaultsByRole[role]

	scopes := make([]Scope, len(def.allowedScopes))
	copy(scopes, def.allowedScopes)

	return User{
		Phone:             phone,
		Role:              role,
		TokenLimit:        def.tokenLimit,
		AllowedScopes:     scopes,
		CanSeeAllMemories: def.canSeeAllMemories,
		CanAccessSystem:   def.canAccessSystem,
	}
}

func (d *Directory) roleFor(phone string) Role {
	if _, ok := d.admins[phone]; ok {
		return RoleAdmin
	}
	if d.godfather != "" && phone == d.godfather {
		return RoleGodfather
	}
	if _, ok := d.blocked[phone]; ok {
		return RoleBlocked
	}
	return RoleClient
}

// IsBlocked is a convenience derivation over Lookup.
func (d *Directory) IsBlocked(phone string) (bool, error) {
	u, err := d.Lookup(phone)
	if err != nil {
		return false, err
	}
	return u.IsBlocked(), nil
}

// CanAccessSystem is a convenience derivation over Lookup.
func (d *Directory) CanAccessSystem(phone string) (bool, error) {
	u, err := d.Lookup(phone)
	if err != nil {
		return false, err
	}
	return u.CanAccessSystem, nil
}

// CanSeeAllMemories is a convenience derivation over Lookup.
func (d *Directory) CanSeeAllMemories(phone string) (bool, error) {
	u, err := d.Lookup(phone)
	if err != nil {
		return false, err
	}
	return u.CanSeeAllMemories, nil
}

// TokenLimit is a convenience derivation over Lookup.
func (d *Directory) TokenLimit(phone string) (int, error) {
	u, err := d.Lookup(phone)
	if err != nil {
		return 0, err
	}
	return u.TokenLimit, nil
}

// AllowedScopes is a convenience derivation over Lookup.
func (d *Directory) AllowedScopes(phone string) ([]Scope, error) {
	u, err := d.Lookup(phone)
	if err != nil {
		return nil, err
	}
	return u.AllowedScopes, nil
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const errEmptyPhone sentinelError = "phone must not be empty"
