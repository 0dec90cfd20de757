package attrsession

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
)

var (
	// ErrDomainNotFound is returned by Registry.Lookup for names that were not configured.
	ErrDomainNotFound = errors.New("domain not found")

	// ErrDomainAdminUnsupported is returned when the store cannot create or drop domains.
	ErrDomainAdminUnsupported = errors.New("store does not support domain administration")
)

// Registry resolves configured collection names to Domains. It is built once at
// startup and is read-only afterwards, so it is safe for concurrent use.
type Registry struct {
	store   AttributeStore
	domains map[string]*Domain
}

// NewRegistry builds one Domain per name. Duplicate names collapse into one entry.
func NewRegistry(store AttributeStore, names ...string) (*Registry, error) {
	r := &Registry{
		store:   store,
		domains: make(map[string]*Domain, len(names)),
	}
	for _, name := range names {
		d, err := NewDomain(store, name)
		if err != nil {
			return nil, fmt.Errorf("domain %q: %w", name, err)
		}
		r.domains[name] = d
	}
	return r, nil
}

// Lookup returns the Domain registered under name.
func (r *Registry) Lookup(name string) (*Domain, error) {
	d, ok := r.domains[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDomainNotFound, name)
	}
	return d, nil
}

// Names returns the registered collection names in sorted order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.domains))
}

// CreateAll creates every registered domain in the store.
func (r *Registry) CreateAll(ctx context.Context) error {
	admin, ok := r.store.(DomainAdmin)
	if !ok {
		return ErrDomainAdminUnsupported
	}
	for _, name := range r.Names() {
		if err := admin.CreateDomain(ctx, name); err != nil {
			return fmt.Errorf("create domain %q: %w", name, err)
		}
	}
	return nil
}

// DestroyAll drops every registered domain and all of its items.
func (r *Registry) DestroyAll(ctx context.Context) error {
	admin, ok := r.store.(DomainAdmin)
	if !ok {
		return ErrDomainAdminUnsupported
	}
	for _, name := range r.Names() {
		if err := admin.DeleteDomain(ctx, name); err != nil {
			return fmt.Errorf("delete domain %q: %w", name, err)
		}
	}
	return nil
}
