package attrsession

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
)

// ErrInvalidDomain is returned when a Domain is built without a store or a name.
var ErrInvalidDomain = errors.New("invalid domain")

// Domain is a stateless view of one named collection in an AttributeStore.
// Every call is a full round trip; nothing is cached.
type Domain struct {
	store AttributeStore
	name  string
}

// NewDomain returns a Domain bound to name in store.
func NewDomain(store AttributeStore, name string) (*Domain, error) {
	if store == nil || name == "" {
		return nil, ErrInvalidDomain
	}
	return &Domain{store: store, name: name}, nil
}

// Name returns the collection name.
func (d *Domain) Name() string {
	return d.name
}

// GetConsistent performs a strongly consistent read of id. A missing item yields
// an empty map. With names given, only those attributes are fetched, so an absent
// key means "not requested" rather than "empty".
func (d *Domain) GetConsistent(ctx context.Context, id string, names ...string) (map[string]string, error) {
	attrs, err := d.store.GetAttributes(ctx, d.name, id, true, names)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", d.name, id, err)
	}
	return attributesToMap(attrs), nil
}

// Update upserts every field of data with replace semantics. Fields of the
// stored item that are not in data are left as they are.
func (d *Domain) Update(ctx context.Context, id string, data map[string]string) error {
	if len(data) == 0 {
		return nil
	}
	attrs := make([]Attribute, 0, len(data))
	for _, name := range slices.Sorted(maps.Keys(data)) {
		attrs = append(attrs, Attribute{Name: name, Value: data[name], Replace: true})
	}
	if err := d.store.PutAttributes(ctx, d.name, id, attrs); err != nil {
		return fmt.Errorf("put %s/%s: %w", d.name, id, err)
	}
	return nil
}

// Remove deletes the whole item. Removing a missing item succeeds.
func (d *Domain) Remove(ctx context.Context, id string) error {
	if err := d.store.DeleteAttributes(ctx, d.name, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", d.name, id, err)
	}
	return nil
}

// Select lazily yields every item whose attributes equal all filters, fetching
// one page per round trip. Iteration stops after the first error, which is
// yielded once. Re-invoke Select to restart the scan.
func (d *Domain) Select(ctx context.Context, filters map[string]string) iter.Seq2[Item, error] {
	conds := make([]Attribute, 0, len(filters))
	for name, value := range filters {
		conds = append(conds, Attribute{Name: name, Value: value})
	}
	slices.SortFunc(conds, func(a, b Attribute) int { return cmp.Compare(a.Name, b.Name) })

	return func(yield func(Item, error) bool) {
		token := ""
		for {
			page, err := d.store.Select(ctx, SelectInput{
				Domain:    d.name,
				Filters:   conds,
				NextToken: token,
			})
			if err != nil {
				yield(Item{}, fmt.Errorf("select %s: %w", d.name, err))
				return
			}
			for _, item := range page.Items {
				if !yield(item, nil) {
					return
				}
			}
			if page.NextToken == "" {
				return
			}
			token = page.NextToken
		}
	}
}
