package attrsession

import (
	"cmp"
	"context"
	"errors"
	"slices"
)

// ErrSelectUnsupported is returned by stores that cannot enumerate items.
var ErrSelectUnsupported = errors.New("select not supported by store")

// defaultSelectLimit is the page size used when SelectInput.Limit is zero.
const defaultSelectLimit = 100

// Attribute is one named value of an item. Replace asks the store to overwrite
// an existing value of the same name.
type Attribute struct {
	Name    string
	Value   string
	Replace bool
}

// Item is one record of a domain as returned by Select.
type Item struct {
	Name       string
	Attributes []Attribute
}

// Map flattens the attribute list into a name/value mapping.
func (i Item) Map() map[string]string {
	return attributesToMap(i.Attributes)
}

// SelectInput describes one page of an equality-filtered scan.
type SelectInput struct {
	Domain string
	// Filters are ANDed; each matches items whose attribute Name equals Value.
	Filters   []Attribute
	NextToken string
	Limit     int
}

// SelectOutput is one page of Select results. An empty NextToken means the scan is done.
// Stores resume after the last item name they returned, so deleting items
// during a scan does not skip others. A page may hold fewer than Limit items
// and still carry a NextToken.
type SelectOutput struct {
	Items     []Item
	NextToken string
}

// AttributeStore is the key/attribute backend a Domain talks to.
//
// Every method is a single round trip. Implementations must be safe for
// concurrent use and must treat a missing item as empty, not as an error.
type AttributeStore interface {
	// GetAttributes reads an item. When names is non-empty only those attributes are returned.
	GetAttributes(ctx context.Context, domain, item string, consistent bool, names []string) ([]Attribute, error)
	// PutAttributes upserts the given attributes atomically. Attributes not listed are left untouched.
	PutAttributes(ctx context.Context, domain, item string, attrs []Attribute) error
	// DeleteAttributes removes the whole item. Deleting a missing item is not an error.
	DeleteAttributes(ctx context.Context, domain, item string) error
	// Select returns one page of items whose attributes equal every filter.
	Select(ctx context.Context, in SelectInput) (SelectOutput, error)
	// Close releases the underlying connection.
	Close() error
}

// DomainAdmin is implemented by stores that can create and drop whole domains.
type DomainAdmin interface {
	CreateDomain(ctx context.Context, name string) error
	DeleteDomain(ctx context.Context, name string) error
}

func attributesToMap(attrs []Attribute) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
		out[a.Name] = a.Value
	}
	return out
}

// mapToAttributes returns the attributes sorted by name, optionally restricted to names.
func mapToAttributes(m map[string]string, names []string) []Attribute {
	attrs := make([]Attribute, 0, len(m))
	if len(names) > 0 {
		for _, n := range names {
			if v, ok := m[n]; ok {
				attrs = append(attrs, Attribute{Name: n, Value: v})
			}
		}
	} else {
		for n, v := range m {
			attrs = append(attrs, Attribute{Name: n, Value: v})
		}
	}
	slices.SortFunc(attrs, func(a, b Attribute) int { return cmp.Compare(a.Name, b.Name) })
	return attrs
}

// matchesFilters reports whether attrs satisfies every equality filter.
func matchesFilters(attrs map[string]string, filters []Attribute) bool {
	for _, f := range filters {
		v, ok := attrs[f.Name]
		if !ok || v != f.Value {
			return false
		}
	}
	return true
}

func selectLimit(limit int) int {
	if limit <= 0 {
		return defaultSelectLimit
	}
	return limit
}
