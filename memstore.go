package attrsession

import (
	"context"
	"maps"
	"slices"
	"sync"
)

var (
	_ AttributeStore = (*MemoryStore)(nil)
	_ DomainAdmin    = (*MemoryStore)(nil)
)

// MemoryStore is a process-local AttributeStore for tests and single-instance
// deployments. Domains are created implicitly on first write.
type MemoryStore struct {
	mu      sync.RWMutex
	domains map[string]map[string]map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{domains: make(map[string]map[string]map[string]string)}
}

func (s *MemoryStore) GetAttributes(ctx context.Context, domain, item string, consistent bool, names []string) ([]Attribute, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return mapToAttributes(s.domains[domain][item], names), nil
}

func (s *MemoryStore) PutAttributes(ctx context.Context, domain, item string, attrs []Attribute) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, ok := s.domains[domain]
	if !ok {
		items = make(map[string]map[string]string)
		s.domains[domain] = items
	}
	record, ok := items[item]
	if !ok {
		record = make(map[string]string, len(attrs))
		items[item] = record
	}
	for _, a := range attrs {
		record[a.Name] = a.Value
	}
	return nil
}

func (s *MemoryStore) DeleteAttributes(ctx context.Context, domain, item string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.domains[domain], item)
	return nil
}

// Select pages through items in name order; NextToken is the last name returned.
func (s *MemoryStore) Select(ctx context.Context, in SelectInput) (SelectOutput, error) {
	if err := ctx.Err(); err != nil {
		return SelectOutput{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.domains[in.Domain]
	limit := selectLimit(in.Limit)

	var out SelectOutput
	for _, name := range slices.Sorted(maps.Keys(items)) {
		if in.NextToken != "" && name <= in.NextToken {
			continue
		}
		if !matchesFilters(items[name], in.Filters) {
			continue
		}
		if len(out.Items) == limit {
			out.NextToken = out.Items[len(out.Items)-1].Name
			break
		}
		out.Items = append(out.Items, Item{Name: name, Attributes: mapToAttributes(items[name], nil)})
	}
	return out, nil
}

func (s *MemoryStore) CreateDomain(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.domains[name]; !ok {
		s.domains[name] = make(map[string]map[string]string)
	}
	return nil
}

func (s *MemoryStore) DeleteDomain(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.domains, name)
	return nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}
