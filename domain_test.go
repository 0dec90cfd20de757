package attrsession

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagingStore serves Select from a MemoryStore in pages of two and records the tokens it was given.
type pagingStore struct {
	*MemoryStore
	tokens []string
	failAt int
}

func (s *pagingStore) Select(ctx context.Context, in SelectInput) (SelectOutput, error) {
	s.tokens = append(s.tokens, in.NextToken)
	if s.failAt > 0 && len(s.tokens) == s.failAt {
		return SelectOutput{}, errStoreDown
	}
	in.Limit = 2
	return s.MemoryStore.Select(ctx, in)
}

func TestNewDomain_Validation(t *testing.T) {
	_, err := NewDomain(nil, "session")
	assert.ErrorIs(t, err, ErrInvalidDomain)

	_, err = NewDomain(NewMemoryStore(), "")
	assert.ErrorIs(t, err, ErrInvalidDomain)
}

func TestDomain_UpdateThenGet(t *testing.T) {
	d, err := NewDomain(NewMemoryStore(), "session")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, d.Update(ctx, "x", map[string]string{"a": "1"}))
	require.NoError(t, d.Update(ctx, "x", map[string]string{"b": "2"}))

	got, err := d.GetConsistent(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got)

	// An empty update is a no-op and does not create the item.
	require.NoError(t, d.Update(ctx, "y", nil))
	got, err = d.GetConsistent(ctx, "y")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDomain_UpdateReplaces(t *testing.T) {
	store := &recordingStore{MemoryStore: NewMemoryStore()}
	d, err := NewDomain(store, "session")
	require.NoError(t, err)

	require.NoError(t, d.Update(context.Background(), "x", map[string]string{"b": "2", "a": "1"}))
	assert.Equal(t, []Attribute{
		{Name: "a", Value: "1", Replace: true},
		{Name: "b", Value: "2", Replace: true},
	}, store.put)
}

type recordingStore struct {
	*MemoryStore
	put []Attribute
}

func (s *recordingStore) PutAttributes(ctx context.Context, domain, item string, attrs []Attribute) error {
	s.put = attrs
	return s.MemoryStore.PutAttributes(ctx, domain, item, attrs)
}

func TestDomain_ErrorsAreWrapped(t *testing.T) {
	store := &failingStore{AttributeStore: NewMemoryStore(), failGet: true, failPut: true, failDelete: true}
	d, err := NewDomain(store, "session")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = d.GetConsistent(ctx, "x")
	assert.ErrorIs(t, err, errStoreDown)
	assert.Contains(t, err.Error(), "session/x")

	assert.ErrorIs(t, d.Update(ctx, "x", map[string]string{"a": "1"}), errStoreDown)
	assert.ErrorIs(t, d.Remove(ctx, "x"), errStoreDown)
}

func TestDomain_SelectFollowsTokens(t *testing.T) {
	store := &pagingStore{MemoryStore: NewMemoryStore()}
	d, err := NewDomain(store, "session")
	require.NoError(t, err)
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, d.Update(ctx, fmt.Sprintf("i%d", i), map[string]string{"n": "1"}))
	}

	var names []string
	for item, err := range d.Select(ctx, map[string]string{"n": "1"}) {
		require.NoError(t, err)
		names = append(names, item.Name)
	}
	assert.Equal(t, []string{"i0", "i1", "i2", "i3", "i4"}, names)
	assert.Equal(t, []string{"", "i1", "i3"}, store.tokens)
}

func TestDomain_SelectStopsEarly(t *testing.T) {
	store := &pagingStore{MemoryStore: NewMemoryStore()}
	d, err := NewDomain(store, "session")
	require.NoError(t, err)
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, d.Update(ctx, fmt.Sprintf("i%d", i), map[string]string{"n": "1"}))
	}

	for range d.Select(ctx, nil) {
		break
	}
	assert.Len(t, store.tokens, 1, "no page should be fetched after the consumer stops")
}

func TestDomain_SelectYieldsErrorOnce(t *testing.T) {
	store := &pagingStore{MemoryStore: NewMemoryStore(), failAt: 2}
	d, err := NewDomain(store, "session")
	require.NoError(t, err)
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, d.Update(ctx, fmt.Sprintf("i%d", i), map[string]string{"n": "1"}))
	}

	var items, errs int
	for _, err := range d.Select(ctx, nil) {
		if err != nil {
			assert.ErrorIs(t, err, errStoreDown)
			errs++
			continue
		}
		items++
	}
	assert.Equal(t, 2, items)
	assert.Equal(t, 1, errs)
}
