package attrsession

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("store down")

// countingStore records every call that reaches the wrapped store.
type countingStore struct {
	AttributeStore
	calls atomic.Int64
}

func (s *countingStore) GetAttributes(ctx context.Context, domain, item string, consistent bool, names []string) ([]Attribute, error) {
	s.calls.Add(1)
	return s.AttributeStore.GetAttributes(ctx, domain, item, consistent, names)
}

func (s *countingStore) PutAttributes(ctx context.Context, domain, item string, attrs []Attribute) error {
	s.calls.Add(1)
	return s.AttributeStore.PutAttributes(ctx, domain, item, attrs)
}

func (s *countingStore) DeleteAttributes(ctx context.Context, domain, item string) error {
	s.calls.Add(1)
	return s.AttributeStore.DeleteAttributes(ctx, domain, item)
}

func (s *countingStore) Select(ctx context.Context, in SelectInput) (SelectOutput, error) {
	s.calls.Add(1)
	return s.AttributeStore.Select(ctx, in)
}

// failingStore fails the operations whose flag is set and delegates the rest.
type failingStore struct {
	AttributeStore
	failGet    bool
	failPut    bool
	failDelete bool
}

func (s *failingStore) GetAttributes(ctx context.Context, domain, item string, consistent bool, names []string) ([]Attribute, error) {
	if s.failGet {
		return nil, errStoreDown
	}
	return s.AttributeStore.GetAttributes(ctx, domain, item, consistent, names)
}

func (s *failingStore) PutAttributes(ctx context.Context, domain, item string, attrs []Attribute) error {
	if s.failPut {
		return errStoreDown
	}
	return s.AttributeStore.PutAttributes(ctx, domain, item, attrs)
}

func (s *failingStore) DeleteAttributes(ctx context.Context, domain, item string) error {
	if s.failDelete {
		return errStoreDown
	}
	return s.AttributeStore.DeleteAttributes(ctx, domain, item)
}

func newTestManager(t testing.TB, cfg Config) *Manager {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = -1
	}
	mgr, err := NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

// sessionCookie returns the cookie named name from the recorded response, or nil.
func sessionCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func requestWithCookie(c *http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if c != nil {
		r.AddCookie(c)
	}
	return r
}
