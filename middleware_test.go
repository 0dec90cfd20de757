package attrsession

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_SavesBeforeWrite(t *testing.T) {
	mgr := newTestManager(t, Config{})

	handler := mgr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := MustFromContext(r.Context())
		sess.Set("user", "alice")
		_, _ = io.WriteString(w, "hello")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "hello", w.Body.String())
	cookie := sessionCookie(w, defaultCookieName)
	require.NotNil(t, cookie)

	// Next request sees the stored payload.
	var seen any
	handler = mgr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = MustFromContext(r.Context()).Get("user")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), requestWithCookie(cookie))
	assert.Equal(t, "alice", seen)
}

func TestMiddleware_SavesWithoutWrite(t *testing.T) {
	mgr := newTestManager(t, Config{})

	handler := mgr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		MustFromContext(r.Context()).Set("user", "alice")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotNil(t, sessionCookie(w, defaultCookieName))
}

func TestMiddleware_UntouchedSessionSetsNoCookie(t *testing.T) {
	store := &countingStore{AttributeStore: NewMemoryStore()}
	mgr := newTestManager(t, Config{Store: store})

	handler := mgr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Result().Cookies())
	assert.Zero(t, store.calls.Load())
}

func TestMiddleware_SaveFailureKeepsResponse(t *testing.T) {
	store := &failingStore{AttributeStore: NewMemoryStore(), failPut: true}
	mgr := newTestManager(t, Config{Store: store})

	handler := mgr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		MustFromContext(r.Context()).Set("user", "alice")
		_, _ = io.WriteString(w, "ok")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Nil(t, sessionCookie(w, defaultCookieName))
}

func TestMiddleware_Unwrap(t *testing.T) {
	mgr := newTestManager(t, Config{})

	handler := mgr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// ResponseController reaches the recorder's Flush through Unwrap.
		assert.NoError(t, http.NewResponseController(w).Flush())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestFromContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	s := newSession("0123456789abcdef0123456789abcdef", nil, true)
	got, ok := FromContext(WithSession(context.Background(), s))
	assert.True(t, ok)
	assert.Same(t, s, got)

	assert.Panics(t, func() { MustFromContext(context.Background()) })
}
