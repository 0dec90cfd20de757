package attrsession

import (
	"context"
	"log/slog"
	"net/http"
)

type sessionContextKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// FromContext returns the session stored by Middleware.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*Session)
	return s, ok
}

// MustFromContext is FromContext for handlers that only run behind Middleware.
func MustFromContext(ctx context.Context) *Session {
	s, ok := FromContext(ctx)
	if !ok {
		panic("attrsession: session not found in context")
	}
	return s
}

// responseWriter saves the session right before the first header or body
// write, while the cookie can still be added to the response.
type responseWriter struct {
	http.ResponseWriter
	mgr       *Manager
	req       *http.Request
	sess      *Session
	isWritten bool
}

func (w *responseWriter) save() {
	if w.isWritten {
		return
	}
	w.isWritten = true
	if err := w.mgr.Save(w.ResponseWriter, w.req, w.sess); err != nil {
		w.mgr.log.Error("session save failed", slog.String("path", w.req.URL.Path), slog.Any("error", err))
	}
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.save()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.save()
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Middleware opens the session for every request, exposes it through the
// request context and saves it before the response is written. Save errors
// are logged and never turn into an error response.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := m.Open(r)
		r = r.WithContext(WithSession(r.Context(), sess))

		rw := &responseWriter{ResponseWriter: w, mgr: m, req: r, sess: sess}
		next.ServeHTTP(rw, r)
		rw.save()
	})
}
