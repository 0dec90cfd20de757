package attrsession

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionTooLarge is returned when the encoded payload exceeds the configured MaxSessionBytes.
	ErrSessionTooLarge = errors.New("session data too large")

	// ErrInvalidSessionID is returned when the session ID format is invalid.
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrNoStore is returned by NewManager when Config.Store is nil.
	ErrNoStore = errors.New("no attribute store configured")

	// ErrStoreWrite wraps every failed write-back. The session cookie is left untouched when it occurs.
	ErrStoreWrite = errors.New("session store write failed")

	// ErrStoreUnavailable marks a failed read; Open degrades to a fresh session.
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrRecordAbsent marks a cookie whose record does not exist.
	ErrRecordAbsent = errors.New("session record absent")

	// ErrRecordExpired marks a record whose expiration has passed.
	ErrRecordExpired = errors.New("session record expired")
)

// Names of the attributes of a stored session record.
const (
	attrID         = "id"
	attrVal        = "val"
	attrExpiration = "expiration"
	attrModified   = "modified"
)

const (
	defaultCollection      = "session"
	defaultCookieName      = "session_id"
	defaultLifetime        = 31 * 24 * time.Hour
	defaultCleanupInterval = 10 * time.Minute
)

// Manager loads sessions from and saves them to one Domain of an AttributeStore.
// It is built once at startup and shared by every request.
type Manager struct {
	store           AttributeStore
	domain          *Domain
	codec           Codec
	signer          *Signer
	keyPrefix       string
	permanent       bool
	refresh         bool
	lifetime        time.Duration
	cookie          string
	cookiePath      string
	cookieDomain    string
	httpOnly        bool
	secure          *bool
	sameSite        http.SameSite
	maxSessionBytes int
	cleanup         time.Duration
	stopChan        chan struct{}
	closeOnce       sync.Once
	log             *slog.Logger
	metrics         *Metrics
	now             func() time.Time
}

type Config struct {
	Store AttributeStore
	// Collection is the domain holding session records. Defaults to "session".
	Collection string
	// KeyPrefix is prepended to the session id to build the item name.
	KeyPrefix string
	UseSigner bool
	// Secrets sign cookie values when UseSigner is set. The first one signs, all verify.
	Secrets []string
	// Permanent sessions get an expiration and a persistent cookie. Defaults to true.
	Permanent *bool
	// Lifetime of permanent sessions. Defaults to 31 days; a negative value disables expiry.
	Lifetime time.Duration
	// RefreshEachRequest rewrites non-empty sessions on every save even when unmodified,
	// sliding their expiration. Defaults to true.
	RefreshEachRequest *bool
	CookieName         string
	CookiePath         string
	CookieDomain       string
	HttpOnly           *bool
	Secure             *bool
	SameSite           http.SameSite
	// CleanupInterval between background purges of expired records. Zero means
	// 10 minutes, a negative value disables the worker.
	CleanupInterval time.Duration
	MaxSessionBytes int // Maximum size in bytes of the encoded payload. 0 means unlimited.
	Codec           Codec
	Logger          *slog.Logger
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, ErrNoStore
	}
	if cfg.Collection == "" {
		cfg.Collection = defaultCollection
	}
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = "/"
	}
	if cfg.Lifetime == 0 {
		cfg.Lifetime = defaultLifetime
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.Codec == nil {
		cfg.Codec = JSONCodec{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	domain, err := NewDomain(cfg.Store, cfg.Collection)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		store:           cfg.Store,
		domain:          domain,
		codec:           cfg.Codec,
		keyPrefix:       cfg.KeyPrefix,
		permanent:       true,
		refresh:         true,
		lifetime:        cfg.Lifetime,
		cookie:          cfg.CookieName,
		cookiePath:      cfg.CookiePath,
		cookieDomain:    cfg.CookieDomain,
		httpOnly:        true,
		secure:          cfg.Secure,
		sameSite:        http.SameSiteLaxMode,
		maxSessionBytes: cfg.MaxSessionBytes,
		cleanup:         cfg.CleanupInterval,
		stopChan:        make(chan struct{}),
		log:             cfg.Logger.With(slog.String("component", "attrsession"), slog.String("domain", cfg.Collection)),
		metrics:         &Metrics{},
		now:             time.Now,
	}

	if cfg.UseSigner {
		m.signer, err = NewSigner(cfg.Secrets...)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Permanent != nil {
		m.permanent = *cfg.Permanent
	}
	if cfg.RefreshEachRequest != nil {
		m.refresh = *cfg.RefreshEachRequest
	}
	if cfg.HttpOnly != nil {
		m.httpOnly = *cfg.HttpOnly
	}
	if cfg.SameSite != 0 {
		m.sameSite = cfg.SameSite
	}

	// Browsers reject SameSite=None cookies without the Secure attribute.
	if m.sameSite == http.SameSiteNoneMode {
		secure := true
		m.secure = &secure
	}

	if m.cleanup > 0 {
		go m.cleanupWorker()
	}

	return m, nil
}

func (m *Manager) cleanupWorker() {
	ticker := time.NewTicker(m.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := m.Cleanup(ctx)
			cancel()
			if err != nil {
				m.log.Warn("expired session cleanup failed", slog.Int("removed", n), slog.Any("error", err))
				continue
			}
			if n > 0 {
				m.log.Debug("expired sessions removed", slog.Int("removed", n))
			}
		case <-m.stopChan:
			return
		}
	}
}

// Close stops the cleanup worker and closes the store. Calls after the first
// are no-ops.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stopChan)
		err = m.store.Close()
	})
	return err
}

// Domain returns the Domain holding session records.
func (m *Manager) Domain() *Domain {
	return m.domain
}

// Stats returns a snapshot of the lifecycle counters.
func (m *Manager) Stats() map[string]uint64 {
	return m.metrics.Snapshot()
}

// Open returns the session for r. It never fails: a missing or forged cookie,
// an unreachable store, an expired record or an undecodable payload all
// degrade to a usable session.
func (m *Manager) Open(r *http.Request) *Session {
	m.metrics.Inc(MetricOpened)

	cookie, err := r.Cookie(m.cookie)
	if err != nil || cookie.Value == "" {
		return m.fresh()
	}

	id := cookie.Value
	if m.signer != nil {
		id, err = m.signer.Unsign(cookie.Value)
		if err != nil {
			m.metrics.Inc(MetricSignatureInvalid)
			m.log.Debug("session cookie rejected", slog.Any("error", err))
			return m.fresh()
		}
	}

	// Only ids we could have issued reach the store.
	if !isValidID(id) {
		m.metrics.Inc(MetricSignatureInvalid)
		m.log.Debug("session cookie rejected", slog.Any("error", ErrInvalidSessionID))
		return m.fresh()
	}

	return m.load(r.Context(), id)
}

func (m *Manager) load(ctx context.Context, id string) *Session {
	key := m.keyPrefix + id
	log := m.log.With(slog.String("session_key", key))

	record, err := m.domain.GetConsistent(ctx, key)
	if err != nil {
		m.metrics.Inc(MetricReadFailure)
		log.Warn("session lookup failed", slog.Any("error", errors.Join(ErrStoreUnavailable, err)))
		return m.fresh()
	}
	if len(record) == 0 {
		m.metrics.Inc(MetricRecordAbsent)
		log.Debug("session record missing", slog.Any("error", ErrRecordAbsent))
		return newSession(id, nil, m.permanent)
	}

	if raw := record[attrExpiration]; raw != "" {
		expiresAt, err := parseTimestamp(raw)
		if err != nil || !expiresAt.After(m.now()) {
			m.metrics.Inc(MetricRecordExpired)
			log.Debug("session record expired", slog.String("expiration", raw), slog.Any("error", ErrRecordExpired))
			if err := m.domain.Remove(ctx, key); err != nil {
				log.Warn("expired session purge failed", slog.Any("error", err))
			}
			return newSession(id, nil, m.permanent)
		}
	}

	values, err := m.codec.Decode(record[attrVal])
	if err != nil {
		m.metrics.Inc(MetricDecodeFailure)
		log.Warn("session payload discarded", slog.Any("error", err))
		return newSession(id, nil, m.permanent)
	}

	return newSession(id, values, record[attrExpiration] != "")
}

// New returns an empty session with a freshly generated id.
func (m *Manager) New() (*Session, error) {
	id, err := generateID()
	if err != nil {
		return nil, err
	}
	return newSession(id, nil, m.permanent), nil
}

func (m *Manager) fresh() *Session {
	m.metrics.Inc(MetricCreated)
	s, err := m.New()
	if err != nil {
		// Save rejects the empty id, so nothing is written for this request.
		m.log.Error("session id generation failed", slog.Any("error", err))
		return newSession("", nil, m.permanent)
	}
	return s
}

// Save writes s back and sets or deletes the session cookie.
//
// An empty, unmodified session is left alone. An empty, modified session is
// deleted from the store and its cookie removed. Otherwise every record field
// is rewritten, so no stale attribute from an earlier save survives.
// A store failure is returned wrapped in ErrStoreWrite and no cookie is set.
func (m *Manager) Save(w http.ResponseWriter, r *http.Request, s *Session) error {
	return m.save(w, r, s, false)
}

// save is Save; force treats s as modified so the record and cookie are
// always rewritten.
func (m *Manager) save(w http.ResponseWriter, r *http.Request, s *Session, force bool) error {
	id, values, modified, permanent := s.snapshot()
	modified = modified || force
	if !isValidID(id) {
		return ErrInvalidSessionID
	}

	ctx := r.Context()
	key := m.keyPrefix + id
	log := m.log.With(slog.String("session_key", key))

	if len(values) == 0 {
		if !modified {
			return nil
		}
		m.deleteCookie(w, r)
		if err := m.domain.Remove(ctx, key); err != nil {
			m.metrics.Inc(MetricWriteFailure)
			log.Error("session delete failed", slog.Any("error", err))
			return fmt.Errorf("%w: %w", ErrStoreWrite, err)
		}
		m.metrics.Inc(MetricDeleted)
		s.markSaved()
		return nil
	}

	if !modified && !m.refresh {
		return nil
	}

	val, err := m.codec.Encode(values)
	if err != nil {
		return err
	}
	if m.maxSessionBytes > 0 && len(val) > m.maxSessionBytes {
		return ErrSessionTooLarge
	}

	now := m.now()
	expiresAt := m.expiresAt(now, permanent)
	expiration := ""
	if !expiresAt.IsZero() {
		expiration = formatTimestamp(expiresAt)
	}

	record := map[string]string{
		attrID:         key,
		attrVal:        val,
		attrExpiration: expiration,
		attrModified:   formatTimestamp(now),
	}
	if err := m.domain.Update(ctx, key, record); err != nil {
		m.metrics.Inc(MetricWriteFailure)
		log.Error("session write failed", slog.Any("error", err))
		return fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	m.metrics.Inc(MetricSaved)

	value := id
	if m.signer != nil {
		value = m.signer.Sign(id)
	}

	cookie := &http.Cookie{
		Name:     m.cookie,
		Value:    value,
		Path:     m.cookiePath,
		Domain:   m.cookieDomain,
		HttpOnly: m.httpOnly,
		Secure:   m.isSecure(r),
		SameSite: m.sameSite,
	}
	if !expiresAt.IsZero() {
		cookie.Expires = expiresAt
		cookie.MaxAge = int(expiresAt.Sub(now).Seconds())
	}
	http.SetCookie(w, cookie)

	s.markSaved()
	return nil
}

// Regenerate moves s to a new id to prevent session fixation: the session is
// saved under the new id and the old record is deleted.
func (m *Manager) Regenerate(w http.ResponseWriter, r *http.Request, s *Session) error {
	oldID := s.ID()
	newID, err := generateID()
	if err != nil {
		return err
	}
	s.setID(newID)

	// The client must receive the new id even when nothing changed, since the
	// old record is about to go.
	if err := m.save(w, r, s, true); err != nil {
		s.setID(oldID)
		return err
	}

	if err := m.domain.Remove(r.Context(), m.keyPrefix+oldID); err != nil {
		// Fail closed: drop the new record too and log the client out rather
		// than leave the old id usable.
		_ = m.domain.Remove(r.Context(), m.keyPrefix+newID)
		m.deleteCookie(w, r)
		m.metrics.Inc(MetricWriteFailure)
		return fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}

	return nil
}

// Destroy clears s, deletes its record and removes the cookie. The cookie is
// removed even when the store delete fails.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request, s *Session) error {
	m.deleteCookie(w, r)
	s.Clear()

	id := s.ID()
	if !isValidID(id) {
		return nil
	}
	if err := m.domain.Remove(r.Context(), m.keyPrefix+id); err != nil {
		m.metrics.Inc(MetricWriteFailure)
		m.log.Error("session delete failed", slog.String("session_key", m.keyPrefix+id), slog.Any("error", err))
		return fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	m.metrics.Inc(MetricDeleted)
	s.markSaved()
	return nil
}

// Cleanup deletes every session record whose expiration has passed and
// returns how many were removed. Records with an unparseable expiration are
// removed as well.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	now := m.now()
	removed := 0
	for item, err := range m.domain.Select(ctx, nil) {
		if errors.Is(err, ErrSelectUnsupported) {
			// The store expires records on its own.
			return 0, nil
		}
		if err != nil {
			return removed, err
		}
		if !strings.HasPrefix(item.Name, m.keyPrefix) {
			continue
		}
		raw := item.Map()[attrExpiration]
		if raw == "" {
			continue
		}
		if expiresAt, err := parseTimestamp(raw); err == nil && expiresAt.After(now) {
			continue
		}
		if err := m.domain.Remove(ctx, item.Name); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (m *Manager) expiresAt(now time.Time, permanent bool) time.Time {
	if !permanent || m.lifetime < 0 {
		return time.Time{}
	}
	return now.Add(m.lifetime)
}

func (m *Manager) isSecure(r *http.Request) bool {
	if m.secure != nil {
		return *m.secure
	}
	return r.TLS != nil
}

func (m *Manager) deleteCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie,
		Value:    "",
		Path:     m.cookiePath,
		Domain:   m.cookieDomain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: m.httpOnly,
		Secure:   m.isSecure(r),
		SameSite: m.sameSite,
	})
}

// timestampLayouts accepts RFC 3339 as written by Save and the zone-less ISO
// 8601 form (interpreted as UTC) found in records written by other clients.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(raw string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var t time.Time
		if t, err = time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func generateID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}

	ptr := idBufferPool.Get().(*[]byte)
	b := *ptr
	hex.Encode(b, u[:])
	id := string(b)

	clear(b)
	idBufferPool.Put(ptr)
	return id, nil
}

// validIDChars is a lookup table for valid hex characters (0-9, a-f).
var validIDChars = [256]bool{}

func init() {
	for i := 0; i < len(validIDChars); i++ {
		c := byte(i)
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') {
			validIDChars[i] = true
		}
	}
}

func isValidID(id string) bool {
	if len(id) != 32 {
		return false
	}
	for i := 0; i < 32; i++ {
		if !validIDChars[id[i]] {
			return false
		}
	}
	return true
}
