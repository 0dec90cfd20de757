/*
Package attrsession provides server-side HTTP sessions persisted in a
key/attribute store.

A session lives in one named collection (a Domain) of an AttributeStore. Each
session is one item whose name is the configured key prefix followed by the
session id, and it carries four attributes:

  - id: the item name itself.
  - val: the JSON-encoded payload.
  - expiration: RFC 3339 UTC instant after which the record is dead, or empty
    for sessions that end with the browser session.
  - modified: RFC 3339 UTC instant of the last write.

The browser only ever holds the session id, optionally signed with
HMAC-SHA256 so forged ids never reach the store.

Key Features:

  - Pluggable Storage: in-memory, SQLite (CGO-free), PostgreSQL, Redis,
    MongoDB and Memcached backends behind the AttributeStore interface.
  - Field-level Upserts: Domain.Update replaces only the attributes it is
    given, and Save always rewrites all four so no stale field survives.
  - Security First:
  - Session id regeneration to prevent session fixation attacks.
  - Signed cookies with key rotation.
  - Strict session id validation before any store lookup.
  - Secure default cookie settings (HttpOnly, SameSite).
  - Graceful Degradation: a missing record, an expired record, an
    undecodable payload or an unreachable store all yield a usable empty
    session instead of an error page.
  - Automatic Cleanup: a background worker removes expired records from
    stores that can enumerate items.

Usage:

	store, err := attrsession.NewSQLiteStore("sessions.db")
	if err != nil {
		log.Fatal(err)
	}

	mgr, err := attrsession.NewManager(attrsession.Config{
		Store:     store,
		UseSigner: true,
		Secrets:   []string{os.Getenv("SESSION_SECRET")},
		Lifetime:  24 * time.Hour,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer mgr.Close()

	http.Handle("/login", mgr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := attrsession.MustFromContext(r.Context())
		sess.Set("user_id", "42")
	})))

Configuration can also come from the environment, see LoadEnvConfig and OpenStore.

Thread Safety:

Manager, Domain, Registry, Signer and every store are safe for concurrent
use. Session methods lock internally, but a Session belongs to one request.
*/
package attrsession
