// Package session implements the Session Store from spec.md §4.13:
// TTL-bounded, cachekv-backed storage for browser/extraction sessions,
// with cookie attributes and filtered listing. Grounded on
// internal/cachekv's Store contract ("backed by (1)" per spec.md §4.13)
// and the teacher's use of google/uuid for opaque identifiers throughout
// internal/browser/session_manager.go.
package session

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"riptide/internal/cachekv"
	"riptide/internal/riperrors"
)

// SameSite mirrors http.SameSite's values without importing net/http here,
// keeping this package's cookie model independent of the HTTP layer.
type SameSite string

const (
	SameSiteDefault SameSite = "default"
	SameSiteLax     SameSite = "lax"
	SameSiteStrict  SameSite = "strict"
	SameSiteNone    SameSite = "none"
)

// Cookie describes a cookie's security-relevant attributes (spec.md §4.13).
type Cookie struct {
	Name     string   `json:"name"`
	Value    string   `json:"value"`
	Domain   string   `json:"domain,omitempty"`
	Secure   bool     `json:"secure"`
	HTTPOnly bool     `json:"http_only"`
	SameSite SameSite `json:"same_site"`
}

// Session is an opaque browser/extraction session record.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Cookies   []Cookie  `json:"cookies,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"active"`
}

func (s Session) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Filter narrows List results, per spec.md §4.13's filter{user, tenant, active_only}.
type Filter struct {
	UserID     string
	TenantID   string
	ActiveOnly bool
}

// indexKey holds the JSON list of session ids, kept separate from the
// full Session bodies; List and CleanupExpired walk it and load each
// session by id.
const indexKey = "riptide:sessions:index"

// Store is the TTL-bounded, cachekv-backed session store.
type Store struct {
	kv         cachekv.Store
	defaultTTL time.Duration
}

// New constructs a Store over an already-opened cachekv.Store.
func New(kv cachekv.Store, defaultTTL time.Duration) *Store {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Store{kv: kv, defaultTTL: defaultTTL}
}

func sessionKey(id string) string {
	return "riptide:session:" + id
}

// Create allocates a new session with a random id and the store's default
// TTL, optionally overridden by ttl (zero uses the default).
func (s *Store) Create(ctx context.Context, userID, tenantID string, cookies []Cookie, ttl time.Duration) (Session, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := time.Now()
	sess := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		TenantID:  tenantID,
		Cookies:   cookies,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Active:    true,
	}
	if err := s.write(ctx, sess, ttl); err != nil {
		return Session{}, err
	}
	if err := s.addToIndex(ctx, sess.ID); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *Store) write(ctx context.Context, sess Session, ttl time.Duration) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return riperrors.Wrap(riperrors.Internal, "session.write", "marshal session", err)
	}
	if err := s.kv.Set(ctx, sessionKey(sess.ID), payload, ttl); err != nil {
		return riperrors.Wrap(riperrors.Cache, "session.write", "store session", err)
	}
	return nil
}

func (s *Store) addToIndex(ctx context.Context, id string) error {
	raw, ok, err := s.kv.Get(ctx, indexKey)
	if err != nil {
		return riperrors.Wrap(riperrors.Cache, "session.addToIndex", "read index", err)
	}
	var ids []string
	if ok {
		if err := json.Unmarshal(raw, &ids); err != nil {
			return riperrors.Wrap(riperrors.Internal, "session.addToIndex", "unmarshal index", err)
		}
	}
	ids = append(ids, id)
	encoded, err := json.Marshal(ids)
	if err != nil {
		return riperrors.Wrap(riperrors.Internal, "session.addToIndex", "marshal index", err)
	}
	return s.kv.Set(ctx, indexKey, encoded, 0)
}

func (s *Store) removeFromIndex(ctx context.Context, id string) error {
	raw, ok, err := s.kv.Get(ctx, indexKey)
	if err != nil || !ok {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil
	}
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	encoded, err := json.Marshal(kept)
	if err != nil {
		return riperrors.Wrap(riperrors.Internal, "session.removeFromIndex", "marshal index", err)
	}
	return s.kv.Set(ctx, indexKey, encoded, 0)
}

// Get returns a session by id. Expired sessions are invisible on read and
// removed on detection, per spec.md §4.13.
func (s *Store) Get(ctx context.Context, id string) (Session, bool, error) {
	raw, ok, err := s.kv.Get(ctx, sessionKey(id))
	if err != nil {
		return Session{}, false, riperrors.Wrap(riperrors.Cache, "session.Get", "read session", err)
	}
	if !ok {
		_ = s.removeFromIndex(ctx, id)
		return Session{}, false, nil
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, false, riperrors.Wrap(riperrors.Internal, "session.Get", "unmarshal session", err)
	}
	if sess.expired(time.Now()) {
		_ = s.kv.Delete(ctx, sessionKey(id))
		_ = s.removeFromIndex(ctx, id)
		return Session{}, false, nil
	}
	return sess, true, nil
}

// Delete removes a session immediately, regardless of TTL.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.kv.Delete(ctx, sessionKey(id)); err != nil {
		return riperrors.Wrap(riperrors.Cache, "session.Delete", "delete session", err)
	}
	return s.removeFromIndex(ctx, id)
}

// List returns sessions matching filter, skipping (and pruning) any that
// have expired since they were indexed.
func (s *Store) List(ctx context.Context, filter Filter) ([]Session, error) {
	raw, ok, err := s.kv.Get(ctx, indexKey)
	if err != nil {
		return nil, riperrors.Wrap(riperrors.Cache, "session.List", "read index", err)
	}
	if !ok {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, riperrors.Wrap(riperrors.Internal, "session.List", "unmarshal index", err)
	}

	var out []Session
	for _, id := range ids {
		sess, found, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if filter.UserID != "" && sess.UserID != filter.UserID {
			continue
		}
		if filter.TenantID != "" && sess.TenantID != filter.TenantID {
			continue
		}
		if filter.ActiveOnly && !sess.Active {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

// CleanupExpired scans the index and removes every session that has
// expired, returning the count removed.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	raw, ok, err := s.kv.Get(ctx, indexKey)
	if err != nil {
		return 0, riperrors.Wrap(riperrors.Cache, "session.CleanupExpired", "read index", err)
	}
	if !ok {
		return 0, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return 0, riperrors.Wrap(riperrors.Internal, "session.CleanupExpired", "unmarshal index", err)
	}

	removed := 0
	for _, id := range ids {
		_, found, err := s.Get(ctx, id)
		if err != nil {
			return removed, err
		}
		if !found {
			removed++
		}
	}
	return removed, nil
}

// idLooksOpaque is a light sanity check used by the API layer before
// treating a path parameter as a session id.
func idLooksOpaque(id string) bool {
	return len(id) > 0 && !strings.ContainsAny(id, "/\\")
}
