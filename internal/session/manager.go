// Package session tracks the logged-in user across the home and dashboard
// applications. A session travels in two channels, origin-scoped local
// storage and a cookie readable by both applications, and is backed by a
// record in the sessions collection. The signed token is authoritative; the
// channels are caches of it.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rongwang/bytebank/internal/models"
	"github.com/rongwang/bytebank/internal/utils"
)

const (
	// StorageKey is the local storage key holding the JSON session.
	StorageKey = "bytebank:session"
	// CookieName is the name of the shared session cookie.
	CookieName = "session"
	// DefaultDuration is the session lifetime when none is given.
	DefaultDuration = 30 * time.Minute
)

// ErrInvalidSession is returned by Decode for unusable session payloads.
var ErrInvalidSession = errors.New("invalid session")

// Session is the client-visible session. ID is the user id.
type Session struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store is the sessions-collection bookkeeping the manager needs.
type Store interface {
	CreateSessionRecord(ctx context.Context, rec *models.SessionRecord) error
	GetSessionRecordsByUser(ctx context.Context, userID string) ([]models.SessionRecord, error)
	DeleteSessionRecord(ctx context.Context, id string) error
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

// Environment selects the cookie attributes.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// CookiePolicy decides the attributes of the session cookie. In production
// the cookie is scoped to Domain so both applications can read it.
type CookiePolicy struct {
	Environment Environment
	Domain      string
}

func (p CookiePolicy) cookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		SameSite: http.SameSiteLaxMode,
	}
	if p.Environment == Production {
		c.Domain = p.Domain
		c.Secure = true
		c.SameSite = http.SameSiteStrictMode
	}
	return c
}

type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Manager creates, reads and clears sessions for one application origin.
type Manager struct {
	local  LocalStorage
	store  Store
	policy CookiePolicy
	secret []byte
	now    func() time.Time
	log    *utils.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager builds a manager over the origin's local storage and the shared
// sessions store.
func NewManager(local LocalStorage, store Store, policy CookiePolicy, secret string, logger *utils.Logger, opts ...Option) *Manager {
	m := &Manager{
		local:  local,
		store:  store,
		policy: policy,
		secret: []byte(secret),
		now:    func() time.Time { return time.Now().UTC() },
		log:    logger.WithField("component", "session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create issues a new session, replacing whatever both channels held.
func (m *Manager) Create(ctx context.Context, jar CookieJar, email, userID string, duration time.Duration) (*Session, error) {
	if duration <= 0 {
		duration = DefaultDuration
	}

	now := m.now().Truncate(time.Second)
	expiresAt := now.Add(duration)
	recordID := uuid.New().String()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        recordID,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}).SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	s := &Session{ID: userID, Email: email, Token: token, ExpiresAt: expiresAt}

	err = m.store.CreateSessionRecord(ctx, &models.SessionRecord{
		ID:        recordID,
		UserID:    userID,
		Email:     email,
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("record session: %w", err)
	}

	payload, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	if err := m.local.SetItem(StorageKey, string(payload)); err != nil {
		return nil, fmt.Errorf("write local storage: %w", err)
	}
	jar.SetCookie(m.policy.cookie(base64.StdEncoding.EncodeToString(payload), int(duration.Seconds())))

	m.log.WithField("user", userID).Info("session created, expires %s", expiresAt.Format(time.RFC3339))
	return s, nil
}

// Get returns the current session or nil. Local storage wins over the
// cookie; a valid cookie-only session is copied into local storage. An
// unparsable, expired, forged or revoked session is dropped from the channel
// that held it, so a stale local entry never hides a newer cookie.
func (m *Manager) Get(ctx context.Context, jar CookieJar) *Session {
	if n, err := m.store.PurgeExpiredSessions(ctx, m.now()); err != nil {
		m.log.Warn("purge expired sessions: %v", err)
	} else if n > 0 {
		m.log.Debug("purged %d expired sessions", n)
	}

	raw, ok, err := m.local.GetItem(StorageKey)
	if err != nil {
		m.log.Warn("read local session: %v", err)
		return nil
	}
	if ok && raw != "" {
		s, err := m.check(ctx, raw)
		switch {
		case err == nil:
			return s
		case !errors.Is(err, errStale):
			m.log.Warn("look up session record: %v", err)
			return nil
		}
		m.log.Info("dropping local session: %v", err)
		m.removeLocal()
	}

	raw, ok = m.readCookie(jar)
	if !ok {
		return nil
	}
	s, err := m.check(ctx, raw)
	if err != nil {
		if !errors.Is(err, errStale) {
			m.log.Warn("look up session record: %v", err)
			return nil
		}
		m.log.Info("dropping session cookie: %v", err)
		m.expireCookie(jar)
		return nil
	}

	payload, _ := json.Marshal(s)
	if err := m.local.SetItem(StorageKey, string(payload)); err != nil {
		m.log.Warn("sync session into local storage: %v", err)
	}
	return s
}

// Clear logs out: it removes local storage, expires the cookie and deletes the
// records of the sessions either channel held. Clearing without a session is
// a no-op.
func (m *Manager) Clear(ctx context.Context, jar CookieJar) {
	var revoked string
	if raw, ok, err := m.local.GetItem(StorageKey); err == nil && ok {
		if s, err := Decode(raw); err == nil {
			m.revoke(ctx, s)
			revoked = s.Token
		}
	}
	if raw, ok := m.readCookie(jar); ok {
		if s, err := Decode(raw); err == nil && s.Token != revoked {
			m.revoke(ctx, s)
		}
	}
	m.removeLocal()
	m.expireCookie(jar)
}

// errStale marks a session that must be dropped from its channel.
var errStale = errors.New("stale session")

// check validates a raw JSON session against the clock, the token signature
// and the sessions collection. Expired sessions have their record revoked.
func (m *Manager) check(ctx context.Context, raw string) (*Session, error) {
	s, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errStale, err)
	}

	if !m.now().Before(s.ExpiresAt) {
		m.revoke(ctx, s)
		return nil, fmt.Errorf("%w: user %s expired", errStale, s.ID)
	}

	jti, err := m.verify(s)
	if err != nil {
		return nil, fmt.Errorf("%w: user %s token: %v", errStale, s.ID, err)
	}

	live, err := m.recorded(ctx, s.ID, jti)
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, fmt.Errorf("%w: user %s revoked", errStale, s.ID)
	}
	return s, nil
}

// readCookie returns the decoded JSON carried by the session cookie. An
// undecodable cookie is expired.
func (m *Manager) readCookie(jar CookieJar) (string, bool) {
	cookie, ok := jar.Cookie(CookieName)
	if !ok || cookie == "" {
		return "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(cookie)
	if err != nil {
		if decoded, err = base64.RawURLEncoding.DecodeString(cookie); err != nil {
			m.log.Warn("undecodable session cookie: %v", err)
			m.expireCookie(jar)
			return "", false
		}
	}
	return string(decoded), true
}

// Decode parses a JSON session and checks its required fields.
func Decode(raw string) (*Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if s.ID == "" || s.Token == "" || s.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("%w: missing fields", ErrInvalidSession)
	}
	return &s, nil
}

// verify checks the token signature and that it describes s, returning the
// id of the session record it was issued with.
func (m *Manager) verify(s *Session) (string, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(s.Token, &claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return "", err
	}

	if claims.Subject != s.ID || claims.Email != s.Email {
		return "", errors.New("token does not match session")
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.Time.Equal(s.ExpiresAt) {
		return "", errors.New("token expiry does not match session")
	}
	return claims.ID, nil
}

func (m *Manager) recorded(ctx context.Context, userID, recordID string) (bool, error) {
	records, err := m.store.GetSessionRecordsByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if rec.ID == recordID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) revoke(ctx context.Context, s *Session) {
	records, err := m.store.GetSessionRecordsByUser(ctx, s.ID)
	if err != nil {
		m.log.Warn("look up sessions to revoke: %v", err)
		return
	}
	for _, rec := range records {
		if rec.Token != s.Token {
			continue
		}
		if err := m.store.DeleteSessionRecord(ctx, rec.ID); err != nil {
			m.log.Warn("delete session record %s: %v", rec.ID, err)
		}
	}
}

func (m *Manager) removeLocal() {
	if err := m.local.RemoveItem(StorageKey); err != nil {
		m.log.Warn("remove local session: %v", err)
	}
}

func (m *Manager) expireCookie(jar CookieJar) {
	jar.SetCookie(m.policy.cookie("", -1))
}
