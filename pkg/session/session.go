package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const (
	// DefaultCookieName is the session cookie name
	DefaultCookieName = "consolesso_session"
	// DefaultMaxAge bounds a session regardless of activity
	DefaultMaxAge = 12 * time.Hour

	minSecretLength = 32

	keyUserID    = "user_id"
	keyCreatedAt = "created_at"
)

// ErrNoSession is returned when the request carries no valid session
var ErrNoSession = errors.New("no session")

// Config holds session cookie settings
type Config struct {
	Secret     string
	CookieName string
	MaxAge     time.Duration
	Secure     bool
}

// Manager reads and writes the session cookie
type Manager struct {
	store  *sessions.CookieStore
	name   string
	maxAge time.Duration
	now    func() time.Time
}

// NewManager creates a session manager. The first 32 bytes of the secret
// authenticate the cookie and the next 32, when present, encrypt it.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes long", minSecretLength)
	}

	keys := [][]byte{[]byte(cfg.Secret[:minSecretLength])}
	if len(cfg.Secret) >= 2*minSecretLength {
		keys = append(keys, []byte(cfg.Secret[minSecretLength:2*minSecretLength]))
	}

	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}

	store := sessions.NewCookieStore(keys...)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &Manager{store: store, name: cfg.CookieName, maxAge: cfg.MaxAge, now: time.Now}, nil
}

// Login starts a fresh session for the user, discarding any previous one
func (m *Manager) Login(w http.ResponseWriter, r *http.Request, userID int64) error {
	sess, err := m.store.New(r, m.name)
	if sess == nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	sess.Values = map[interface{}]interface{}{
		keyUserID:    userID,
		keyCreatedAt: m.now().Unix(),
	}
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// UserID returns the user of the request's session
func (m *Manager) UserID(r *http.Request) (int64, error) {
	sess, err := m.store.Get(r, m.name)
	if err != nil || sess.IsNew {
		return 0, ErrNoSession
	}

	createdAt, ok := sess.Values[keyCreatedAt].(int64)
	if !ok || m.now().Sub(time.Unix(createdAt, 0)) > m.maxAge {
		return 0, ErrNoSession
	}

	userID, ok := sess.Values[keyUserID].(int64)
	if !ok || userID <= 0 {
		return 0, ErrNoSession
	}
	return userID, nil
}

// Destroy expires the session cookie
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request) error {
	sess, _ := m.store.Get(r, m.name)
	if sess == nil {
		return nil
	}
	sess.Values = map[interface{}]interface{}{}
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}
