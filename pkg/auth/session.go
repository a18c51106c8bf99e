// Package auth issues and validates workspace session tokens. The core
// store does not enforce permissions itself; the API layer uses the
// session's role to gate mutations.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/opatlas/opatlas/pkg/config"
)

// Role is a member's permission level inside a workspace.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Session identifies the calling user and their workspace role.
type Session struct {
	UserID      string
	Name        string
	Email       string
	WorkspaceID string
	Role        Role
}

// CanEdit reports whether the session may mutate workspace records.
// Viewers are read-only.
func (s Session) CanEdit() bool {
	return s.Role == RoleOwner || s.Role == RoleEditor
}

// DemoSession is the implied session when auth is disabled. It mirrors
// the demo-mode user the web client assumes.
func DemoSession() Session {
	return Session{
		UserID:      "1",
		Name:        "Demo User",
		Email:       "demo@opatlas.com",
		WorkspaceID: "1",
		Role:        RoleOwner,
	}
}

// sessionClaims is the JWT claim set carried by session tokens.
type sessionClaims struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// Manager signs and validates session tokens with a shared HS256 secret.
type Manager struct {
	log     logrus.FieldLogger
	enabled bool
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewManager creates a session manager from config.
func NewManager(log logrus.FieldLogger, cfg config.AuthConfig) *Manager {
	return &Manager{
		log:     log.WithField("component", "auth"),
		enabled: cfg.Enabled,
		secret:  []byte(cfg.SecretKey),
		ttl:     cfg.TokenTTL,
		now:     time.Now,
	}
}

// Issue signs a session token for s.
func (m *Manager) Issue(s Session) (string, error) {
	now := m.now()

	claims := sessionClaims{
		Name:        s.Name,
		Email:       s.Email,
		WorkspaceID: s.WorkspaceID,
		Role:        string(s.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a session token.
func (m *Manager) Validate(tokenString string) (Session, error) {
	claims := &sessionClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return Session{}, fmt.Errorf("parsing session token: %w", err)
	}
	if !token.Valid {
		return Session{}, fmt.Errorf("invalid session token")
	}

	return Session{
		UserID:      claims.Subject,
		Name:        claims.Name,
		Email:       claims.Email,
		WorkspaceID: claims.WorkspaceID,
		Role:        Role(claims.Role),
	}, nil
}

// sessionContextKey is the context key for the request session.
type sessionContextKey struct{}

// WithSession adds a session to the context.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// FromContext retrieves the session from context.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(Session)
	return s, ok
}

// Middleware resolves the request's session. When auth is disabled every
// request gets the demo session; otherwise a valid Bearer token is
// required.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), DemoSession())))
			return
		}

		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		session, err := m.Validate(tokenString)
		if err != nil {
			m.log.WithError(err).Debug("Session validation failed")
			http.Error(w, "invalid session token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
	})
}
