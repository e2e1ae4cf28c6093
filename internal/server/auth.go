package server

import (
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// Session represents a dashboard user session.
type Session struct {
	ID        string
	CSRFToken string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// loginLimiter rate-limits login attempts per client IP.
type loginLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newLoginLimiter(requests int, window time.Duration) *loginLimiter {
	return &loginLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(window / time.Duration(requests)),
		burst:    requests,
	}
}

// Allow reports whether a request from the given IP is under the limit.
func (l *loginLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = lim
	}
	return lim.Allow()
}

// Reset clears the limiter for an IP (on successful login).
func (l *loginLimiter) Reset(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, ip)
}

// AuthService is the session gate for dashboard-originated operations.
// The core trusts its boolean answers; credential material comes from
// configuration, never from agents.
type AuthService struct {
	cfg     *Config
	db      *sql.DB
	limiter *loginLimiter
}

// NewAuthService creates a new auth service.
func NewAuthService(cfg *Config, db *sql.DB) *AuthService {
	return &AuthService{
		cfg:     cfg,
		db:      db,
		limiter: newLoginLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
	}
}

// CheckPassword verifies the password against the configured hash.
func (a *AuthService) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(a.cfg.PasswordHash), []byte(password))
	return err == nil
}

// CheckTOTP verifies the TOTP code.
func (a *AuthService) CheckTOTP(code string) bool {
	if !a.cfg.HasTOTP() {
		return true // TOTP not required
	}
	return totp.Validate(code, a.cfg.TOTPSecret)
}

// CreateSession creates a new session and stores it in the database.
func (a *AuthService) CreateSession() (*Session, error) {
	sessionID, err := generateSecureToken(32)
	if err != nil {
		return nil, err
	}
	csrfToken, err := generateSecureToken(32)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:        sessionID,
		CSRFToken: csrfToken,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(a.cfg.SessionDuration),
	}

	_, err = a.db.Exec(
		`INSERT INTO sessions (id, csrf_token, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		session.ID, session.CSRFToken, session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	return session, nil
}

// GetSession retrieves a session from the database.
func (a *AuthService) GetSession(sessionID string) (*Session, error) {
	session := &Session{}
	err := a.db.QueryRow(
		`SELECT id, csrf_token, created_at, expires_at FROM sessions WHERE id = ?`,
		sessionID,
	).Scan(&session.ID, &session.CSRFToken, &session.CreatedAt, &session.ExpiresAt)
	if err != nil {
		return nil, err
	}

	if time.Now().After(session.ExpiresAt) {
		_ = a.DeleteSession(sessionID)
		return nil, sql.ErrNoRows
	}

	return session, nil
}

// DeleteSession removes a session from the database.
func (a *AuthService) DeleteSession(sessionID string) error {
	_, err := a.db.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID)
	return err
}

// ValidateCSRF checks if the CSRF token matches the session.
func (a *AuthService) ValidateCSRF(session *Session, token string) bool {
	return subtle.ConstantTimeCompare([]byte(session.CSRFToken), []byte(token)) == 1
}

// IsRateLimited checks if the IP is rate limited.
func (a *AuthService) IsRateLimited(ip string) bool {
	return !a.limiter.Allow(ip)
}

// ResetRateLimit clears rate limit for an IP.
func (a *AuthService) ResetRateLimit(ip string) {
	a.limiter.Reset(ip)
}

// SetSessionCookie sets the session cookie on the response.
func (a *AuthService) SetSessionCookie(w http.ResponseWriter, session *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     "fleetdeck_session",
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  session.ExpiresAt,
	})
}

// ClearSessionCookie clears the session cookie.
func (a *AuthService) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     "fleetdeck_session",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

// GetSessionFromRequest extracts the session from the request cookie.
func (a *AuthService) GetSessionFromRequest(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie("fleetdeck_session")
	if err != nil {
		return nil, err
	}
	return a.GetSession(cookie.Value)
}

// ValidateAgentToken checks if the agent token is valid.
func (a *AuthService) ValidateAgentToken(token string) bool {
	return subtle.ConstantTimeCompare([]byte(a.cfg.AgentToken), []byte(token)) == 1
}

func generateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}
