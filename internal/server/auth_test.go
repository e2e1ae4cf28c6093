package server

import (
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/fleetdeck/fleetdeck/internal/store"
)

func newTestAuth(t *testing.T) *AuthService {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	st, err := store.Open(t.TempDir() + "/auth.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := &Config{
		PasswordHash:      string(hash),
		AgentToken:        "agent-token-123",
		SessionDuration:   time.Hour,
		RateLimitRequests: 3,
		RateLimitWindow:   time.Minute,
	}
	return NewAuthService(cfg, st.DB())
}

func TestCheckPassword(t *testing.T) {
	auth := newTestAuth(t)
	if !auth.CheckPassword("hunter2") {
		t.Error("correct password rejected")
	}
	if auth.CheckPassword("wrong") {
		t.Error("wrong password accepted")
	}
}

func TestSessionLifecycle(t *testing.T) {
	auth := newTestAuth(t)

	session, err := auth.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := auth.GetSession(session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.CSRFToken != session.CSRFToken {
		t.Error("csrf token mismatch")
	}
	if !auth.ValidateCSRF(got, session.CSRFToken) {
		t.Error("valid csrf token rejected")
	}
	if auth.ValidateCSRF(got, "forged") {
		t.Error("forged csrf token accepted")
	}

	if err := auth.DeleteSession(session.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := auth.GetSession(session.ID); err == nil {
		t.Error("deleted session still valid")
	}
}

func TestLoginRateLimit(t *testing.T) {
	auth := newTestAuth(t)

	for i := 0; i < 3; i++ {
		if auth.IsRateLimited("10.0.0.1") {
			t.Fatalf("limited after %d attempts, burst is 3", i)
		}
	}
	if !auth.IsRateLimited("10.0.0.1") {
		t.Error("fourth attempt not limited")
	}
	if auth.IsRateLimited("10.0.0.2") {
		t.Error("limit leaked across IPs")
	}

	auth.ResetRateLimit("10.0.0.1")
	if auth.IsRateLimited("10.0.0.1") {
		t.Error("still limited after reset")
	}
}

func TestValidateAgentToken(t *testing.T) {
	auth := newTestAuth(t)
	if !auth.ValidateAgentToken("agent-token-123") {
		t.Error("configured token rejected")
	}
	if auth.ValidateAgentToken("nope") {
		t.Error("wrong token accepted")
	}
}
