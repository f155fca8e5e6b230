package pharmachat

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newIssuer(t *testing.T, ttl time.Duration) *TokenIssuer {
	t.Helper()
	ti, err := NewTokenIssuer("test-secret", ttl)
	if err != nil {
		t.Fatal(err)
	}
	return ti
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	ti := newIssuer(t, time.Hour)
	token, err := ti.GenerateToken("analyst")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	subject, err := ti.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "analyst" {
		t.Fatalf("expected subject analyst, got %q", subject)
	}
}

func TestTokenIssuer_Rejects(t *testing.T) {
	ti := newIssuer(t, time.Hour)

	t.Run("expired", func(t *testing.T) {
		token, err := newIssuer(t, time.Nanosecond).GenerateToken("analyst")
		if err != nil {
			t.Fatal(err)
		}
		time.Sleep(1100 * time.Millisecond)
		if _, err := ti.ValidateToken(token); err == nil {
			t.Fatal("expected expired token to be rejected")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, _ := NewTokenIssuer("other-secret", time.Hour)
		token, _ := other.GenerateToken("analyst")
		if _, err := ti.ValidateToken(token); err == nil {
			t.Fatal("expected signature mismatch")
		}
	})

	t.Run("no expiry", func(t *testing.T) {
		token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "analyst"}).SignedString([]byte("test-secret"))
		if _, err := ti.ValidateToken(token); err == nil {
			t.Fatal("expected token without exp to be rejected")
		}
	})

	t.Run("missing subject", func(t *testing.T) {
		token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte("test-secret"))
		if _, err := ti.ValidateToken(token); err == nil || !strings.Contains(err.Error(), "sub") {
			t.Fatalf("expected missing sub error, got %v", err)
		}
	})

	t.Run("none algorithm", func(t *testing.T) {
		token, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			"sub": "analyst",
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		if _, err := ti.ValidateToken(token); err == nil {
			t.Fatal("expected unsigned token to be rejected")
		}
	})
}

func TestNewTokenIssuer_Invalid(t *testing.T) {
	if _, err := NewTokenIssuer("", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewTokenIssuer("s", 0); err == nil {
		t.Fatal("expected error for zero expiry")
	}
	if _, err := newIssuer(t, time.Hour).GenerateToken(""); err == nil {
		t.Fatal("expected error for empty subject")
	}
}

func TestAuthMiddleware(t *testing.T) {
	ti := newIssuer(t, time.Hour)
	token, _ := ti.GenerateToken("analyst")

	var gotSubject string
	h := authMiddleware(ti, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name    string
		method  string
		path    string
		header  map[string]string
		want    int
		subject string
	}{
		{name: "public ui", method: "GET", path: "/", want: http.StatusNoContent},
		{name: "public health", method: "GET", path: "/health", want: http.StatusNoContent},
		{name: "preflight", method: "OPTIONS", path: "/api/chat", want: http.StatusNoContent},
		{name: "missing token", method: "POST", path: "/api/chat", want: http.StatusUnauthorized},
		{name: "wrong scheme", method: "POST", path: "/api/chat", header: map[string]string{"Authorization": "Basic " + token}, want: http.StatusUnauthorized},
		{name: "bad token", method: "POST", path: "/api/chat", header: map[string]string{"Authorization": "Bearer nope"}, want: http.StatusUnauthorized},
		{name: "valid token", method: "POST", path: "/api/chat", header: map[string]string{"Authorization": "Bearer " + token}, want: http.StatusNoContent, subject: "analyst"},
		{name: "query token ignored without upgrade", method: "GET", path: "/api/tools?access_token=" + token, want: http.StatusUnauthorized},
		{name: "query token on websocket", method: "GET", path: "/api/chat/ws?access_token=" + token, header: map[string]string{"Upgrade": "websocket"}, want: http.StatusNoContent, subject: "analyst"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSubject = ""
			req := httptest.NewRequest(tt.method, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d (%s)", tt.want, rec.Code, rec.Body.String())
			}
			if rec.Code == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Fatal("expected WWW-Authenticate header")
			}
			if gotSubject != tt.subject {
				t.Fatalf("expected subject %q, got %q", tt.subject, gotSubject)
			}
		})
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	if h := authMiddleware(nil, next); h == nil {
		t.Fatal("expected pass-through handler")
	}
	rec := httptest.NewRecorder()
	authMiddleware(nil, next).ServeHTTP(rec, httptest.NewRequest("POST", "/api/chat", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with auth disabled, got %d", rec.Code)
	}
}
