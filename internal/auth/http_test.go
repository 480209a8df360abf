package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *HTTPProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewHTTPProvider(srv.URL, quietLogger())
	t.Cleanup(func() { p.Close() })
	return p
}

func TestSessionReturnsNilWhenSignedOut(t *testing.T) {
	statuses := []int{http.StatusUnauthorized, http.StatusNoContent}
	for _, status := range statuses {
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})

		s, err := p.Session(context.Background())
		if err != nil {
			t.Errorf("status %d: signed-out is not an error, got %v", status, err)
		}
		if s != nil {
			t.Errorf("status %d: expected nil session, got %+v", status, s)
		}
	}
}

func TestSessionServerErrorIsNotSignedOut(t *testing.T) {
	statuses := []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusForbidden}
	for _, status := range statuses {
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})

		s, err := p.Session(context.Background())
		if err == nil {
			t.Errorf("status %d: a failing service must surface as an error, not a sign-out", status)
		}
		if s != nil {
			t.Errorf("status %d: expected nil session, got %+v", status, s)
		}
	}
}

func TestSessionDecodesUser(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/auth/session" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Session{
			UserID:      "user-1",
			Email:       "u@example.com",
			AccessToken: "tok-1",
		})
	})

	s, err := p.Session(context.Background())
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if s == nil || s.UserID != "user-1" || s.AccessToken != "tok-1" {
		t.Errorf("session mismatch: %+v", s)
	}
}

func TestSessionWithoutUserIDReadsAsSignedOut(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	s, err := p.Session(context.Background())
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if s != nil {
		t.Errorf("empty payload should read as signed out, got %+v", s)
	}
}

func TestSignInWithEmailPostsAddress(t *testing.T) {
	var gotEmail string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/auth/magic-link" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotEmail = body["email"]
	})

	if err := p.SignInWithEmail(context.Background(), "u@example.com"); err != nil {
		t.Fatalf("SignInWithEmail: %v", err)
	}
	if gotEmail != "u@example.com" {
		t.Errorf("posted email %q", gotEmail)
	}
}

func TestSignInWithEmailRejection(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	if err := p.SignInWithEmail(context.Background(), "broken"); err == nil {
		t.Error("expected an error on rejection")
	}
}

func TestSignOutToleratesAlreadySignedOut(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	if err := p.SignOut(context.Background()); err != nil {
		t.Errorf("sign-out of a dead session should succeed, got %v", err)
	}
}
