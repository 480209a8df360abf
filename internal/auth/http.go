package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// sessionPollInterval is how often the HTTP provider checks for session
// transitions completed out-of-band (magic link opened in a browser,
// OAuth callback handled elsewhere).
const sessionPollInterval = 3 * time.Second

// HTTPProvider implements Provider against the hosted auth service.
// Session transitions are detected by polling the session endpoint and
// comparing user ids across polls.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
	events     chan Event
	stopCh     chan struct{}
	log        *logrus.Logger
}

// NewHTTPProvider creates an auth client rooted at baseURL and starts
// watching for session transitions.
func NewHTTPProvider(baseURL string, log *logrus.Logger) *HTTPProvider {
	if log == nil {
		log = logrus.New()
	}
	p := &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		events: make(chan Event, 8),
		stopCh: make(chan struct{}),
		log:    log,
	}
	go p.watchSession()
	return p
}

// Session implements Provider.Session. Only a 401 or an empty 2xx body
// means "no session" and reports as (nil, nil); any other failure is an
// error, so a flaky service cannot read as a sign-out.
func (p *HTTPProvider) Session(ctx context.Context) (*Session, error) {
	var s Session
	status, err := p.do(ctx, http.MethodGet, "/v1/auth/session", nil, &s)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusNoContent {
		return nil, nil
	}
	if status >= 300 {
		return nil, fmt.Errorf("session lookup failed (status %d)", status)
	}
	if s.UserID == "" {
		return nil, nil
	}
	return &s, nil
}

// SignInWithEmail implements Provider.SignInWithEmail.
func (p *HTTPProvider) SignInWithEmail(ctx context.Context, address string) error {
	body := map[string]string{"email": address}
	status, err := p.do(ctx, http.MethodPost, "/v1/auth/magic-link", body, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("magic-link request rejected (status %d)", status)
	}
	return nil
}

// SignInWithOAuth implements Provider.SignInWithOAuth.
func (p *HTTPProvider) SignInWithOAuth(ctx context.Context, provider string) error {
	status, err := p.do(ctx, http.MethodPost, "/v1/auth/oauth/"+provider, nil, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("oauth start with %s rejected (status %d)", provider, status)
	}
	return nil
}

// SignOut implements Provider.SignOut.
func (p *HTTPProvider) SignOut(ctx context.Context) error {
	status, err := p.do(ctx, http.MethodPost, "/v1/auth/signout", nil, nil)
	if err != nil {
		return err
	}
	if status >= 300 && status != http.StatusUnauthorized {
		return fmt.Errorf("sign-out rejected (status %d)", status)
	}
	return nil
}

// Events implements Provider.Events.
func (p *HTTPProvider) Events() <-chan Event {
	return p.events
}

// Close implements Provider.Close.
func (p *HTTPProvider) Close() error {
	close(p.stopCh)
	return nil
}

// watchSession polls the session endpoint and emits sign-in/sign-out
// events when the observed user id changes.
func (p *HTTPProvider) watchSession() {
	defer close(p.events)

	ticker := time.NewTicker(sessionPollInterval)
	defer ticker.Stop()

	var currentUser string
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		s, err := p.Session(ctx)
		cancel()
		if err != nil {
			p.log.WithError(err).Debug("session poll failed")
			continue
		}

		switch {
		case s != nil && s.UserID != currentUser:
			currentUser = s.UserID
			p.emit(Event{Kind: EventSignedIn, Session: s})
		case s == nil && currentUser != "":
			currentUser = ""
			p.emit(Event{Kind: EventSignedOut})
		}
	}
}

// emit sends an event without blocking the watch loop.
func (p *HTTPProvider) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		// Drop if the consumer is behind; the next poll re-detects state.
	}
}

// do performs one JSON request and returns the response status. Only
// 2xx bodies are decoded into result.
func (p *HTTPProvider) do(ctx context.Context, method, path string, body, result any) (int, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("executing request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading response body: %w", err)
	}

	if result != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return resp.StatusCode, fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}
