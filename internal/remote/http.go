package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// TokenFunc supplies the current session access token. It is consulted
// per request because the token changes across sign-in/sign-out.
type TokenFunc func() string

// HTTPGateway implements Gateway against the hosted REST data service.
// It handles Bearer token authentication, JSON marshaling, and automatic
// retry with exponential backoff on HTTP 429.
type HTTPGateway struct {
	baseURL    string
	token      TokenFunc
	httpClient *http.Client
	maxRetries int
	pollEvery  time.Duration
	log        *logrus.Logger
}

// NewHTTPGateway creates a gateway client. The baseURL should be the
// root URL of the data service. token may be nil for unauthenticated use.
func NewHTTPGateway(baseURL string, token TokenFunc, pollEvery time.Duration, log *logrus.Logger) *HTTPGateway {
	if token == nil {
		token = func() string { return "" }
	}
	if log == nil {
		log = logrus.New()
	}
	if pollEvery <= 0 {
		pollEvery = 5 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: 3,
		pollEvery:  pollEvery,
		log:        log,
	}
}

// List implements Gateway.List.
func (g *HTTPGateway) List(ctx context.Context, table Table, ownerID, orderBy string, out any) error {
	q := url.Values{}
	q.Set("owner_id", ownerID)
	q.Set("order", orderBy)
	path := fmt.Sprintf("/v1/%s?%s", table, q.Encode())
	return g.do(ctx, http.MethodGet, path, nil, nil, out)
}

// Get implements Gateway.Get.
func (g *HTTPGateway) Get(ctx context.Context, table Table, id string, out any) error {
	path := fmt.Sprintf("/v1/%s/%s", table, url.PathEscape(id))
	return g.do(ctx, http.MethodGet, path, nil, nil, out)
}

// Insert implements Gateway.Insert.
func (g *HTTPGateway) Insert(ctx context.Context, table Table, record any) error {
	return g.do(ctx, http.MethodPost, fmt.Sprintf("/v1/%s", table), nil, record, nil)
}

// Update implements Gateway.Update. The version predicate travels in the
// If-Match-Version header; the service answers 409 when it misses.
func (g *HTTPGateway) Update(ctx context.Context, table Table, id string, record any, expect int64) error {
	path := fmt.Sprintf("/v1/%s/%s", table, url.PathEscape(id))
	var hdr http.Header
	if expect != VersionAny {
		hdr = http.Header{"If-Match-Version": []string{strconv.FormatInt(expect, 10)}}
	}
	return g.do(ctx, http.MethodPut, path, hdr, record, nil)
}

// Delete implements Gateway.Delete.
func (g *HTTPGateway) Delete(ctx context.Context, table Table, id string) error {
	path := fmt.Sprintf("/v1/%s/%s", table, url.PathEscape(id))
	err := g.do(ctx, http.MethodDelete, path, nil, nil, nil)
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

// DeleteWhere implements Gateway.DeleteWhere.
func (g *HTTPGateway) DeleteWhere(ctx context.Context, table Table, field, value string) error {
	q := url.Values{}
	q.Set(field, value)
	path := fmt.Sprintf("/v1/%s?%s", table, q.Encode())
	return g.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// BulkUpsert implements Gateway.BulkUpsert.
func (g *HTTPGateway) BulkUpsert(ctx context.Context, table Table, records any) error {
	return g.do(ctx, http.MethodPost, fmt.Sprintf("/v1/%s/bulk", table), nil, records, nil)
}

// ReassignOwner implements Gateway.ReassignOwner.
func (g *HTTPGateway) ReassignOwner(ctx context.Context, fromID, toID string) error {
	body := map[string]string{"from": fromID, "to": toID}
	return g.do(ctx, http.MethodPost, "/v1/reassign-owner", nil, body, nil)
}

// do is the core HTTP method that builds the request, handles auth,
// rate limiting with exponential backoff, and JSON (de)serialization.
func (g *HTTPGateway) do(
	ctx context.Context,
	method string,
	path string,
	header http.Header,
	body any,
	result any,
) error {
	requestURL := g.baseURL + path

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if tok := g.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("%w: reading response body: %v", ErrNetwork, readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			waitDuration := retryAfterDuration(resp, attempt)
			lastErr = fmt.Errorf("rate limited (429) on %s %s", method, path)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
			}
			continue
		}

		if err := statusError(resp.StatusCode, method, path, respBody); err != nil {
			return err
		}

		if result != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, result); err != nil {
				return fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err)
			}
		}
		return nil
	}

	return lastErr
}

// statusError maps an HTTP status to the gateway error taxonomy.
func statusError(status int, method, path string, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %s %s", ErrVersionConflict, method, path)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s (status %d)", ErrUnauthorized, method, path, status)
	default:
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrNetwork, method, path, status, msg)
	}
}

// retryAfterDuration computes how long to wait before retrying a 429,
// honoring the Retry-After header when present and falling back to
// exponential backoff.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// isNotFound reports whether err is the gateway's not-found error.
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
