// Package backend is the REST client for the incident-reporting backend.
//
// Responses are returned as decoded JSON (interface{}) rather than typed
// structs: the backend is inconsistent about key casing and envelopes, and
// the normalize package owns making sense of it.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opsdesk/triage-console/internal/models"
)

var (
	// ErrUnauthorized matches 401/403 responses
	ErrUnauthorized = errors.New("backend rejected credentials")
	// ErrNotFound matches 404 responses
	ErrNotFound = errors.New("backend resource not found")
)

// HTTPError is a non-2xx backend response
type HTTPError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("backend %s %s returned %d: %s", e.Method, e.Path, e.Status, msg)
}

// Is lets errors.Is match the sentinel errors by status code
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// Client talks to the reporting backend
type Client struct {
	base       string
	httpClient *http.Client
	token      string
	logger     *zap.SugaredLogger
}

// Option is a functional option for configuring a Client
type Option func(*Client)

// WithHTTPClient sets a custom http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout of the default http.Client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: d}
	}
}

// WithLogger attaches a logger for request tracing
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a backend client rooted at base (e.g. "https://reports.internal")
func New(base string, opts ...Option) *Client {
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// WithToken returns a copy of the client that authenticates as the holder of
// token. The receiver is not modified.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// LoginResult is what the backend returns for a successful login
type LoginResult struct {
	Token   string
	Profile map[string]interface{}
}

// Login exchanges credentials for a backend token and profile
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var payload interface{}
	body := map[string]string{"email": email, "password": password}
	if err := c.call(ctx, http.MethodPost, "/api/auth/login", nil, body, &payload); err != nil {
		return nil, err
	}

	rec, _ := payload.(map[string]interface{})
	res := &LoginResult{Profile: map[string]interface{}{}}
	for _, key := range []string{"token", "Token", "accessToken", "access_token", "AccessToken"} {
		if tok, ok := rec[key].(string); ok && tok != "" {
			res.Token = tok
			break
		}
	}
	for _, key := range []string{"user", "User", "profile", "Profile", "data", "Data"} {
		if prof, ok := rec[key].(map[string]interface{}); ok {
			res.Profile = prof
			break
		}
	}
	if res.Token == "" {
		return nil, fmt.Errorf("login response carried no token")
	}
	return res, nil
}

// Logout ends the backend session
func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/api/auth/logout", nil, nil, nil)
}

// Profile returns the current backend profile, or nil when the backend has
// none for this token.
func (c *Client) Profile(ctx context.Context) (map[string]interface{}, error) {
	var payload interface{}
	if err := c.call(ctx, http.MethodGet, "/api/auth/profile", nil, nil, &payload); err != nil {
		return nil, err
	}
	rec, ok := payload.(map[string]interface{})
	if !ok || len(rec) == 0 {
		return nil, nil
	}
	for _, key := range []string{"user", "User", "profile", "Profile", "data", "Data"} {
		if inner, ok := rec[key].(map[string]interface{}); ok {
			return inner, nil
		}
	}
	return rec, nil
}

// ListReports fetches the report list, optionally scoped to a department
func (c *Client) ListReports(ctx context.Context, department string) (interface{}, error) {
	var q url.Values
	if department != "" {
		q = url.Values{"department": {department}}
	}
	var payload interface{}
	err := c.call(ctx, http.MethodGet, "/api/reports", q, nil, &payload)
	return payload, err
}

// GetReport fetches the detail projection of one report
func (c *Client) GetReport(ctx context.Context, id string) (interface{}, error) {
	var payload interface{}
	err := c.call(ctx, http.MethodGet, "/api/reports/"+url.PathEscape(id), nil, nil, &payload)
	return payload, err
}

// SaveReport applies classification changes and an optional comment
func (c *Client) SaveReport(ctx context.Context, id string, req models.SaveRequest) error {
	return c.call(ctx, http.MethodPost, "/api/reports/"+url.PathEscape(id)+"/save", nil, req, nil)
}

// SendReport forwards the report downstream
func (c *Client) SendReport(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/api/reports/"+url.PathEscape(id)+"/send", nil, nil, nil)
}

// ListComments fetches the dedicated comment thread of a report
func (c *Client) ListComments(ctx context.Context, id string) (interface{}, error) {
	var payload interface{}
	err := c.call(ctx, http.MethodGet, "/api/reports/"+url.PathEscape(id)+"/comments", nil, nil, &payload)
	return payload, err
}

// AddComment posts a comment outside the save path
func (c *Client) AddComment(ctx context.Context, id, text string) error {
	body := map[string]string{"text": text}
	return c.call(ctx, http.MethodPost, "/api/reports/"+url.PathEscape(id)+"/comments", nil, body, nil)
}

// Dropdown fetches one lookup enumeration
func (c *Client) Dropdown(ctx context.Context, kind string) (interface{}, error) {
	var payload interface{}
	err := c.call(ctx, http.MethodGet, "/api/dropdowns/"+url.PathEscape(kind), nil, nil, &payload)
	return payload, err
}

// List fetches a directory collection ("users", "departments", "locations")
func (c *Client) List(ctx context.Context, resource string) (interface{}, error) {
	var payload interface{}
	err := c.call(ctx, http.MethodGet, "/api/"+resource, nil, nil, &payload)
	return payload, err
}

// Create posts a new directory record and returns the server's copy
func (c *Client) Create(ctx context.Context, resource string, body interface{}) (interface{}, error) {
	path := "/api/" + resource
	if resource == "users" {
		path = "/api/users/register"
	}
	var payload interface{}
	err := c.call(ctx, http.MethodPost, path, nil, body, &payload)
	return payload, err
}

// Update replaces a directory record and returns the server's copy
func (c *Client) Update(ctx context.Context, resource, id string, body interface{}) (interface{}, error) {
	var payload interface{}
	err := c.call(ctx, http.MethodPut, "/api/"+resource+"/"+url.PathEscape(id), nil, body, &payload)
	return payload, err
}

// Delete removes a directory record
func (c *Client) Delete(ctx context.Context, resource, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/"+resource+"/"+url.PathEscape(id), nil, nil, nil)
}

// call performs one JSON request. out may be nil when the body is ignored.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read backend response: %w", err)
	}

	c.logger.Debugw("Backend call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"latency", time.Since(start),
	)

	if resp.StatusCode >= 300 {
		return &HTTPError{Method: method, Path: path, Status: resp.StatusCode, Body: string(body)}
	}

	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode backend response: %w", err)
		}
	}
	return nil
}
