package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// TestClient provides HTTP client utilities for testing
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTestClient creates a new test HTTP client
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// RequestOption configures HTTP requests
type RequestOption func(*http.Request)

// WithHeader adds a header to the request
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// WithQuery adds query parameters
func WithQuery(params map[string]string) RequestOption {
	return func(r *http.Request) {
		q := r.URL.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		r.URL.RawQuery = q.Encode()
	}
}

// Response wraps HTTP response with helpers
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals response body into v
func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// String returns response body as string
func (r *Response) String() string {
	return string(r.Body)
}

// IsSuccess returns true if status code is 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Get performs HTTP GET request
func (c *TestClient) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil, opts...)
}

// Post performs HTTP POST request with JSON body
func (c *TestClient) Post(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body, opts...)
}

// Delete performs HTTP DELETE request
func (c *TestClient) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil, opts...)
}

// do performs the actual HTTP request
func (c *TestClient) do(ctx context.Context, method, path string, body interface{}, opts ...RequestOption) (*Response, error) {
	fullURL := c.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

// ---- Session Helpers ----

// CreateSessionRequest mirrors the POST /session body.
type CreateSessionRequest struct {
	TaskRef string   `json:"taskRef,omitempty"`
	Persona string   `json:"persona,omitempty"`
	Backend string   `json:"backend,omitempty"`
	Prompt  string   `json:"prompt,omitempty"`
	Queue   []string `json:"queue,omitempty"`
}

// CreateSession creates a new session
func (c *TestClient) CreateSession(ctx context.Context, req CreateSessionRequest) (*types.Session, error) {
	resp, err := c.Post(ctx, "/session", req)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to create session: %d - %s", resp.StatusCode, resp.String())
	}

	var session types.Session
	if err := resp.JSON(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession retrieves a session by ID
func (c *TestClient) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	resp, err := c.Get(ctx, "/session/"+sessionID)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to get session: %d - %s", resp.StatusCode, resp.String())
	}

	var session types.Session
	if err := resp.JSON(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions lists all sessions
func (c *TestClient) ListSessions(ctx context.Context) ([]types.Session, error) {
	resp, err := c.Get(ctx, "/session")
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to list sessions: %d - %s", resp.StatusCode, resp.String())
	}

	var sessions []types.Session
	if err := resp.JSON(&sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// DeleteSession terminates and removes a session
func (c *TestClient) DeleteSession(ctx context.Context, sessionID string) error {
	resp, err := c.Delete(ctx, "/session/"+sessionID)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("failed to delete session: %d - %s", resp.StatusCode, resp.String())
	}
	return nil
}

// SendMessage starts the session's next turn with the given text.
func (c *TestClient) SendMessage(ctx context.Context, sessionID, text string) error {
	resp, err := c.Post(ctx, "/session/"+sessionID+"/message", map[string]string{"text": text})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("failed to send message: %d - %s", resp.StatusCode, resp.String())
	}
	return nil
}

// Enqueue appends prompts to the session's turn queue.
func (c *TestClient) Enqueue(ctx context.Context, sessionID string, prompts []string) (*types.Session, error) {
	resp, err := c.Post(ctx, "/session/"+sessionID+"/queue", map[string][]string{"prompts": prompts})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to enqueue: %d - %s", resp.StatusCode, resp.String())
	}

	var session types.Session
	if err := resp.JSON(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Interrupt signals the session's running turn.
func (c *TestClient) Interrupt(ctx context.Context, sessionID string) error {
	resp, err := c.Post(ctx, "/session/"+sessionID+"/interrupt", struct{}{})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("failed to interrupt: %d - %s", resp.StatusCode, resp.String())
	}
	return nil
}

// Handover switches the session to interactive mode.
func (c *TestClient) Handover(ctx context.Context, sessionID string) (*types.Session, error) {
	resp, err := c.Post(ctx, "/session/"+sessionID+"/handover", struct{}{})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to handover: %d - %s", resp.StatusCode, resp.String())
	}

	var session types.Session
	if err := resp.JSON(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

// SetActive marks the session as the focused one.
func (c *TestClient) SetActive(ctx context.Context, sessionID string) error {
	resp, err := c.Post(ctx, "/session/"+sessionID+"/active", struct{}{})
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("failed to set active: %d - %s", resp.StatusCode, resp.String())
	}
	return nil
}

// ---- Descriptor Helpers ----

// ListBackends lists registered backends
func (c *TestClient) ListBackends(ctx context.Context) ([]types.BackendInfo, error) {
	resp, err := c.Get(ctx, "/backend")
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to list backends: %d - %s", resp.StatusCode, resp.String())
	}

	var backends []types.BackendInfo
	if err := resp.JSON(&backends); err != nil {
		return nil, err
	}
	return backends, nil
}

// ListPersonas lists available personas
func (c *TestClient) ListPersonas(ctx context.Context) ([]types.PersonaInfo, error) {
	resp, err := c.Get(ctx, "/persona")
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to list personas: %d - %s", resp.StatusCode, resp.String())
	}

	var personas []types.PersonaInfo
	if err := resp.JSON(&personas); err != nil {
		return nil, err
	}
	return personas, nil
}

// ListTasks lists tasks from the external feed
func (c *TestClient) ListTasks(ctx context.Context) ([]types.Task, error) {
	resp, err := c.Get(ctx, "/task")
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to list tasks: %d - %s", resp.StatusCode, resp.String())
	}

	var tasks []types.Task
	if err := resp.JSON(&tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}
