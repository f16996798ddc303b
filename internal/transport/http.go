// Package transport provides the HTTP client used by the plain endpoint probes.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrInvalidBaseURL = errors.New("invalid base URL")
	ErrUnreachable    = errors.New("gateway unreachable")
	ErrProtocol       = errors.New("transport protocol error")
)

// HTTPTransport issues JSON requests against a gateway base URL.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures an HTTPTransport.
type Option func(*HTTPTransport)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTPTransport) { t.httpClient = c }
}

// NewHTTPTransport creates a transport for baseURL.
func NewHTTPTransport(baseURL string, opts ...Option) (*HTTPTransport, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	t := &HTTPTransport{
		baseURL: normalized,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// NormalizeBaseURL trims whitespace and trailing slashes and requires an http(s) scheme.
func NormalizeBaseURL(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", fmt.Errorf("%w: base URL cannot be empty", ErrInvalidBaseURL)
	}

	withoutTrailing := strings.TrimRight(trimmed, "/")
	if !strings.HasPrefix(withoutTrailing, "http://") && !strings.HasPrefix(withoutTrailing, "https://") {
		return "", fmt.Errorf("%w: base URL must start with http:// or https://", ErrInvalidBaseURL)
	}
	return withoutTrailing, nil
}

func normalizePath(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}

// BaseURL returns the normalized base URL.
func (t *HTTPTransport) BaseURL() string { return t.baseURL }

// WebSocketURL maps the base URL onto the ws:// or wss:// scheme.
func (t *HTTPTransport) WebSocketURL(path string) string {
	u := t.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	default:
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + normalizePath(path)
}

// GetJSON fetches path and decodes a JSON object. Any status other than 200 is an error.
func (t *HTTPTransport) GetJSON(ctx context.Context, path string) (map[string]any, error) {
	path = normalizePath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d for %s", ErrProtocol, resp.StatusCode, path)
	}
	return decodeObject(resp.Body, path)
}

// PostJSON posts body to path and returns the status code with the decoded JSON object.
func (t *HTTPTransport) PostJSON(ctx context.Context, path string, body any) (int, map[string]any, error) {
	path = normalizePath(path)
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := decodeObject(resp.Body, path)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, payload, nil
}

// Probe checks that the base URL answers HTTP at all. Any HTTP response counts;
// only network failures are reported, wrapped in ErrUnreachable.
func (t *HTTPTransport) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, t.baseURL, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func decodeObject(r io.Reader, path string) (map[string]any, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %s returned non-JSON body: %v", ErrProtocol, path, err)
	}
	return payload, nil
}
