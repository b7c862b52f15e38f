// Package client talks to the analytics server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultCookieName matches the server's default session cookie.
const DefaultCookieName = "nos-auth"

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrNotFound     = errors.New("not found")
)

// APIError is a non-2xx response that maps to none of the sentinel errors.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL    string
	cookieName string
	client     *http.Client
}

// Option customizes a Client.
type Option func(*Client)

func WithCookieName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.cookieName = name
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		cookieName: DefaultCookieName,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body any, header http.Header) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, statusError(resp)
}

func statusError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusNotFound:
		return ErrNotFound
	}
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
	return &APIError{Status: resp.StatusCode, Message: payload.Error}
}

func (c *Client) getJSON(ctx context.Context, path, session string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, bearer(session))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Login exchanges the dashboard password for a session token taken from
// the response cookie.
func (c *Client) Login(ctx context.Context, password string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/auth", map[string]string{"password": password}, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	for _, ck := range resp.Cookies() {
		if ck.Name == c.cookieName && ck.Value != "" {
			return ck.Value, nil
		}
	}
	return "", fmt.Errorf("login response carried no %s cookie", c.cookieName)
}

// Collect sends one event to the collector endpoint. userAgent is optional.
func (c *Client) Collect(ctx context.Context, event map[string]any, userAgent string) error {
	header := http.Header{}
	if userAgent != "" {
		header.Set("User-Agent", userAgent)
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/collect", event, header)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func daysQuery(days int) string {
	if days <= 0 {
		return ""
	}
	return "?days=" + strconv.Itoa(days)
}

func (c *Client) Overview(ctx context.Context, session string, days int) (*Overview, error) {
	var out Overview
	if err := c.getJSON(ctx, "/api/dashboard"+daysQuery(days), session, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Site(ctx context.Context, session, site string, days int) (*SiteResult, error) {
	var out SiteResult
	if err := c.getJSON(ctx, "/api/dashboard/"+url.PathEscape(site)+daysQuery(days), session, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Errors(ctx context.Context, session, site string, limit int) ([]ErrorRecord, error) {
	path := "/api/errors/" + url.PathEscape(site)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Errors []ErrorRecord `json:"errors"`
	}
	if err := c.getJSON(ctx, path, session, &out); err != nil {
		return nil, err
	}
	return out.Errors, nil
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// A degraded server answers 503 with the same body.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, statusError(resp)
	}
	var out Health
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// Cleanup triggers retention maintenance with the cron secret.
func (c *Client) Cleanup(ctx context.Context, cronSecret string) (*CleanupResult, error) {
	header := http.Header{}
	if cronSecret != "" {
		header.Set("Authorization", "Bearer "+cronSecret)
	}
	resp, err := c.do(ctx, http.MethodGet, "/api/cron/cleanup", nil, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out CleanupResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func bearer(session string) http.Header {
	header := http.Header{}
	if session != "" {
		header.Set("Authorization", "Bearer "+session)
	}
	return header
}

// DLQ lists dead-lettered events. ErrNotFound means the server runs
// without a DLQ.
func (c *Client) DLQ(ctx context.Context, session string, limit int) (*DLQList, error) {
	path := "/api/dlq"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out DLQList
	if err := c.getJSON(ctx, path, session, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteDLQEntry(ctx context.Context, session, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/api/dlq/"+url.PathEscape(id), nil, bearer(session))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// PurgeDLQ drops every entry and returns how many were removed.
func (c *Client) PurgeDLQ(ctx context.Context, session string) (int, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/dlq/purge", nil, bearer(session))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	return out.Deleted, nil
}
