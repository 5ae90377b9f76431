// Package database provides the Supabase REST API client used by the
// gateway's persistence layers.
package database

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fotogem/studio-gateway/internal/httputil"
)

// Client wraps the Supabase REST API.
type Client struct {
	url        string
	serviceKey string
	httpClient *http.Client
}

// Config holds database configuration.
type Config struct {
	URL        string
	ServiceKey string
	Timeout    time.Duration
}

const (
	maxResponseBytes  = 8 << 20  // 8 MiB
	maxErrorBodyBytes = 32 << 10 // 32 KiB
)

// NewClient creates a new Supabase client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.ServiceKey == "" {
		return nil, fmt.Errorf("supabase service key is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	transport := http.DefaultTransport
	if base, ok := http.DefaultTransport.(*http.Transport); ok {
		cloned := base.Clone()
		if cloned.TLSClientConfig != nil {
			cloned.TLSClientConfig = cloned.TLSClientConfig.Clone()
			if cloned.TLSClientConfig.MinVersion < tls.VersionTLS12 {
				cloned.TLSClientConfig.MinVersion = tls.VersionTLS12
			}
		} else {
			cloned.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		transport = cloned
	}

	return &Client{
		url:        strings.TrimSuffix(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}, nil
}

// StatusError reports a non-2xx response from the Supabase REST API.
type StatusError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("supabase API error %d: %s", e.Status, e.Body)
}

// IsConflict reports whether err is a unique-constraint conflict (409).
func IsConflict(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusConflict
}

// Request makes a REST request against a table with the default
// return=representation preference.
func (c *Client) Request(ctx context.Context, method, table string, body any, query string) ([]byte, error) {
	return c.do(ctx, method, "/rest/v1/"+table, body, query, "return=representation")
}

// RequestWithPrefer makes a REST request with an explicit Prefer header.
func (c *Client) RequestWithPrefer(ctx context.Context, method, table string, body any, query, prefer string) ([]byte, error) {
	return c.do(ctx, method, "/rest/v1/"+table, body, query, prefer)
}

// RPC invokes a Postgres function exposed through PostgREST.
func (c *Client) RPC(ctx context.Context, fn string, params any) ([]byte, error) {
	return c.do(ctx, http.MethodPost, "/rest/v1/rpc/"+fn, params, "", "")
}

// HealthCheck verifies the REST endpoint is reachable and authorized.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/rest/v1/", nil, "", "")
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any, query, prefer string) ([]byte, error) {
	url := c.url + path
	if query != "" {
		url += "?" + query
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, truncated, readErr := httputil.ReadAllWithLimit(resp.Body, maxErrorBodyBytes)
		if readErr != nil {
			return nil, fmt.Errorf("read error response: %w", readErr)
		}
		msg := strings.TrimSpace(string(respBody))
		if truncated {
			msg += "...(truncated)"
		}
		return nil, &StatusError{Status: resp.StatusCode, Body: msg}
	}

	respBody, err := httputil.ReadAllStrict(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return respBody, nil
}
