// Package client provides a typed Go client for the settlement node's read
// API.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Mindburn-Labs/helm/settlement/pkg/api"
	"github.com/Mindburn-Labs/helm/settlement/pkg/arbiter/vote"
	"github.com/Mindburn-Labs/helm/settlement/pkg/observability"
	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
)

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	Status int
	Title  string
	Detail string
	Code   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("settlement api %d: %s (%s)", e.Status, e.Detail, e.Code)
	}
	return fmt.Sprintf("settlement api %d: %s", e.Status, e.Title)
}

// Kind maps the error code back to its protocol error kind.
func (e *APIError) Kind() protoerr.Kind {
	const prefix = "SETTLE/CORE/"
	if len(e.Code) > len(prefix) && e.Code[:len(prefix)] == prefix {
		return protoerr.Kind(e.Code[len(prefix):])
	}
	return protoerr.KindInternal
}

// Client is a typed client for one node.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a new Client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures the client.
type Option func(*Client)

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var problem api.ProblemDetail
		if err := json.NewDecoder(resp.Body).Decode(&problem); err == nil {
			return &APIError{Status: resp.StatusCode, Title: problem.Title, Detail: problem.Detail, Code: problem.Code}
		}
		return &APIError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Health calls GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	if err := c.get(ctx, "/healthz", &out); err != nil {
		return err
	}
	if out["status"] != "ok" {
		return fmt.Errorf("node reports status %q", out["status"])
	}
	return nil
}

// Schemas calls GET /v1/schemas.
func (c *Client) Schemas(ctx context.Context) ([]registry.Schema, error) {
	var out []registry.Schema
	err := c.get(ctx, "/v1/schemas", &out)
	return out, err
}

// LookupSchema returns the newest schema named name matching constraint.
func (c *Client) LookupSchema(ctx context.Context, name, constraint string) (registry.Schema, error) {
	q := url.Values{"name": {name}, "constraint": {constraint}}
	var out registry.Schema
	err := c.get(ctx, "/v1/schemas?"+q.Encode(), &out)
	return out, err
}

// Record calls GET /v1/records/{uid}.
func (c *Client) Record(ctx context.Context, uid registry.UID) (registry.Record, error) {
	var out registry.Record
	err := c.get(ctx, "/v1/records/"+url.PathEscape(string(uid)), &out)
	return out, err
}

// Escrow calls GET /v1/escrows/{kind}/{uid}.
func (c *Client) Escrow(ctx context.Context, kind string, uid registry.UID) (api.EscrowView, error) {
	var out api.EscrowView
	err := c.get(ctx, "/v1/escrows/"+url.PathEscape(kind)+"/"+url.PathEscape(string(uid)), &out)
	return out, err
}

// VoteSession calls GET /v1/votes/{subject} for an encoded vote demand.
func (c *Client) VoteSession(ctx context.Context, subject registry.UID, demand []byte) (vote.Session, error) {
	var out vote.Session
	path := "/v1/votes/" + url.PathEscape(string(subject)) + "?demand=" + base64.URLEncoding.EncodeToString(demand)
	err := c.get(ctx, path, &out)
	return out, err
}

// SLO calls GET /v1/slo.
func (c *Client) SLO(ctx context.Context) ([]observability.SLOStatus, error) {
	var out []observability.SLOStatus
	err := c.get(ctx, "/v1/slo", &out)
	return out, err
}
