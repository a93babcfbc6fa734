// Package remote is the HTTP client for the flashsync CRUD API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperengineering/flashsync/internal/types"
)

const (
	cardSetsPath   = "/api/v1/cardsets"
	statisticsPath = "/api/v1/statistics"
	healthPath     = "/api/v1/health"

	maxErrorBody = 64 << 10
)

// Signer attaches credentials to an outgoing request.
type Signer interface {
	Sign(req *http.Request) error
}

// BearerToken signs requests with an Authorization bearer header.
// An empty token leaves the request unsigned.
type BearerToken string

func (t BearerToken) Sign(req *http.Request) error {
	if t != "" {
		req.Header.Set("Authorization", "Bearer "+string(t))
	}
	return nil
}

// Client talks to the flashsync API.
type Client struct {
	baseURL string
	signer  Signer
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithSigner sets the request signer.
func WithSigner(s Signer) Option {
	return func(c *Client) {
		c.signer = s
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// New creates a Client for baseURL, e.g. "https://api.example.com".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  BearerToken(""),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping checks that the API answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, healthPath, nil, nil)
}

// ListCardSets returns the caller's card sets.
func (c *Client) ListCardSets(ctx context.Context) ([]types.CardSet, error) {
	var out []types.CardSet
	if err := c.do(ctx, http.MethodGet, cardSetsPath, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCardSet returns one card set.
func (c *Client) GetCardSet(ctx context.Context, id string) (types.CardSet, error) {
	var out types.CardSet
	err := c.do(ctx, http.MethodGet, cardSetsPath+"/"+url.PathEscape(id), nil, &out)
	return out, err
}

// CreateCardSet creates a card set and returns the server's record.
func (c *Client) CreateCardSet(ctx context.Context, in types.CardSetInput) (types.CardSet, error) {
	var out types.CardSet
	err := c.do(ctx, http.MethodPost, cardSetsPath, in, &out)
	return out, err
}

// UpdateCardSet replaces a card set and returns the server's record.
func (c *Client) UpdateCardSet(ctx context.Context, id string, cs types.CardSet) (types.CardSet, error) {
	var out types.CardSet
	err := c.do(ctx, http.MethodPut, cardSetsPath+"/"+url.PathEscape(id), cs, &out)
	return out, err
}

// DeleteCardSet deletes a card set.
func (c *Client) DeleteCardSet(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, cardSetsPath+"/"+url.PathEscape(id), nil, nil)
}

// ListSessions returns the caller's study sessions.
func (c *Client) ListSessions(ctx context.Context) ([]types.StudySession, error) {
	var out []types.StudySession
	if err := c.do(ctx, http.MethodGet, statisticsPath, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession returns one study session.
func (c *Client) GetSession(ctx context.Context, id string) (types.StudySession, error) {
	var out types.StudySession
	err := c.do(ctx, http.MethodGet, statisticsPath+"/"+url.PathEscape(id), nil, &out)
	return out, err
}

// CreateSession records a study session and returns the server's record.
func (c *Client) CreateSession(ctx context.Context, in types.SessionInput) (types.StudySession, error) {
	var out types.StudySession
	err := c.do(ctx, http.MethodPost, statisticsPath, in, &out)
	return out, err
}

// UpdateSession replaces a study session and returns the server's record.
func (c *Client) UpdateSession(ctx context.Context, id string, s types.StudySession) (types.StudySession, error) {
	var out types.StudySession
	err := c.do(ctx, http.MethodPut, statisticsPath+"/"+url.PathEscape(id), s, &out)
	return out, err
}

// DeleteSession deletes a study session.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, statisticsPath+"/"+url.PathEscape(id), nil, nil)
}

// do sends an authenticated JSON request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: API URL not configured", ErrNetworkUnavailable)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.signer.Sign(req); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rejected := &RejectedError{Method: method, Path: path, StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if len(data) > 0 {
			_ = json.Unmarshal(data, &rejected.Problem)
		}
		return rejected
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
