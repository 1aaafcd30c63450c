// Package ozone is a stateless XRPC client for the external labeler's
// moderation surface. One Client is built per tenant credential; every
// call mints a fresh short-lived service token, so clients carry no
// session state and are safe to recreate per request.
package ozone

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
	"time"

	"github.com/arc-self/apps/labeler-bridge-service/internal/credentials"
	"github.com/arc-self/apps/labeler-bridge-service/internal/token"
)

const (
	pathQueryEvents   = "/xrpc/tools.ozone.moderation.queryEvents"
	pathEmitEvent     = "/xrpc/tools.ozone.moderation.emitEvent"
	pathQueryStatuses = "/xrpc/tools.ozone.moderation.queryStatuses"
	pathHealth        = "/xrpc/_health"

	requestTimeout = 10 * time.Second
	healthTimeout  = 5 * time.Second
)

// HTTPError reports a non-2xx response from the labeler.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("labeler returned %d: %s", e.StatusCode, e.Body)
}

var (
	// ErrTransport wraps connect/DNS/TLS/timeout failures.
	ErrTransport = errors.New("labeler transport error")
	// ErrMalformedResponse wraps JSON decode failures on a 2xx body.
	ErrMalformedResponse = errors.New("malformed labeler response")
)

// API is the protocol surface the bridge service consumes. Satisfied by
// *Client; mocked in service tests.
type API interface {
	QueryEvents(ctx context.Context, params QueryEventsParams) (*QueryEventsResponse, error)
	EmitEvent(ctx context.Context, input EmitEventInput) (*EmitEventResponse, error)
	QueryStatuses(ctx context.Context, params QueryStatusesParams) (*QueryStatusesResponse, error)
	Health(ctx context.Context) (*HealthResponse, error)
}

// Client talks XRPC to one tenant's labeler.
type Client struct {
	cred         *credentials.Credential
	minter       *token.Minter
	httpClient   *http.Client
	healthClient *http.Client
}

var _ API = (*Client)(nil)

// NewClient builds a client for the given credential. The underlying
// http.Clients carry the per-call timeouts; contexts may shorten them.
func NewClient(cred *credentials.Credential, minter *token.Minter) *Client {
	return &Client{
		cred:         cred,
		minter:       minter,
		httpClient:   &http.Client{Timeout: requestTimeout},
		healthClient: &http.Client{Timeout: healthTimeout},
	}
}

// QueryEvents pages the labeler's moderation event stream.
func (c *Client) QueryEvents(ctx context.Context, params QueryEventsParams) (*QueryEventsResponse, error) {
	q := url.Values{}
	if params.Cursor != "" {
		q.Set("cursor", params.Cursor)
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	for _, t := range params.Types {
		q.Add("types", t)
	}
	if params.Subject != "" {
		q.Set("subject", params.Subject)
	}
	if params.SortDirection != "" {
		q.Set("sortDirection", params.SortDirection)
	}
	if params.CreatedAfter != "" {
		q.Set("createdAfter", params.CreatedAfter)
	}
	if params.CreatedBefore != "" {
		q.Set("createdBefore", params.CreatedBefore)
	}

	var resp QueryEventsResponse
	if err := c.do(ctx, c.httpClient, http.MethodGet, pathQueryEvents, q, nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EmitEvent submits one moderation event.
func (c *Client) EmitEvent(ctx context.Context, input EmitEventInput) (*EmitEventResponse, error) {
	var resp EmitEventResponse
	if err := c.do(ctx, c.httpClient, http.MethodPost, pathEmitEvent, nil, input, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueryStatuses pages the labeler's subject review statuses.
func (c *Client) QueryStatuses(ctx context.Context, params QueryStatusesParams) (*QueryStatusesResponse, error) {
	q := url.Values{}
	if params.Cursor != "" {
		q.Set("cursor", params.Cursor)
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Subject != "" {
		q.Set("subject", params.Subject)
	}
	if params.ReviewState != "" {
		q.Set("reviewState", params.ReviewState)
	}

	var resp QueryStatusesResponse
	if err := c.do(ctx, c.httpClient, http.MethodGet, pathQueryStatuses, q, nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health probes the labeler's _health endpoint. Unauthenticated, 5 s
// budget.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, c.healthClient, http.MethodGet, pathHealth, nil, nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do runs one XRPC round trip: build URL under the tenant's service URL,
// mint a bearer token when required, send, map non-2xx to *HTTPError,
// decode the body into out.
func (c *Client) do(ctx context.Context, httpClient *http.Client, method, path string, query url.Values, body, out interface{}, authed bool) error {
	// Join rather than overwrite so a service URL with a path prefix
	// (https://host/labeler) keeps it.
	u := *c.cred.ServiceURL.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		bearer, err := c.minter.Mint(c.cred)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTransport, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Bounded read: error bodies are short, don't trust them to be.
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, path, err)
		}
	}
	return nil
}
