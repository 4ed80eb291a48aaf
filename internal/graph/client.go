package graph

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

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the Microsoft Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

const requestTimeout = 30 * time.Second

// TokenSource supplies a bearer token for one office account. Implemented
// by the auth package; refresh and rotation happen behind this interface.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token. Used in tests and
// in the consent callback where a fresh token is already in hand.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

// Client issues authenticated requests against Microsoft Graph.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the Graph endpoint. Used by tests to point the
// client at a local fake.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRateLimit throttles outgoing requests.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a Graph client using the given token source.
func NewClient(tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get issues a GET and decodes the JSON object response.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (map[string]any, error) {
	body, _, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	return decodeObject(body)
}

// PostJSON issues a POST with a JSON body. It returns the created object's
// id: from the response body when present, otherwise extracted from the
// Location header using the collection name.
func (c *Client) PostJSON(ctx context.Context, path string, payload map[string]any, collection string) (string, map[string]any, error) {
	body, header, err := c.do(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		return "", nil, err
	}

	obj, err := decodeObject(body)
	if err != nil {
		obj = nil
	}
	if obj != nil {
		if id, ok := obj["id"].(string); ok && id != "" {
			return id, obj, nil
		}
	}

	return ExtractCreatedID(header.Get("Location"), collection), obj, nil
}

// PatchJSON issues a PATCH with a JSON body.
func (c *Client) PatchJSON(ctx context.Context, path string, payload map[string]any) (map[string]any, error) {
	body, _, err := c.do(ctx, http.MethodPatch, path, nil, payload)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	obj, err := decodeObject(body)
	if err != nil {
		return nil, nil //nolint:nilerr // PATCH responses without a body are fine
	}
	return obj, nil
}

// Delete issues a DELETE. A 404 counts as success so removal stays
// idempotent.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, _, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// do runs one request and returns the raw response body on 2xx, or a
// RemoteError otherwise.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload map[string]any) ([]byte, http.Header, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, nil, err
	}

	fullURL := c.baseURL + "/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reqBody io.Reader = http.NoBody
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, remoteError(resp.StatusCode, body)
	}

	return body, resp.Header, nil
}

// remoteError builds a RemoteError, pulling the Graph error message out of
// the response body when it parses.
func remoteError(status int, body []byte) *RemoteError {
	remote := &RemoteError{Status: status, Body: string(body)}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		remote.GraphMessage = envelope.Error.Message
	}

	return remote
}

// ExtractCreatedID pulls the created object's id out of a Location header
// of the form .../<collection>('<id>').
func ExtractCreatedID(location, collection string) string {
	if location == "" || collection == "" {
		return ""
	}
	open := "/" + collection + "('"
	start := strings.Index(location, open)
	if start < 0 {
		return ""
	}
	rest := location[start+len(open):]
	end := strings.Index(rest, "')")
	if end < 0 {
		return ""
	}
	return rest[:end]
}

func decodeObject(body []byte) (map[string]any, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty response body", ErrMapping)
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMapping, err)
	}
	return obj, nil
}
