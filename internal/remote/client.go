// Package remote wraps the authoritative server cart behind a typed
// client. It owns everything wire-specific: paths, payload shapes,
// session headers, and the mapping from HTTP status codes to the error
// taxonomy — callers only ever see []model.DisplayLine and sentinel
// errors.
//
// The legacy endpoints are inconsistent about response shape: some wrap
// the cart in {"cart": [...]}, others return a bare array. That
// inconsistency is normalized here and deliberately not reproduced
// anywhere above this package.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dunglas/httpsfv"

	"cartsync/internal/model"
)

// cartSessionHeader is an optional RFC 8941 structured response header
// carrying a rotated session token: token;expires=<unix seconds>.
const cartSessionHeader = "Cart-Session"

// Config holds client configuration.
type Config struct {
	// BaseURL is the cart API origin, e.g. "https://store.example.com/api".
	BaseURL string

	// Tokens supplies the session credential per call. Required; use a
	// TokenSource returning "" for a client that is never authenticated.
	Tokens TokenSource

	// Timeout bounds every call. Default 15s.
	Timeout time.Duration

	// Transport overrides the HTTP transport. Use
	// transport.NewBrowserTransport for stores behind JA3-fingerprinting
	// CDNs; nil uses http.DefaultTransport.
	Transport http.RoundTripper
}

// Client calls the remote cart wire contract. All methods attach the
// current session credential and normalize response shapes and errors.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	now        func() time.Time
}

// New creates a remote cart client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: cfg.Transport,
		},
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		tokens:  cfg.Tokens,
		now:     time.Now,
	}, nil
}

// Fetch returns the authoritative current cart.
func (c *Client) Fetch(ctx context.Context) ([]model.DisplayLine, error) {
	body, err := c.do(ctx, http.MethodGet, "/cart", nil)
	if err != nil {
		return nil, err
	}
	return decodeCart(body)
}

// Add upserts one line and returns the resulting full cart. The server
// sums quantities when the (productId, variantIndex) pair exists.
func (c *Client) Add(ctx context.Context, productID string, variantIndex, quantity int) ([]model.DisplayLine, error) {
	payload := model.Line{ProductID: productID, VariantIndex: variantIndex, Quantity: quantity}
	body, err := c.do(ctx, http.MethodPost, "/cart", payload)
	if err != nil {
		return nil, err
	}
	return decodeCart(body)
}

// Update sets the absolute quantity (not a delta) for a line.
// Quantity <= 0 is equivalent to removal on the server side.
func (c *Client) Update(ctx context.Context, productID string, variantIndex, quantity int) ([]model.DisplayLine, error) {
	payload := struct {
		VariantIndex int `json:"variantIndex"`
		Quantity     int `json:"quantity"`
	}{variantIndex, quantity}
	body, err := c.do(ctx, http.MethodPut, "/cart/"+productID, payload)
	if err != nil {
		return nil, err
	}
	return decodeCart(body)
}

// Remove deletes one line and returns the resulting full cart.
func (c *Client) Remove(ctx context.Context, productID string, variantIndex int) ([]model.DisplayLine, error) {
	payload := struct {
		VariantIndex int `json:"variantIndex"`
	}{variantIndex}
	body, err := c.do(ctx, http.MethodDelete, "/cart/"+productID, payload)
	if err != nil {
		return nil, err
	}
	return decodeCart(body)
}

// Clear empties the authenticated cart.
func (c *Client) Clear(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, "/cart", nil)
	return err
}

// Merge idempotently upserts a batch of anonymous lines into the
// authenticated cart, summing quantities per line.
func (c *Client) Merge(ctx context.Context, lines []model.Line) error {
	payload := struct {
		Items []model.Line `json:"items"`
	}{lines}
	_, err := c.do(ctx, http.MethodPost, "/cart/merge", payload)
	return err
}

// do executes one request against the cart API and returns the raw
// response body. All error mapping happens here.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	token := c.tokens.Token()
	if token == "" {
		return nil, model.NewUnauthorizedError("no active session")
	}
	// Skip a round trip that is guaranteed to come back 401.
	if tokenExpired(token, c.now()) {
		return nil, model.NewUnauthorizedError("session token expired")
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, model.NewValidationError("payload", err.Error())
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, model.NewValidationError("request", err.Error())
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.NewUnreachableError("cart API", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewUnreachableError("cart API", err)
	}

	if resp.StatusCode >= 400 {
		return nil, parseError(resp.StatusCode, body)
	}

	c.applyRotatedSession(resp.Header.Get(cartSessionHeader))
	return body, nil
}

// applyRotatedSession feeds a Cart-Session header back into a rotating
// token source. Sources that are not rotating ignore rotation.
func (c *Client) applyRotatedSession(header string) {
	if header == "" {
		return
	}
	rotating, ok := c.tokens.(*RotatingToken)
	if !ok {
		return
	}
	token, expires, ok := parseCartSession(header)
	if !ok {
		return
	}
	rotating.Set(token, expires)
}

// parseCartSession parses the structured Cart-Session header value.
// Shape: "<token>";expires=<unix seconds>. The expires parameter is
// optional.
func parseCartSession(header string) (token string, expires time.Time, ok bool) {
	item, err := httpsfv.UnmarshalItem([]string{header})
	if err != nil {
		return "", time.Time{}, false
	}
	s, ok := item.Value.(string)
	if !ok || s == "" {
		return "", time.Time{}, false
	}
	if v, present := item.Params.Get("expires"); present {
		if sec, isInt := v.(int64); isInt {
			expires = time.Unix(sec, 0)
		}
	}
	return s, expires, true
}

// parseError converts a cart API error response to a model.APIError.
func parseError(statusCode int, body []byte) error {
	// Best-effort extraction of the server's message
	var apiResp struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(body, &apiResp); err == nil {
		msg = apiResp.Message
		if msg == "" {
			msg = apiResp.Error
		}
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		if msg == "" {
			msg = "session expired or missing"
		}
		return model.NewUnauthorizedError(msg)
	case statusCode == http.StatusNotFound:
		return model.NewNotFoundError("cart resource")
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		if msg == "" {
			msg = "rejected by server"
		}
		return model.NewValidationError("payload", msg)
	default:
		return model.NewUnreachableError("cart API",
			fmt.Errorf("status %d: %s", statusCode, firstLine(msg)))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// decodeCart normalizes the two legacy response shapes into one:
// either {"cart": [...]} or a bare [...] array.
func decodeCart(body []byte) ([]model.DisplayLine, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var lines []model.DisplayLine
		if err := json.Unmarshal(trimmed, &lines); err != nil {
			return nil, model.NewUnreachableError("cart API", fmt.Errorf("malformed cart array: %w", err))
		}
		return lines, nil
	}

	var wrapped struct {
		Cart []model.DisplayLine `json:"cart"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, model.NewUnreachableError("cart API", fmt.Errorf("malformed cart response: %w", err))
	}
	return wrapped.Cart, nil
}
