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

	"github.com/mtorres-dev/shopsync/internal/cart"
	"github.com/mtorres-dev/shopsync/pkg/config"
	pkgerrors "github.com/mtorres-dev/shopsync/pkg/errors"
	"github.com/mtorres-dev/shopsync/pkg/logger"
)

const (
	headerIfMatch        = "If-Match"
	headerIdempotencyKey = "Idempotency-Key"

	errorBodyReadLimit int64 = 1024
)

// Client talks to the remote cart service over the contract the engine
// consumes: snapshot reads, preconditioned item mutations, and the
// one-time merge call.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
	logg       *logger.Logger
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithAuthToken sets the opaque bearer token identifying the user.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = strings.TrimSpace(token)
	}
}

// NewClient builds a cart service client.
func NewClient(cfg config.RemoteConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("remote base url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		authToken:  strings.TrimSpace(cfg.AuthToken),
		logg:       logg,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// GetCart reads the full server snapshot.
func (c *Client) GetCart(ctx context.Context) (*cart.Snapshot, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/cart", nil)
	if err != nil {
		return nil, err
	}
	return c.roundTrip(req, "read cart")
}

// PutItem sends one desired-quantity mutation with the version
// precondition and idempotency token. A 409 returns a ConflictError
// carrying the server's current snapshot.
func (c *Client) PutItem(ctx context.Context, item cart.LineItem, quantity int, version, idempotencyKey string) (*cart.Snapshot, error) {
	wire := item
	wire.Quantity = quantity
	payload, err := json.Marshal(wire)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal cart item")
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/cart/items", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set(headerIfMatch, version)
	req.Header.Set(headerIdempotencyKey, idempotencyKey)
	return c.roundTrip(req, "sync cart item")
}

// SyncCart performs the one-time merge-and-adopt handshake with the
// items accumulated while anonymous.
func (c *Client) SyncCart(ctx context.Context, items []cart.LineItem) (*cart.Snapshot, error) {
	if items == nil {
		items = []cart.LineItem{}
	}
	payload, err := json.Marshal(struct {
		Items []cart.LineItem `json:"items"`
	}{Items: items})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal cart sync payload")
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/cart/sync", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	return c.roundTrip(req, "merge cart")
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build cart request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	return req, nil
}

func (c *Client) roundTrip(req *http.Request, op string) (*cart.Snapshot, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, op+" request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		return decodeSnapshot(resp.Body, op)
	case resp.StatusCode == http.StatusConflict:
		snap, decodeErr := decodeSnapshot(resp.Body, op)
		if decodeErr != nil {
			return nil, decodeErr
		}
		return nil, &cart.ConflictError{Snapshot: snap}
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		code := pkgerrors.CodeFromStatus(resp.StatusCode)
		cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		return nil, pkgerrors.Wrap(code, cause, op+" rejected")
	}
}

func decodeSnapshot(body io.Reader, op string) (*cart.Snapshot, error) {
	var snap cart.Snapshot
	if err := json.NewDecoder(body).Decode(&snap); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode "+op+" response")
	}
	for i := range snap.Items {
		snap.Items[i] = cart.NormalizeItem(snap.Items[i])
	}
	return &snap, nil
}
