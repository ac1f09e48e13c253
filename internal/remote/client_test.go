package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mtorres-dev/shopsync/internal/cart"
	"github.com/mtorres-dev/shopsync/pkg/config"
	pkgerrors "github.com/mtorres-dev/shopsync/pkg/errors"
	"github.com/mtorres-dev/shopsync/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(config.RemoteConfig{BaseURL: baseURL}, testLogger(), WithAuthToken("user-1"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func snapshotJSON(version string, items ...map[string]any) []byte {
	if items == nil {
		items = []map[string]any{}
	}
	payload, _ := json.Marshal(map[string]any{"cartVersion": version, "items": items})
	return payload
}

func TestClientGetCart(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/cart" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer user-1" {
			t.Errorf("unexpected authorization header %q", got)
		}
		_, _ = w.Write(snapshotJSON("v3", map[string]any{"id": " p1 ", "price": 9.99, "quantity": 2}))
	}))
	defer server.Close()

	snap, err := newTestClient(t, server.URL).GetCart(context.Background())
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if snap.Version != "v3" || len(snap.Items) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	// Rows are re-normalized on decode: trimmed ids, derived keys.
	if snap.Items[0].ProductID != "p1" || snap.Items[0].Key == "" {
		t.Fatalf("expected normalized row, got %+v", snap.Items[0])
	}
}

func TestClientPutItemSendsPreconditionHeaders(t *testing.T) {
	t.Parallel()

	var gotIfMatch, gotIdempotency, gotContentType string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/cart/items" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotIfMatch = r.Header.Get("If-Match")
		gotIdempotency = r.Header.Get("Idempotency-Key")
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write(snapshotJSON("v2", map[string]any{"id": "p1", "quantity": 5}))
	}))
	defer server.Close()

	item := cart.Normalize(cart.Selection{ProductID: "p1", Price: decimal.NewFromFloat(9.99)})
	item.Quantity = 2
	snap, err := newTestClient(t, server.URL).PutItem(context.Background(), item, 5, "v1", "token-1")
	if err != nil {
		t.Fatalf("PutItem: %v", err)
	}
	if snap.Version != "v2" {
		t.Fatalf("expected snapshot v2, got %+v", snap)
	}
	if gotIfMatch != "v1" || gotIdempotency != "token-1" {
		t.Fatalf("expected precondition headers, got If-Match=%q Idempotency-Key=%q", gotIfMatch, gotIdempotency)
	}
	if gotContentType != "application/json" {
		t.Fatalf("expected json content type, got %q", gotContentType)
	}
	// The wire carries the desired quantity, not the optimistic row's.
	if qty, ok := gotBody["quantity"].(float64); !ok || qty != 5 {
		t.Fatalf("expected quantity 5 on the wire, got %v", gotBody["quantity"])
	}
	if price, ok := gotBody["price"].(float64); !ok || price != 9.99 {
		t.Fatalf("expected bare-number price, got %v", gotBody["price"])
	}
}

func TestClientPutItemConflict(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write(snapshotJSON("v7", map[string]any{"id": "p1", "quantity": 4}))
	}))
	defer server.Close()

	item := cart.Normalize(cart.Selection{ProductID: "p1"})
	_, err := newTestClient(t, server.URL).PutItem(context.Background(), item, 2, "v1", "token-1")

	var conflict *cart.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Snapshot == nil || conflict.Snapshot.Version != "v7" {
		t.Fatalf("expected conflict to carry the current snapshot, got %+v", conflict.Snapshot)
	}
	if len(conflict.Snapshot.Items) != 1 || conflict.Snapshot.Items[0].Key == "" {
		t.Fatalf("expected normalized conflict items, got %+v", conflict.Snapshot.Items)
	}
}

func TestClientServerErrorIsRetryable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).GetCart(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !pkgerrors.Retryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency code, got %v", err)
	}
}

func TestClientValidationErrorIsTerminal(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer server.Close()

	item := cart.Normalize(cart.Selection{ProductID: "p1"})
	_, err := newTestClient(t, server.URL).PutItem(context.Background(), item, 1, "v1", "token-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if pkgerrors.Retryable(err) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestClientTransportFailureIsRetryable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	_, err := newTestClient(t, server.URL).GetCart(context.Background())
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !pkgerrors.Retryable(err) {
		t.Fatalf("expected retryable transport failure, got %v", err)
	}
}

func TestClientSyncCartSendsItems(t *testing.T) {
	t.Parallel()

	var gotBody struct {
		Items []map[string]any `json:"items"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cart/sync" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write(snapshotJSON("v2", map[string]any{"id": "p1", "quantity": 3}))
	}))
	defer server.Close()

	item := cart.Normalize(cart.Selection{ProductID: "p1"})
	item.Quantity = 2
	snap, err := newTestClient(t, server.URL).SyncCart(context.Background(), []cart.LineItem{item})
	if err != nil {
		t.Fatalf("SyncCart: %v", err)
	}
	if snap.Version != "v2" {
		t.Fatalf("expected merged snapshot, got %+v", snap)
	}
	if len(gotBody.Items) != 1 {
		t.Fatalf("expected one item on the wire, got %+v", gotBody.Items)
	}
}

func TestClientSyncCartNilItemsSendsEmptyArray(t *testing.T) {
	t.Parallel()

	var raw map[string]json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		_, _ = w.Write(snapshotJSON("v2"))
	}))
	defer server.Close()

	if _, err := newTestClient(t, server.URL).SyncCart(context.Background(), nil); err != nil {
		t.Fatalf("SyncCart: %v", err)
	}
	if string(raw["items"]) != "[]" {
		t.Fatalf("expected empty array, got %s", raw["items"])
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(config.RemoteConfig{}, testLogger()); err == nil {
		t.Fatal("expected error for missing base url")
	}
}
