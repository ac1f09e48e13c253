package cartserver

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/mtorres-dev/shopsync/pkg/errors"
	"github.com/mtorres-dev/shopsync/pkg/logger"
)

const defaultReplayTTL = 24 * time.Hour

// ReplayStore persists idempotency replay records. pkg/redis implements
// this surface for multi-instance deployments.
type ReplayStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ReplayKey(scope, id string) string
}

type replayRecord struct {
	Status      int    `json:"status"`
	Body        string `json:"body"`
	RequestHash string `json:"request_hash"`
}

// Idempotency replays the stored response when the same Idempotency-Key
// is retried with the same request body, so an at-least-once retry of a
// cart mutation collapses into a no-op instead of double-applying.
func Idempotency(store ReplayStore, logg *logger.Logger, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultReplayTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
			if idempotencyKey == "" {
				writeError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requestHash := hashBody(body)
			scope := strings.Join([]string{userFromContext(r.Context()), r.Method, r.URL.Path}, "|")
			key := store.ReplayKey(scope, idempotencyKey)

			if stored, getErr := store.Get(r.Context(), key); getErr != nil {
				writeError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, getErr, "check idempotency"))
				return
			} else if stored != "" {
				var record replayRecord
				if decodeErr := json.Unmarshal([]byte(stored), &record); decodeErr != nil {
					writeError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, decodeErr, "decode replay record"))
					return
				}
				if record.RequestHash != requestHash {
					writeError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
					return
				}
				replayStoredResponse(w, record)
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			// Only settled outcomes replay. A 409 must re-evaluate on the
			// next attempt so a conflict retried with the same token can
			// succeed against the adopted version.
			if rec.statusOrOK() >= http.StatusMultipleChoices {
				return
			}

			record := replayRecord{
				Status:      rec.statusOrOK(),
				Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
				RequestHash: requestHash,
			}
			payload, marshalErr := json.Marshal(record)
			if marshalErr != nil {
				if logg != nil {
					logg.Error(r.Context(), "marshal replay record", marshalErr)
				}
				return
			}
			if _, setErr := store.SetNX(r.Context(), key, string(payload), ttl); setErr != nil {
				if logg != nil {
					logg.Error(r.Context(), "persist replay record", setErr)
				}
			}
		})
	}
}

func replayStoredResponse(w http.ResponseWriter, record replayRecord) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusOrOK() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// MemReplayStore is the in-process ReplayStore used by tests and
// single-instance deployments.
type MemReplayStore struct {
	mu      sync.Mutex
	entries map[string]memReplayEntry
}

type memReplayEntry struct {
	value   string
	expires time.Time
}

func NewMemReplayStore() *MemReplayStore {
	return &MemReplayStore{entries: map[string]memReplayEntry{}}
}

func (m *MemReplayStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return "", nil
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		delete(m.entries, key)
		return "", nil
	}
	return entry.value, nil
}

func (m *MemReplayStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[key]; ok {
		if entry.expires.IsZero() || time.Now().Before(entry.expires) {
			return false, nil
		}
	}
	str, _ := value.(string)
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	m.entries[key] = memReplayEntry{value: str, expires: expires}
	return true, nil
}

func (m *MemReplayStore) ReplayKey(scope, id string) string {
	return "replay:" + scope + ":" + id
}
