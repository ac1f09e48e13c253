package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"

	pkgerrors "github.com/mtorres-dev/shopsync/pkg/errors"
	"github.com/mtorres-dev/shopsync/pkg/logger"
	"github.com/mtorres-dev/shopsync/pkg/metrics"
)

var defaultBackoff = []time.Duration{250 * time.Millisecond, time.Second, 3 * time.Second}

// RemoteClient is the remote cart service surface the engine drains
// against.
type RemoteClient interface {
	GetCart(ctx context.Context) (*Snapshot, error)
	PutItem(ctx context.Context, item LineItem, quantity int, version, idempotencyKey string) (*Snapshot, error)
	SyncCart(ctx context.Context, items []LineItem) (*Snapshot, error)
}

// ConflictError reports a failed version precondition along with the
// server's current snapshot so the caller can reconcile and retry.
type ConflictError struct {
	Snapshot *Snapshot
}

func (e *ConflictError) Error() string {
	return "cart version conflict"
}

// StateAdopter is the visible cart state the engine reads versions from
// and applies snapshots to. Adoption always runs through the reconciler.
type StateAdopter interface {
	Version() string
	AdoptSnapshot(snap *Snapshot)
}

// EngineParams configure the sync engine.
type EngineParams struct {
	Logger  *logger.Logger
	Remote  RemoteClient
	Queue   *IntentStore
	State   StateAdopter
	Metrics *metrics.SyncMetrics
	Backoff []time.Duration
}

// Engine serially drains the intent queue against the remote cart
// service: one round trip per pending key, optimistic concurrency via
// If-Match, a fixed backoff budget per intent, and idempotency tokens so
// at-least-once retries collapse server-side.
type Engine struct {
	logg    *logger.Logger
	remote  RemoteClient
	queue   *IntentStore
	state   StateAdopter
	metrics *metrics.SyncMetrics
	backoff []time.Duration

	mu       sync.Mutex
	draining bool
}

// NewEngine builds a sync engine.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Remote == nil {
		return nil, fmt.Errorf("remote client required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("intent queue required")
	}
	if params.State == nil {
		return nil, fmt.Errorf("state adopter required")
	}
	backoff := params.Backoff
	if len(backoff) == 0 {
		backoff = defaultBackoff
	}
	return &Engine{
		logg:    params.Logger,
		remote:  params.Remote,
		queue:   params.Queue,
		state:   params.State,
		metrics: params.Metrics,
		backoff: backoff,
	}, nil
}

// InFlight reports whether a drain pass is currently running.
func (e *Engine) InFlight() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draining
}

// TryDrain starts a background drain pass unless one is already running.
// The single-flight guard is the engine's only mutual-exclusion state:
// two passes racing the same version precondition would conflict with
// each other.
func (e *Engine) TryDrain(ctx context.Context) bool {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return false
	}
	e.draining = true
	e.mu.Unlock()

	go e.drain(ctx)
	return true
}

func (e *Engine) drain(ctx context.Context) {
	start := time.Now()
	var errs error

	for {
		intent, ok := e.queue.DrainNext()
		if !ok {
			// Re-check under the guard so a mutation enqueued while the
			// loop was exiting is picked up by this pass, not dropped.
			e.mu.Lock()
			if _, again := e.queue.DrainNext(); again {
				e.mu.Unlock()
				continue
			}
			e.draining = false
			e.mu.Unlock()
			break
		}
		if err := e.syncIntent(ctx, intent); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("key %s: %w", intent.Key, err))
		}
	}

	e.metrics.ObserveDrain(time.Since(start))
	if errs != nil {
		e.logg.Error(ctx, "drain pass finished with failed keys", errs)
	}
}

// syncIntent pushes one intent to the server. Conflicts adopt the fresher
// snapshot and retry against the new version; retryable failures consume
// backoff slots; anything else is terminal for this pass.
func (e *Engine) syncIntent(ctx context.Context, intent Intent) error {
	ctx = e.logg.WithItemKey(ctx, intent.Key)
	idempotencyKey := uuid.NewString()

	err := retry.Do(ctx, scheduleBackoff(e.backoff), func(ctx context.Context) error {
		snap, putErr := e.remote.PutItem(ctx, intent.Item, intent.DesiredQty, e.state.Version(), idempotencyKey)
		if putErr == nil {
			e.state.AdoptSnapshot(snap)
			e.queue.Confirm(intent.Key, intent.DesiredQty)
			e.metrics.IncOutcome("confirmed")
			return nil
		}

		var conflict *ConflictError
		if errors.As(putErr, &conflict) {
			e.metrics.IncOutcome("conflict")
			if conflict.Snapshot != nil {
				e.state.AdoptSnapshot(conflict.Snapshot)
			}
			return retry.RetryableError(putErr)
		}

		if pkgerrors.Retryable(putErr) {
			return retry.RetryableError(putErr)
		}
		return putErr
	})
	if err != nil {
		e.queue.Fail(intent.Key, err)
		e.metrics.IncOutcome("failed")
		e.logg.Error(ctx, "intent sync failed", err)
		return err
	}
	return nil
}

// scheduleBackoff walks a fixed sequence of delays; exhausting the
// sequence stops the retry loop.
func scheduleBackoff(delays []time.Duration) retry.Backoff {
	idx := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		if idx >= len(delays) {
			return 0, true
		}
		delay := delays[idx]
		idx++
		return delay, false
	})
}
