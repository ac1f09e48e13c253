package cart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mtorres-dev/shopsync/pkg/logger"
	"github.com/mtorres-dev/shopsync/pkg/metrics"
)

const defaultRefreshCooldown = 30 * time.Second

type refreshState interface {
	StateAdopter
	RemoteReady() bool
}

// RefresherParams configure the background refresher.
type RefresherParams struct {
	Logger   *logger.Logger
	Remote   RemoteClient
	State    refreshState
	Engine   *Engine
	Metrics  *metrics.SyncMetrics
	Cooldown time.Duration
}

// Refresher pulls a fresh server snapshot when the app regains focus,
// rate-limited by a cooldown and skipped whenever a drain or another
// refresh is in flight.
type Refresher struct {
	logg     *logger.Logger
	remote   RemoteClient
	state    refreshState
	engine   *Engine
	metrics  *metrics.SyncMetrics
	cooldown time.Duration

	mu       sync.Mutex
	inFlight bool
	last     time.Time
}

// NewRefresher builds a background refresher.
func NewRefresher(params RefresherParams) (*Refresher, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Remote == nil {
		return nil, fmt.Errorf("remote client required")
	}
	if params.State == nil {
		return nil, fmt.Errorf("state required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	cooldown := params.Cooldown
	if cooldown <= 0 {
		cooldown = defaultRefreshCooldown
	}
	return &Refresher{
		logg:     params.Logger,
		remote:   params.Remote,
		state:    params.State,
		engine:   params.Engine,
		metrics:  params.Metrics,
		cooldown: cooldown,
	}, nil
}

// OnFocus requests a fresh snapshot and applies it through the
// reconciler. Returns true when a refresh actually ran.
func (r *Refresher) OnFocus(ctx context.Context) bool {
	if !r.state.RemoteReady() {
		return false
	}
	if r.engine.InFlight() {
		return false
	}

	r.mu.Lock()
	if r.inFlight || time.Since(r.last) < r.cooldown {
		r.mu.Unlock()
		return false
	}
	r.inFlight = true
	r.mu.Unlock()

	snap, err := r.remote.GetCart(ctx)

	r.mu.Lock()
	r.inFlight = false
	if err == nil {
		r.last = time.Now()
	}
	r.mu.Unlock()

	if err != nil {
		ctx = r.logg.WithField(ctx, "error", err.Error())
		r.logg.Warn(ctx, "background cart refresh failed")
		return false
	}

	r.state.AdoptSnapshot(snap)
	r.metrics.IncRefresh()
	return true
}
