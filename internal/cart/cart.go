package cart

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtorres-dev/shopsync/pkg/logger"
	"github.com/mtorres-dev/shopsync/pkg/metrics"
)

var defaultFeeRate = decimal.NewFromFloat(0.02)

// Params configure the cart facade and the engine behind it.
type Params struct {
	Logger            *logger.Logger
	Remote            RemoteClient
	Local             LocalStore
	Metrics           *metrics.SyncMetrics
	Backoff           []time.Duration
	RefreshCooldown   time.Duration
	ProtectionFeeRate decimal.Decimal
}

// Cart is the public surface of the synchronization engine. Every
// mutation applies optimistically and returns immediately; network
// effects run in the background and surface only as per-item sync state.
type Cart struct {
	logg      *logger.Logger
	remote    RemoteClient
	local     LocalStore
	queue     *IntentStore
	engine    *Engine
	refresher *Refresher
	feeRate   decimal.Decimal

	mu      sync.Mutex
	items   map[string]LineItem
	order   []string
	version string
	userID  string
	ready   bool
}

// New builds a cart facade. With no identity set it serves the
// anonymous local slot.
func New(params Params) (*Cart, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Remote == nil {
		return nil, fmt.Errorf("remote client required")
	}
	if params.Local == nil {
		return nil, fmt.Errorf("local store required")
	}

	feeRate := params.ProtectionFeeRate
	if feeRate.IsZero() {
		feeRate = defaultFeeRate
	}
	if feeRate.IsNegative() {
		feeRate = decimal.Zero
	}

	c := &Cart{
		logg:    params.Logger,
		remote:  params.Remote,
		local:   params.Local,
		queue:   NewIntentStore(),
		feeRate: feeRate,
		items:   map[string]LineItem{},
	}
	c.setItemsLocked(params.Local.Load())

	engine, err := NewEngine(EngineParams{
		Logger:  params.Logger,
		Remote:  params.Remote,
		Queue:   c.queue,
		State:   c,
		Metrics: params.Metrics,
		Backoff: params.Backoff,
	})
	if err != nil {
		return nil, err
	}
	c.engine = engine

	refresher, err := NewRefresher(RefresherParams{
		Logger:   params.Logger,
		Remote:   params.Remote,
		State:    c,
		Engine:   engine,
		Metrics:  params.Metrics,
		Cooldown: params.RefreshCooldown,
	})
	if err != nil {
		return nil, err
	}
	c.refresher = refresher

	return c, nil
}

// AddItem adds quantity of the selection to the cart, merging into the
// existing row for the same logical selection.
func (c *Cart) AddItem(sel Selection, quantity int) {
	item := Normalize(sel)

	c.mu.Lock()
	current := 0
	if existing, ok := c.items[item.Key]; ok {
		current = existing.Quantity
	}
	kick := c.applyLocked(item, clampQuantity(current+quantity))
	c.mu.Unlock()

	c.kick(kick)
}

// UpdateQuantity sets the absolute desired quantity for key. Zero is a
// valid remove-by-update.
func (c *Cart) UpdateQuantity(key string, quantity int) {
	c.mu.Lock()
	item, ok := c.items[key]
	if !ok {
		if intent, held := c.queue.IntentFor(key); held {
			item, ok = intent.Item, true
		}
	}
	if !ok {
		c.mu.Unlock()
		return
	}
	kick := c.applyLocked(item, clampQuantity(quantity))
	c.mu.Unlock()

	c.kick(kick)
}

// RemoveItem drops the row for key.
func (c *Cart) RemoveItem(key string) {
	c.UpdateQuantity(key, 0)
}

// SetItemProtection toggles the protection add-on for one item. Digital
// items can never be protected.
func (c *Cart) SetItemProtection(key string, enabled bool) {
	c.mu.Lock()
	item, ok := c.items[key]
	if !ok || (item.IsDigital && enabled) {
		c.mu.Unlock()
		return
	}
	item.IsProtected = enabled
	item = NormalizeItem(item)
	kick := c.applyLocked(item, item.Quantity)
	c.mu.Unlock()

	c.kick(kick)
}

// SetAllProtection applies the protection flag to every non-digital line
// item. Each item becomes its own intent; partial application on partial
// failure is expected and each key retries independently.
func (c *Cart) SetAllProtection(enabled bool) {
	c.mu.Lock()
	kick := false
	for _, key := range append([]string(nil), c.order...) {
		item, ok := c.items[key]
		if !ok || item.IsDigital {
			continue
		}
		item.IsProtected = enabled
		item = NormalizeItem(item)
		if c.applyLocked(item, item.Quantity) {
			kick = true
		}
	}
	c.mu.Unlock()

	c.kick(kick)
}

// ClearCart empties the cart immediately and queues removals for every
// line item.
func (c *Cart) ClearCart() {
	c.mu.Lock()
	kick := false
	for _, key := range append([]string(nil), c.order...) {
		item, ok := c.items[key]
		if !ok {
			continue
		}
		if c.applyLocked(item, 0) {
			kick = true
		}
	}
	c.mu.Unlock()

	c.kick(kick)
}

// RetryItem re-arms a failed key's intent, reconstructing it from the
// current row when the original intent is gone, and triggers a drain.
func (c *Cart) RetryItem(key string) {
	if c.queue.Retry(key) {
		c.kick(true)
		return
	}

	c.mu.Lock()
	item, ok := c.items[key]
	identity := c.userID != ""
	c.mu.Unlock()
	if !ok || !identity {
		return
	}
	c.queue.Enqueue(item, item.Quantity)
	c.kick(true)
}

// OnFocus asks the background refresher for a fresh snapshot.
func (c *Cart) OnFocus(ctx context.Context) bool {
	return c.refresher.OnFocus(ctx)
}

// Items returns the visible line items with their transient sync
// annotations attached.
func (c *Cart) Items() []LineItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := make([]LineItem, 0, len(c.order))
	for _, key := range c.order {
		item, ok := c.items[key]
		if !ok {
			continue
		}
		meta := c.queue.MetaFor(key)
		item.IsSyncing = meta.Syncing
		item.SyncError = meta.SyncError
		items = append(items, item)
	}
	return items
}

// Summary reduces the current item list into totals.
func (c *Cart) Summary() Summary {
	return Summarize(c.Items(), c.feeRate)
}

// Version returns the last-known server cart version.
func (c *Cart) Version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// RemoteReady reports whether an identity is present and a server
// snapshot has been adopted.
func (c *Cart) RemoteReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID != "" && c.ready
}

// AdoptSnapshot applies a server snapshot through the reconciler so
// pending intents are preserved on top of it, then garbage-collects
// orphaned sync metadata.
func (c *Cart) AdoptSnapshot(snap *Snapshot) {
	if snap == nil {
		return
	}

	// Intents are read and the reconciled result applied under the same
	// lock, so a mutation landing mid-adoption cannot be overwritten by
	// a list reconciled against the queue as it was before that edit.
	c.mu.Lock()
	reconciled := Reconcile(snap.Items, c.queue.Intents())
	c.setItemsLocked(reconciled)
	c.version = snap.Version
	c.ready = true
	live := make(map[string]struct{}, len(c.order))
	for _, key := range c.order {
		live[key] = struct{}{}
	}
	c.mu.Unlock()

	c.queue.CollectMeta(live)
}

// SetIdentity signals that the current user identity changed. The
// anonymous-to-known transition performs the one-time merge-and-adopt
// handshake and clears the local slot; dropping identity reverts to it.
// A failed handshake restores the previous identity so the transition
// can be retried.
func (c *Cart) SetIdentity(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)

	c.mu.Lock()
	prev := c.userID
	if prev == userID {
		c.mu.Unlock()
		return nil
	}
	c.userID = userID

	if userID == "" {
		c.version = ""
		c.ready = false
		c.queue.Reset()
		c.setItemsLocked(c.local.Load())
		c.mu.Unlock()
		return nil
	}

	var migrate []LineItem
	if prev == "" {
		migrate = c.visibleLocked()
	} else {
		// Switching accounts adopts the new user's server cart wholesale.
		c.queue.Reset()
		c.setItemsLocked(nil)
		c.version = ""
		c.ready = false
	}
	c.mu.Unlock()

	var snap *Snapshot
	var err error
	if prev == "" {
		snap, err = c.remote.SyncCart(ctx, migrate)
	} else {
		snap, err = c.remote.GetCart(ctx)
	}
	if err != nil {
		// Roll the identity back so the handshake can be retried. Edits
		// made while it was in flight stay visible; for the anonymous
		// transition they return to the local slot instead of sitting as
		// intents a later snapshot adoption would reconcile away.
		c.mu.Lock()
		c.userID = prev
		if prev == "" {
			c.queue.Reset()
			c.local.Save(c.visibleLocked())
		}
		c.mu.Unlock()

		ctx = c.logg.WithUserID(ctx, userID)
		c.logg.Error(ctx, "identity handshake failed", err)
		return err
	}

	c.AdoptSnapshot(snap)
	if prev == "" {
		c.local.Clear()
	}
	c.kick(true)
	return nil
}

// applyLocked updates the optimistic view for one item and routes the
// mutation: intents when an identity exists, the local slot otherwise.
// Returns whether the engine should be kicked.
func (c *Cart) applyLocked(item LineItem, desired int) bool {
	item.Quantity = desired
	if desired == 0 {
		c.removeItemLocked(item.Key)
	} else {
		if _, ok := c.items[item.Key]; !ok {
			c.order = append(c.order, item.Key)
		}
		c.items[item.Key] = item
	}

	if c.userID == "" {
		c.local.Save(c.visibleLocked())
		return false
	}
	c.queue.Enqueue(item, desired)
	return true
}

func (c *Cart) kick(needed bool) {
	if !needed {
		return
	}
	c.engine.TryDrain(context.Background())
}

func (c *Cart) setItemsLocked(items []LineItem) {
	c.items = make(map[string]LineItem, len(items))
	c.order = c.order[:0]
	for _, item := range items {
		if item.Quantity == 0 {
			continue
		}
		if _, dup := c.items[item.Key]; dup {
			continue
		}
		c.items[item.Key] = item
		c.order = append(c.order, item.Key)
	}
}

func (c *Cart) removeItemLocked(key string) {
	if _, ok := c.items[key]; !ok {
		return
	}
	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Cart) visibleLocked() []LineItem {
	items := make([]LineItem, 0, len(c.order))
	for _, key := range c.order {
		if item, ok := c.items[key]; ok {
			items = append(items, item)
		}
	}
	return items
}
