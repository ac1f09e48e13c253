package cart

import (
	"fmt"
	"testing"
)

func testItem(productID string) LineItem {
	return Normalize(Selection{ProductID: productID})
}

func TestIntentStoreLastWriteWinsPerKey(t *testing.T) {
	t.Parallel()

	store := NewIntentStore()
	item := testItem("p1")

	store.Enqueue(item, 2)
	store.Enqueue(item, 5)

	intents := store.Intents()
	if len(intents) != 1 {
		t.Fatalf("expected one intent, got %d", len(intents))
	}
	if intents[0].DesiredQty != 5 {
		t.Fatalf("expected superseding quantity 5, got %d", intents[0].DesiredQty)
	}

	next, ok := store.DrainNext()
	if !ok || next.DesiredQty != 5 {
		t.Fatalf("expected drainable intent with quantity 5, got %+v ok=%v", next, ok)
	}
}

func TestIntentStoreArrivalOrder(t *testing.T) {
	t.Parallel()

	store := NewIntentStore()
	for i := 0; i < 3; i++ {
		store.Enqueue(testItem(fmt.Sprintf("p%d", i)), 1)
	}
	// Re-enqueueing an early key must not move it to the back.
	store.Enqueue(testItem("p0"), 4)

	intents := store.Intents()
	if len(intents) != 3 {
		t.Fatalf("expected three intents, got %d", len(intents))
	}
	if intents[0].Item.ProductID != "p0" || intents[0].DesiredQty != 4 {
		t.Fatalf("expected p0 first with quantity 4, got %+v", intents[0])
	}

	next, _ := store.DrainNext()
	if next.Item.ProductID != "p0" {
		t.Fatalf("expected oldest pending intent first, got %s", next.Item.ProductID)
	}
}

func TestIntentStoreConfirmClearsExactQuantity(t *testing.T) {
	t.Parallel()

	store := NewIntentStore()
	item := testItem("p1")
	store.Enqueue(item, 2)

	if !store.Confirm(item.Key, 2) {
		t.Fatal("expected confirm to clear matching quantity")
	}
	if _, ok := store.IntentFor(item.Key); ok {
		t.Fatal("expected intent removed after confirm")
	}
	if meta := store.MetaFor(item.Key); meta.Syncing || meta.SyncError != "" {
		t.Fatalf("expected metadata cleared, got %+v", meta)
	}
}

func TestIntentStoreConfirmSupersededStaysPending(t *testing.T) {
	t.Parallel()

	store := NewIntentStore()
	item := testItem("p1")
	store.Enqueue(item, 2)
	store.Enqueue(item, 5)

	if store.Confirm(item.Key, 2) {
		t.Fatal("expected confirm of superseded quantity to be rejected")
	}
	next, ok := store.DrainNext()
	if !ok || next.DesiredQty != 5 {
		t.Fatalf("expected newer quantity still pending, got %+v ok=%v", next, ok)
	}
}

func TestIntentStoreConfirmUnknownKey(t *testing.T) {
	t.Parallel()

	store := NewIntentStore()
	if !store.Confirm("missing", 3) {
		t.Fatal("expected confirm of unknown key to be a no-op success")
	}
}

func TestIntentStoreFailParksIntent(t *testing.T) {
	t.Parallel()

	store := NewIntentStore()
	item := testItem("p1")
	store.Enqueue(item, 2)
	store.Fail(item.Key, fmt.Errorf("boom"))

	if _, ok := store.DrainNext(); ok {
		t.Fatal("expected no drainable intent after failure")
	}
	if _, ok := store.IntentFor(item.Key); !ok {
		t.Fatal("expected parked intent to be retained")
	}
	meta := store.MetaFor(item.Key)
	if meta.Syncing || meta.SyncError != "boom" {
		t.Fatalf("expected failure annotation, got %+v", meta)
	}
}

func TestIntentStoreRetryReArms(t *testing.T) {
	t.Parallel()

	store := NewIntentStore()
	item := testItem("p1")
	store.Enqueue(item, 2)
	store.Fail(item.Key, fmt.Errorf("boom"))

	if !store.Retry(item.Key) {
		t.Fatal("expected retry of parked intent")
	}
	if _, ok := store.DrainNext(); !ok {
		t.Fatal("expected intent pending again after retry")
	}
	if meta := store.MetaFor(item.Key); !meta.Syncing || meta.SyncError != "" {
		t.Fatalf("expected syncing annotation restored, got %+v", meta)
	}
	if store.Retry("missing") {
		t.Fatal("expected retry of unknown key to report false")
	}
}

func TestIntentStoreEnqueueSupersedesFailure(t *testing.T) {
	t.Parallel()

	store := NewIntentStore()
	item := testItem("p1")
	store.Enqueue(item, 2)
	store.Fail(item.Key, fmt.Errorf("boom"))
	store.Enqueue(item, 3)

	next, ok := store.DrainNext()
	if !ok || next.DesiredQty != 3 {
		t.Fatalf("expected fresh mutation to re-arm the key, got %+v ok=%v", next, ok)
	}
	if meta := store.MetaFor(item.Key); meta.SyncError != "" {
		t.Fatalf("expected stale error cleared, got %+v", meta)
	}
}

func TestIntentStoreCollectMeta(t *testing.T) {
	t.Parallel()

	store := NewIntentStore()
	held := testItem("held")
	store.Enqueue(held, 1)
	store.Enqueue(testItem("gone"), 1)
	store.Confirm(testItem("gone").Key, 1)
	store.Fail(held.Key, fmt.Errorf("boom"))

	// Simulate an orphaned annotation for a key no snapshot carries.
	orphan := testItem("orphan")
	store.Enqueue(orphan, 1)
	store.Confirm(orphan.Key, 1)

	store.CollectMeta(map[string]struct{}{held.Key: {}})
	if meta := store.MetaFor(held.Key); meta.SyncError == "" {
		t.Fatal("expected annotation for held intent to survive collection")
	}
	if meta := store.MetaFor(orphan.Key); meta.Syncing || meta.SyncError != "" {
		t.Fatalf("expected orphan metadata dropped, got %+v", meta)
	}
}

func TestIntentStoreReset(t *testing.T) {
	t.Parallel()

	store := NewIntentStore()
	store.Enqueue(testItem("p1"), 2)
	store.Reset()

	if len(store.Intents()) != 0 {
		t.Fatal("expected reset to drop all intents")
	}
	if _, ok := store.DrainNext(); ok {
		t.Fatal("expected nothing drainable after reset")
	}
}
