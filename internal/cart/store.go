package cart

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/mtorres-dev/shopsync/pkg/logger"
)

// LocalStore is the durable slot holding the anonymous-session cart.
// Writes are best-effort; losing this store degrades to an empty cart.
type LocalStore interface {
	Load() []LineItem
	Save(items []LineItem)
	Clear()
}

// FileStore keeps the anonymous cart as a JSON array in a single file.
type FileStore struct {
	path string
	logg *logger.Logger
}

func NewFileStore(path string, logg *logger.Logger) *FileStore {
	return &FileStore{path: path, logg: logg}
}

// Load reads the stored items. Missing or corrupt storage yields an
// empty cart, never an error.
func (f *FileStore) Load() []LineItem {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil
	}
	var rows []LineItem
	if err := json.Unmarshal(raw, &rows); err != nil {
		f.warn("discarding corrupt local cart", err)
		return nil
	}
	items := make([]LineItem, 0, len(rows))
	for _, row := range rows {
		item := NormalizeItem(row)
		if item.Quantity == 0 {
			continue
		}
		items = append(items, item)
	}
	return items
}

// Save writes the items, fire-and-forget. The write goes through a temp
// file and rename so a crash cannot leave a half-written slot.
func (f *FileStore) Save(items []LineItem) {
	payload, err := json.Marshal(items)
	if err != nil {
		f.warn("marshal local cart", err)
		return
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			f.warn("create local cart directory", err)
			return
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		f.warn("write local cart", err)
		return
	}
	if err := os.Rename(tmp, f.path); err != nil {
		f.warn("replace local cart", err)
	}
}

// Clear removes the slot after a successful identity-transition merge.
func (f *FileStore) Clear() {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		f.warn("clear local cart", err)
	}
}

func (f *FileStore) warn(msg string, err error) {
	if f.logg == nil {
		return
	}
	ctx := f.logg.WithField(context.Background(), "error", err.Error())
	f.logg.Warn(ctx, msg)
}
