package cart

import (
	"strings"

	"github.com/shopspring/decimal"
)

func init() {
	// Wire prices are bare JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

const productTypeDigital = "digital"

// Selection is a raw product/variant choice as the storefront hands it over.
type Selection struct {
	ProductID      string          `json:"id"`
	Name           string          `json:"name"`
	Slug           string          `json:"slug"`
	Image          string          `json:"image"`
	Price          decimal.Decimal `json:"price"`
	OriginalPrice  decimal.Decimal `json:"originalPrice"`
	VariationID    string          `json:"selectedVariationId"`
	VariationLabel string          `json:"selectedVariationLabel"`
	Color          string          `json:"selectedColor"`
	Size           string          `json:"selectedSize"`
	ProductType    string          `json:"productType"`
	IsDigital      bool            `json:"isDigital"`
	IsProtected    bool            `json:"isProtected"`
}

// LineItem is one distinct purchasable selection within a cart. Key is
// derived, never transmitted; IsSyncing and SyncError are read-time
// annotations owned by the intent store.
type LineItem struct {
	Key            string          `json:"-"`
	ProductID      string          `json:"id"`
	Name           string          `json:"name"`
	Slug           string          `json:"slug"`
	Image          string          `json:"image"`
	Price          decimal.Decimal `json:"price"`
	OriginalPrice  decimal.Decimal `json:"originalPrice"`
	VariationID    string          `json:"selectedVariationId"`
	VariationLabel string          `json:"selectedVariationLabel"`
	Color          string          `json:"selectedColor"`
	Size           string          `json:"selectedSize"`
	ProductType    string          `json:"productType"`
	IsDigital      bool            `json:"isDigital"`
	IsProtected    bool            `json:"isProtected"`
	Quantity       int             `json:"quantity"`

	IsSyncing bool   `json:"-"`
	SyncError string `json:"-"`
}

// Snapshot is a full server-of-record cart read: the current items plus
// the opaque version token used as a mutation precondition.
type Snapshot struct {
	Version string     `json:"cartVersion"`
	Items   []LineItem `json:"items"`
}

// ItemKey derives the stable line-item key from the identity-relevant
// subset of selection fields. Two logically equal selections always map
// to the same key.
func ItemKey(productID, variationID, color, size string) string {
	parts := []string{
		strings.TrimSpace(productID),
		strings.TrimSpace(variationID),
		strings.TrimSpace(color),
		strings.TrimSpace(size),
	}
	return strings.Join(parts, "|")
}

// Normalize canonicalizes a raw selection into a zero-quantity line item.
// It is total: absent numerics default to zero, negative prices are
// clamped, and digital products can never be protected.
func Normalize(sel Selection) LineItem {
	item := LineItem{
		ProductID:      strings.TrimSpace(sel.ProductID),
		Name:           sel.Name,
		Slug:           sel.Slug,
		Image:          sel.Image,
		Price:          sel.Price,
		OriginalPrice:  sel.OriginalPrice,
		VariationID:    strings.TrimSpace(sel.VariationID),
		VariationLabel: sel.VariationLabel,
		Color:          strings.TrimSpace(sel.Color),
		Size:           strings.TrimSpace(sel.Size),
		ProductType:    strings.TrimSpace(sel.ProductType),
		IsDigital:      sel.IsDigital,
		IsProtected:    sel.IsProtected,
	}
	return NormalizeItem(item)
}

// NormalizeItem re-derives the key and enforces item invariants on a row
// that arrived from the wire or from local storage.
func NormalizeItem(item LineItem) LineItem {
	item.ProductID = strings.TrimSpace(item.ProductID)
	item.VariationID = strings.TrimSpace(item.VariationID)
	item.Color = strings.TrimSpace(item.Color)
	item.Size = strings.TrimSpace(item.Size)
	item.Key = ItemKey(item.ProductID, item.VariationID, item.Color, item.Size)

	if item.Price.IsNegative() {
		item.Price = decimal.Zero
	}
	if item.OriginalPrice.IsNegative() {
		item.OriginalPrice = decimal.Zero
	}
	if item.Quantity < 0 {
		item.Quantity = 0
	}
	if strings.EqualFold(item.ProductType, productTypeDigital) {
		item.IsDigital = true
	}
	if item.IsDigital {
		item.IsProtected = false
	}
	item.IsSyncing = false
	item.SyncError = ""
	return item
}

func clampQuantity(quantity int) int {
	if quantity < 0 {
		return 0
	}
	return quantity
}
