package cartserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mtorres-dev/shopsync/internal/cart"
	pkgerrors "github.com/mtorres-dev/shopsync/pkg/errors"
	"github.com/mtorres-dev/shopsync/pkg/logger"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// Handler serves the remote cart service contract over the in-memory
// store.
type Handler struct {
	logg  *logger.Logger
	store *MemStore
}

// NewHandler builds the cart handlers.
func NewHandler(logg *logger.Logger, store *MemStore) (*Handler, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if store == nil {
		return nil, fmt.Errorf("store required")
	}
	return &Handler{logg: logg, store: store}, nil
}

type itemRequest struct {
	ID             string          `json:"id" validate:"required"`
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
	Quantity       int             `json:"quantity" validate:"gte=0"`
}

func (req itemRequest) toLineItem() cart.LineItem {
	item := cart.Normalize(cart.Selection{
		ProductID:      req.ID,
		Name:           req.Name,
		Slug:           req.Slug,
		Image:          req.Image,
		Price:          req.Price,
		OriginalPrice:  req.OriginalPrice,
		VariationID:    req.VariationID,
		VariationLabel: req.VariationLabel,
		Color:          req.Color,
		Size:           req.Size,
		ProductType:    req.ProductType,
		IsDigital:      req.IsDigital,
		IsProtected:    req.IsProtected,
	})
	item.Quantity = req.Quantity
	return item
}

type syncRequest struct {
	Items []itemRequest `json:"items" validate:"omitempty,dive"`
}

// GetCart returns the full snapshot, creating an empty cart on first
// read.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	writeSnapshot(w, http.StatusOK, h.store.Snapshot(user))
}

// PutItem applies one absolute-quantity mutation guarded by If-Match.
// A stale version responds 409 with the current snapshot.
func (h *Handler) PutItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), h.logg, w, err)
		return
	}
	if req.Price.IsNegative() || req.OriginalPrice.IsNegative() {
		writeError(r.Context(), h.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "prices must be non-negative"))
		return
	}

	user := userFromContext(r.Context())
	ifMatch := strings.TrimSpace(r.Header.Get("If-Match"))

	snap, err := h.store.Apply(user, req.toLineItem(), ifMatch)
	if err != nil {
		if errors.Is(err, ErrVersionMismatch) {
			writeSnapshot(w, http.StatusConflict, snap)
			return
		}
		writeError(r.Context(), h.logg, w, err)
		return
	}
	writeSnapshot(w, http.StatusOK, snap)
}

// SyncCart folds an anonymous cart into the user's server cart, once
// per identity transition.
func (h *Handler) SyncCart(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), h.logg, w, err)
		return
	}

	user := userFromContext(r.Context())
	items := make([]cart.LineItem, 0, len(req.Items))
	for _, row := range req.Items {
		items = append(items, row.toLineItem())
	}
	writeSnapshot(w, http.StatusOK, h.store.Merge(user, items))
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").
			WithDetails(map[string]any{"error": err.Error()})
	}
	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) *pkgerrors.Error {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
