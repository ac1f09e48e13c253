package cartserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	pkgerrors "github.com/mtorres-dev/shopsync/pkg/errors"
	"github.com/mtorres-dev/shopsync/pkg/logger"
)

type userCtxKey struct{}

// RouterParams configure the reference cart server router.
type RouterParams struct {
	Logger         *logger.Logger
	Store          *MemStore
	Replay         ReplayStore
	CORSOrigins    []string
	IdempotencyTTL time.Duration
}

// NewRouter wires the remote cart service contract: snapshot reads,
// preconditioned item mutations behind idempotency replay, and the
// identity-transition merge.
func NewRouter(params RouterParams) (http.Handler, error) {
	handler, err := NewHandler(params.Logger, params.Store)
	if err != nil {
		return nil, err
	}

	origins := params.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "If-Match", "Idempotency-Key"},
		MaxAge:         300,
	}))

	r.Get("/healthz", handler.Healthz)

	r.Group(func(r chi.Router) {
		r.Use(identity(params.Logger))
		r.Get("/cart", handler.GetCart)
		r.With(Idempotency(params.Replay, params.Logger, params.IdempotencyTTL)).
			Post("/cart/items", handler.PutItem)
		r.Post("/cart/sync", handler.SyncCart)
	})

	return r, nil
}

// identity resolves the opaque bearer token into the cart owner. Token
// contents are not interpreted; auth mechanics live upstream.
func identity(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			token, ok := strings.CutPrefix(header, "Bearer ")
			token = strings.TrimSpace(token)
			if !ok || token == "" {
				writeError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "bearer token required"))
				return
			}
			ctx := context.WithValue(r.Context(), userCtxKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func userFromContext(ctx context.Context) string {
	if user, ok := ctx.Value(userCtxKey{}).(string); ok {
		return user
	}
	return ""
}
