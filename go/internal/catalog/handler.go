package catalog

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionhouse/go/internal/httputil"
)

// Handler serves the products endpoint.
type Handler struct {
	app *App
}

// NewHandler creates a products handler.
func NewHandler(app *App) *Handler {
	return &Handler{app: app}
}

// HandleProducts returns one product when ?id= is given, otherwise all of them.
func (h *Handler) HandleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.RespondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if id := r.URL.Query().Get("id"); id != "" {
		product, err := h.app.GetProduct(r.Context(), id)
		if errors.Is(err, ErrProductNotFound) {
			httputil.RespondError(w, http.StatusNotFound, "Product not found")
			return
		}
		if err != nil {
			log.Error().Err(err).Str("product_id", id).Msg("failed to fetch product")
			httputil.RespondError(w, http.StatusInternalServerError, "Failed to fetch products")
			return
		}
		httputil.RespondJSON(w, http.StatusOK, product)
		return
	}

	products, err := h.app.ListProducts(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list products")
		httputil.RespondError(w, http.StatusInternalServerError, "Failed to fetch products")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, products)
}

// RegisterRoutes registers the products route with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/products", h.HandleProducts)
}
