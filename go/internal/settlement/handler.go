package settlement

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/httputil"
)

// FinalizeResponse is returned by the finalize endpoint.
type FinalizeResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Result  *Result `json:"result,omitempty"`
}

// Handler serves the REST finalize endpoint.
type Handler struct {
	app *App
}

// NewHandler creates a finalize handler.
func NewHandler(app *App) *Handler {
	return &Handler{app: app}
}

// HandleFinalize settles {productId, winner, amount}.
func (h *Handler) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.RespondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req auction.FinalizeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.app.Finalize(r.Context(), req)
	if errors.Is(err, ErrInvalidRequest) {
		httputil.RespondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	if err != nil {
		log.Error().Err(err).Str("product_id", req.ProductID).Msg("failed to finalize auction")
		httputil.RespondError(w, http.StatusInternalServerError, "Failed to finalize auction")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, FinalizeResponse{
		Success: true,
		Message: "Auction finalized successfully",
		Result:  result,
	})
}

// validationMessage strips the sentinel prefix so the client sees which
// field is wrong.
func validationMessage(err error) string {
	return strings.TrimPrefix(err.Error(), ErrInvalidRequest.Error()+": ")
}

// RegisterRoutes registers the finalize route with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/finalize-auction", h.HandleFinalize)
}
