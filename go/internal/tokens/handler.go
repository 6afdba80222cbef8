package tokens

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionhouse/go/internal/httputil"
)

// TokenRequest is the body of a token request.
type TokenRequest struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// TokenResponse carries the issued token.
type TokenResponse struct {
	Token string `json:"token"`
}

// Handler serves the token endpoint. A nil issuer means the server was
// started without a signing secret and every request fails with 500.
type Handler struct {
	issuer *Issuer
}

// NewHandler creates a token handler.
func NewHandler(issuer *Issuer) *Handler {
	return &Handler{issuer: issuer}
}

// HandleToken issues a token for {userId, userName}.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.RespondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req TokenRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch {
	case req.UserID == "":
		httputil.RespondError(w, http.StatusBadRequest, "userId is required")
		return
	case req.UserName == "":
		httputil.RespondError(w, http.StatusBadRequest, "userName is required")
		return
	}

	if h.issuer == nil {
		log.Error().Err(ErrMissingSecret).Msg("token requested but issuer is not configured")
		httputil.RespondError(w, http.StatusInternalServerError, "Server configuration error")
		return
	}

	token, expiresAt, err := h.issuer.CreateToken(req.UserID, req.UserName)
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to create token")
		httputil.RespondError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	log.Info().
		Str("user_id", req.UserID).
		Time("expires_at", expiresAt).
		Msg("issued channel token")

	httputil.RespondJSON(w, http.StatusOK, TokenResponse{Token: token})
}

// RegisterRoutes registers the token route with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/get-stream-token", h.HandleToken)
}
