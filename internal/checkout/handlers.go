package checkout

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sarfarazstark/audiophile/internal/common"
)

// Handlers exposes the checkout flow over HTTP.
type Handlers struct {
	Service *Service
	Logger  zerolog.Logger
}

// Create handles POST /api/v1/checkout.
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_JSON", "request body must be valid JSON", nil)
		return
	}

	result, err := h.Service.Checkout(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusCreated, result)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	h.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("unhandled checkout error")
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
}
