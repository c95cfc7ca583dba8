package order

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sarfarazstark/audiophile/internal/common"
	"github.com/sarfarazstark/audiophile/internal/payu"
	"github.com/sarfarazstark/audiophile/internal/store"
)

// Store is the read surface for order tracking.
type Store interface {
	GetOrderByTracking(ctx context.Context, trackingCode string) (store.Order, []store.OrderItem, error)
	GetLatestPaymentByOrder(ctx context.Context, orderID uuid.UUID) (store.Payment, error)
}

// Handlers exposes customer-facing order lookups.
type Handlers struct {
	Store  Store
	Logger zerolog.Logger
}

type itemView struct {
	Title     string `json:"title"`
	Quantity  int32  `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Subtotal  string `json:"subtotal"`
}

type paymentView struct {
	Status        string `json:"status"`
	ProviderTxnID string `json:"providerTxnId,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`
}

type orderView struct {
	TrackingCode string       `json:"trackingCode"`
	Status       string       `json:"status"`
	Currency     string       `json:"currency"`
	Subtotal     string       `json:"subtotal"`
	Shipping     string       `json:"shipping"`
	Tax          string       `json:"tax"`
	Total        string       `json:"total"`
	CreatedAt    time.Time    `json:"createdAt"`
	Items        []itemView   `json:"items"`
	Payment      *paymentView `json:"payment,omitempty"`
}

// Track handles GET /api/v1/orders/track/{trackingCode}. The tracking code is
// the only credential; the view deliberately omits internal identifiers and
// personal data beyond what the customer entered themselves.
func (h *Handlers) Track(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "trackingCode"))
	if code == "" {
		common.JSONError(w, http.StatusBadRequest, "MISSING_TRACKING_CODE", "tracking code is required", nil)
		return
	}

	order, items, err := h.Store.GetOrderByTracking(r.Context(), code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "no order matches this tracking code", nil)
			return
		}
		h.Logger.Error().Err(err).Str("tracking_code", code).Msg("order lookup failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}

	view := orderView{
		TrackingCode: order.TrackingCode,
		Status:       string(order.Status),
		Currency:     order.Currency,
		Subtotal:     payu.FormatAmount(order.Subtotal),
		Shipping:     payu.FormatAmount(order.Shipping),
		Tax:          payu.FormatAmount(order.Tax),
		Total:        payu.FormatAmount(order.Total),
		CreatedAt:    order.CreatedAt,
		Items:        make([]itemView, 0, len(items)),
	}
	for _, item := range items {
		view.Items = append(view.Items, itemView{
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: payu.FormatAmount(item.UnitPrice),
			Subtotal:  payu.FormatAmount(item.Subtotal),
		})
	}

	payment, err := h.Store.GetLatestPaymentByOrder(r.Context(), order.ID)
	switch {
	case err == nil:
		view.Payment = &paymentView{
			Status:        string(payment.Status),
			ProviderTxnID: payment.ProviderTxnID,
			FailureReason: payment.FailureReason,
		}
	case errors.Is(err, store.ErrNotFound):
		// Order without a payment attempt; nothing to show.
	default:
		h.Logger.Warn().Err(err).Str("tracking_code", code).Msg("payment lookup failed")
	}

	common.JSON(w, http.StatusOK, view)
}
