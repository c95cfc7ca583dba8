package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sarfarazstark/audiophile/internal/common"
	"github.com/sarfarazstark/audiophile/internal/store"
)

// ReplayGuard deduplicates webhook deliveries. A delivery is recorded only
// once it has been fully processed; deliveries that leave the payment open
// must stay eligible for reprocessing when the provider retries them.
type ReplayGuard interface {
	// Seen reports whether this exact delivery was already processed.
	Seen(ctx context.Context, key string) (bool, error)
	// MarkProcessed records a processed delivery for the guard's TTL.
	MarkProcessed(ctx context.Context, key string) error
}

// RedisReplayGuard implements ReplayGuard on shared Redis keys, so the check
// works across multiple API instances.
type RedisReplayGuard struct {
	Client *redis.Client
	TTL    time.Duration
}

// Seen implements ReplayGuard.
func (g *RedisReplayGuard) Seen(ctx context.Context, key string) (bool, error) {
	n, err := g.Client.Exists(ctx, "payu:webhook:"+key).Result()
	return n > 0, err
}

// MarkProcessed implements ReplayGuard.
func (g *RedisReplayGuard) MarkProcessed(ctx context.Context, key string) error {
	return g.Client.Set(ctx, "payu:webhook:"+key, 1, g.TTL).Err()
}

// Handlers exposes the provider callback endpoints.
type Handlers struct {
	Service      *Service
	Guard        ReplayGuard
	FrontBaseURL string
	Logger       zerolog.Logger
}

// Success handles the browser redirect the provider issues after a completed
// payment attempt. PayU posts the transaction fields to this URL.
func (h *Handlers) Success(w http.ResponseWriter, r *http.Request) {
	h.redirect(w, r)
}

// Failure handles the browser redirect for failed or cancelled attempts. The
// body is processed the same way as Success; the reported status decides the
// outcome, not the endpoint the provider happened to hit.
func (h *Handlers) Failure(w http.ResponseWriter, r *http.Request) {
	h.redirect(w, r)
}

func (h *Handlers) redirect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, h.frontURL("/payment/failed", url.Values{"error": {"invalid_request"}}), http.StatusSeeOther)
		return
	}
	n, err := ParseNotification(r.PostForm)
	if err != nil {
		http.Redirect(w, r, h.frontURL("/payment/failed", url.Values{"error": {"invalid_request"}}), http.StatusSeeOther)
		return
	}

	result, err := h.Service.Apply(r.Context(), n, ChannelRedirect)
	if err != nil {
		h.Logger.Error().Err(err).Str("txnid", n.TxnID).Msg("redirect callback processing failed")
		http.Redirect(w, r, h.frontURL("/payment/failed", url.Values{"error": {"processing_error"}}), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, h.destination(result), http.StatusSeeOther)
}

// destination maps a callback outcome to the storefront page the customer
// should land on.
func (h *Handlers) destination(result ApplyResult) string {
	tracking := url.Values{}
	if result.Order.TrackingCode != "" {
		tracking.Set("order", result.Order.TrackingCode)
	}

	switch result.Outcome {
	case OutcomeApplied, OutcomeAlreadySettled:
		if result.Payment.Status == store.PaymentStatusSucceeded {
			return h.frontURL("/payment/success", tracking)
		}
		return h.frontURL("/payment/failed", tracking)
	case OutcomeInvalidHash, OutcomeAmountMismatch:
		return h.frontURL("/payment/failed", url.Values{"error": {"security_breach"}})
	case OutcomeUnknownTxn:
		return h.frontURL("/payment/failed", url.Values{"error": {"unknown_transaction"}})
	case OutcomeUnverified, OutcomePendingIgnored:
		return h.frontURL("/payment/pending", tracking)
	default:
		return h.frontURL("/payment/failed", nil)
	}
}

func (h *Handlers) frontURL(path string, query url.Values) string {
	u := h.FrontBaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Webhook handles the server-to-server notification. It acknowledges with
// 200 for every parseable delivery; a non-200 only signals that the provider
// should retry, which is wanted solely for transient processing failures.
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_FORM", "request body must be form-encoded", nil)
		return
	}
	n, err := ParseNotification(r.PostForm)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_NOTIFICATION", err.Error(), nil)
		return
	}

	key := deliveryKey(n)
	if h.Guard != nil {
		seen, err := h.Guard.Seen(r.Context(), key)
		if err != nil {
			// The settlement path is idempotent anyway; a broken guard must
			// not make us drop deliveries.
			h.Logger.Warn().Err(err).Str("txnid", n.TxnID).Msg("replay guard unavailable")
		} else if seen {
			common.JSON(w, http.StatusOK, map[string]string{"status": "ok", "result": "replay_ignored"})
			return
		}
	}

	result, err := h.Service.Apply(r.Context(), n, ChannelWebhook)
	if err != nil {
		h.Logger.Error().Err(err).Str("txnid", n.TxnID).Msg("webhook processing failed")
		common.JSONError(w, http.StatusInternalServerError, "PROCESSING_FAILED", "notification could not be processed", nil)
		return
	}

	// Only a delivery that found the payment settled is recorded. Unverified
	// and interim outcomes leave the key unset so the provider's retry of the
	// identical notification is reprocessed rather than answered as a replay.
	if h.Guard != nil && (result.Outcome == OutcomeApplied || result.Outcome == OutcomeAlreadySettled) {
		if err := h.Guard.MarkProcessed(r.Context(), key); err != nil {
			h.Logger.Warn().Err(err).Str("txnid", n.TxnID).Msg("could not record webhook delivery")
		}
	}
	common.JSON(w, http.StatusOK, map[string]string{"status": "ok", "result": string(result.Outcome)})
}

// deliveryKey identifies one concrete notification. The hash participates so
// a later, legitimately different status report for the same transaction is
// not mistaken for a replay.
func deliveryKey(n Notification) string {
	sum := sha256.Sum256([]byte(n.TxnID + "|" + n.Status + "|" + n.Hash))
	return hex.EncodeToString(sum[:])
}
