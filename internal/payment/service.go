package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sarfarazstark/audiophile/internal/events"
	"github.com/sarfarazstark/audiophile/internal/obs"
	"github.com/sarfarazstark/audiophile/internal/payu"
	"github.com/sarfarazstark/audiophile/internal/store"
)

// Callback channels. The webhook channel is server-to-server; the redirect
// channel passes through the customer's browser and is therefore weaker.
const (
	ChannelRedirect = "redirect"
	ChannelWebhook  = "webhook"
)

// Outcome classifies what a callback did to the payment record.
type Outcome string

const (
	// OutcomeApplied means the payment moved from PENDING to a terminal state.
	OutcomeApplied Outcome = "applied"
	// OutcomeAlreadySettled means the payment was terminal before this callback.
	OutcomeAlreadySettled Outcome = "already_settled"
	// OutcomeInvalidHash means the signature did not verify; nothing changed.
	OutcomeInvalidHash Outcome = "invalid_hash"
	// OutcomeUnknownTxn means no payment matches the transaction id.
	OutcomeUnknownTxn Outcome = "unknown_txn"
	// OutcomeAmountMismatch means the reported amount differs from the charge.
	OutcomeAmountMismatch Outcome = "amount_mismatch"
	// OutcomeUnverified means server-side verification could not confirm a
	// reported success; the payment stays PENDING.
	OutcomeUnverified Outcome = "unverified"
	// OutcomePendingIgnored means the provider reported a non-terminal state.
	OutcomePendingIgnored Outcome = "pending_ignored"
)

// Notification is a parsed provider callback. Field values are kept exactly
// as transmitted because they feed the hash recomputation.
type Notification struct {
	TxnID         string
	Status        string
	Amount        string
	ProductInfo   string
	FirstName     string
	Email         string
	Hash          string
	ProviderTxnID string
	ErrorMessage  string
	UDF           [5]string

	raw url.Values
}

// ParseNotification extracts the callback fields from a form-encoded body.
// Only a missing transaction id makes a notification unparseable.
func ParseNotification(values url.Values) (Notification, error) {
	n := Notification{
		TxnID:         values.Get("txnid"),
		Status:        values.Get("status"),
		Amount:        values.Get("amount"),
		ProductInfo:   values.Get("productinfo"),
		FirstName:     values.Get("firstname"),
		Email:         values.Get("email"),
		Hash:          values.Get("hash"),
		ProviderTxnID: values.Get("mihpayid"),
		ErrorMessage:  values.Get("error_Message"),
		raw:           values,
	}
	for i := range n.UDF {
		n.UDF[i] = values.Get(fmt.Sprintf("udf%d", i+1))
	}
	if strings.TrimSpace(n.TxnID) == "" {
		return n, fmt.Errorf("payment: notification missing txnid")
	}
	return n, nil
}

// RawJSON renders the full callback payload for audit storage.
func (n Notification) RawJSON() []byte {
	flat := make(map[string]string, len(n.raw))
	for key := range n.raw {
		flat[key] = n.raw.Get(key)
	}
	encoded, err := json.Marshal(flat)
	if err != nil {
		return []byte("{}")
	}
	return encoded
}

func (n Notification) fields() payu.Fields {
	return payu.Fields{
		TxnID:       n.TxnID,
		Amount:      n.Amount,
		ProductInfo: n.ProductInfo,
		FirstName:   n.FirstName,
		Email:       n.Email,
		UDF:         n.UDF,
	}
}

// Store is the persistence surface callback processing needs.
type Store interface {
	GetPayment(ctx context.Context, id uuid.UUID) (store.Payment, error)
	SettlePayment(ctx context.Context, id uuid.UUID, status store.PaymentStatus, providerTxnID, failureReason string, rawPayload []byte) (bool, error)
	GetOrder(ctx context.Context, id uuid.UUID) (store.Order, []store.OrderItem, error)
	InsertPaymentEvent(ctx context.Context, paymentID uuid.UUID, status store.PaymentStatus, payload []byte) error
}

// Verifier confirms transaction state with the provider, server to server.
type Verifier interface {
	VerifyPayment(ctx context.Context, txnid string) (payu.VerifyResult, error)
}

// ApplyResult reports what a callback changed and carries the records the
// HTTP layer needs to build a response or redirect.
type ApplyResult struct {
	Outcome Outcome
	Payment store.Payment
	Order   store.Order
}

// Service applies provider callbacks to payment records.
type Service struct {
	store            Store
	codec            payu.Codec
	verifier         Verifier
	bus              *events.Bus
	verifyOnRedirect bool
	logger           zerolog.Logger
}

// NewService wires callback processing. When verifyOnRedirect is set,
// browser-channel success reports are confirmed with the provider before
// settling; webhook success reports are always confirmed.
func NewService(st Store, codec payu.Codec, verifier Verifier, bus *events.Bus, verifyOnRedirect bool, logger zerolog.Logger) *Service {
	return &Service{
		store:            st,
		codec:            codec,
		verifier:         verifier,
		bus:              bus,
		verifyOnRedirect: verifyOnRedirect,
		logger:           logger,
	}
}

// Apply validates and settles one provider notification. It never moves a
// payment out of a terminal state, and concurrent deliveries of the same
// notification settle exactly once through the store's conditional update.
func (s *Service) Apply(ctx context.Context, n Notification, channel string) (ApplyResult, error) {
	ctx, span := otel.Tracer("payment").Start(ctx, "payment.Apply")
	defer span.End()
	span.SetAttributes(attribute.String("callback.channel", channel), attribute.String("callback.txnid", n.TxnID))

	log := s.logger.With().Str("channel", channel).Str("txnid", n.TxnID).Logger()

	// Signature check comes before everything else, the payment lookup
	// included; an invalid hash means the payload cannot be trusted at all,
	// and a caller without the salt must not be able to learn whether a
	// transaction id exists.
	if !s.codec.VerifyResponse(n.Status, n.fields(), n.Hash) {
		log.Warn().Msg("callback hash verification failed")
		return s.outcome(channel, ApplyResult{Outcome: OutcomeInvalidHash}), nil
	}

	paymentID, err := uuid.Parse(strings.TrimSpace(n.TxnID))
	if err != nil {
		log.Warn().Msg("callback for malformed transaction id")
		return s.outcome(channel, ApplyResult{Outcome: OutcomeUnknownTxn}), nil
	}

	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn().Msg("callback for unknown transaction")
			return s.outcome(channel, ApplyResult{Outcome: OutcomeUnknownTxn}), nil
		}
		return ApplyResult{}, fmt.Errorf("payment: load payment: %w", err)
	}

	if payment.Status.Terminal() {
		return s.withOrder(ctx, channel, ApplyResult{Outcome: OutcomeAlreadySettled, Payment: payment})
	}

	reported, err := payu.ParseAmount(n.Amount)
	if err != nil || reported != payment.Amount {
		log.Warn().Str("reported_amount", n.Amount).Int64("expected_minor", payment.Amount).
			Msg("callback amount mismatch")
		return s.outcome(channel, ApplyResult{Outcome: OutcomeAmountMismatch, Payment: payment}), nil
	}

	status := strings.ToLower(strings.TrimSpace(n.Status))
	switch status {
	case "success":
		return s.applySuccess(ctx, channel, payment, n, log)
	case "failure", "failed":
		return s.settle(ctx, channel, payment, store.PaymentStatusFailed, n.ProviderTxnID, failureReason(n.ErrorMessage, status), n.RawJSON())
	default:
		// "pending", "in progress" and similar states are recorded but never
		// settle the payment.
		if err := s.store.InsertPaymentEvent(ctx, payment.ID, store.PaymentStatusPending, n.RawJSON()); err != nil {
			log.Warn().Err(err).Msg("could not record interim payment event")
		}
		return s.outcome(channel, ApplyResult{Outcome: OutcomePendingIgnored, Payment: payment}), nil
	}
}

func (s *Service) applySuccess(ctx context.Context, channel string, payment store.Payment, n Notification, log zerolog.Logger) (ApplyResult, error) {
	needsVerify := channel == ChannelWebhook || s.verifyOnRedirect
	providerTxnID := n.ProviderTxnID

	if needsVerify && s.verifier != nil {
		verified, err := s.verifier.VerifyPayment(ctx, payment.ID.String())
		if err != nil {
			// A success report that cannot be confirmed stays PENDING; the
			// provider retries webhooks and the query can be repeated.
			log.Warn().Err(err).Msg("success report could not be verified")
			s.countVerify("error")
			return s.outcome(channel, ApplyResult{Outcome: OutcomeUnverified, Payment: payment}), nil
		}
		if verified.AmountMinor != 0 && verified.AmountMinor != payment.Amount {
			log.Warn().Int64("verified_minor", verified.AmountMinor).Int64("expected_minor", payment.Amount).
				Msg("verified amount mismatch")
			s.countVerify("amount_mismatch")
			return s.outcome(channel, ApplyResult{Outcome: OutcomeAmountMismatch, Payment: payment}), nil
		}
		if !verified.Confirmed {
			switch verified.Status {
			case "failure", "failed":
				s.countVerify("not_confirmed")
				return s.settle(ctx, channel, payment, store.PaymentStatusFailed, verified.ProviderTxnID,
					failureReason(verified.FailureMessage, verified.Status), n.RawJSON())
			default:
				// The query answered with an interim state such as "pending";
				// only a definitive failure settles. The payment stays PENDING
				// until the provider reports again.
				log.Info().Str("verified_status", verified.Status).Msg("verification reported interim status")
				s.countVerify("interim")
				if err := s.store.InsertPaymentEvent(ctx, payment.ID, store.PaymentStatusPending, n.RawJSON()); err != nil {
					log.Warn().Err(err).Msg("could not record interim payment event")
				}
				return s.outcome(channel, ApplyResult{Outcome: OutcomeUnverified, Payment: payment}), nil
			}
		}
		s.countVerify("confirmed")
		if verified.ProviderTxnID != "" {
			providerTxnID = verified.ProviderTxnID
		}
	}

	return s.settle(ctx, channel, payment, store.PaymentStatusSucceeded, providerTxnID, "", n.RawJSON())
}

func (s *Service) settle(ctx context.Context, channel string, payment store.Payment, status store.PaymentStatus, providerTxnID, reason string, raw []byte) (ApplyResult, error) {
	applied, err := s.store.SettlePayment(ctx, payment.ID, status, providerTxnID, reason, raw)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("payment: settle: %w", err)
	}
	if !applied {
		// Lost the race to another delivery; report the state that won.
		current, err := s.store.GetPayment(ctx, payment.ID)
		if err != nil {
			return ApplyResult{}, fmt.Errorf("payment: reload after race: %w", err)
		}
		return s.withOrder(ctx, channel, ApplyResult{Outcome: OutcomeAlreadySettled, Payment: current})
	}

	payment.Status = status
	payment.ProviderTxnID = providerTxnID
	payment.FailureReason = reason

	result, err := s.withOrder(ctx, channel, ApplyResult{Outcome: OutcomeApplied, Payment: payment})
	if err != nil {
		return result, err
	}

	topic := events.TopicOrderPaid
	if status == store.PaymentStatusFailed {
		topic = events.TopicPaymentFailed
	}
	s.emit(ctx, topic, result)

	s.logger.Info().
		Str("channel", channel).
		Str("txnid", payment.ID.String()).
		Str("status", string(status)).
		Str("provider_txn_id", providerTxnID).
		Msg("payment settled")
	return result, nil
}

func (s *Service) withOrder(ctx context.Context, channel string, result ApplyResult) (ApplyResult, error) {
	order, _, err := s.store.GetOrder(ctx, result.Payment.OrderID)
	if err != nil {
		return result, fmt.Errorf("payment: load order: %w", err)
	}
	result.Order = order
	return s.outcome(channel, result), nil
}

func (s *Service) emit(ctx context.Context, topic string, result ApplyResult) {
	if s.bus == nil {
		return
	}
	_, err := s.bus.Emit(ctx, topic, result.Order.ID, map[string]any{
		"trackingCode":  result.Order.TrackingCode,
		"paymentStatus": result.Payment.Status,
		"providerTxnId": result.Payment.ProviderTxnID,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Msg("event emission failed")
	}
}

func (s *Service) outcome(channel string, result ApplyResult) ApplyResult {
	if obs.PaymentCallbackTotal != nil {
		obs.PaymentCallbackTotal.WithLabelValues(channel, string(result.Outcome)).Inc()
	}
	return result
}

func (s *Service) countVerify(result string) {
	if obs.ProviderVerifyTotal != nil {
		obs.ProviderVerifyTotal.WithLabelValues(result).Inc()
	}
}

func failureReason(message, status string) string {
	if strings.TrimSpace(message) != "" {
		return message
	}
	return "payment " + status
}
