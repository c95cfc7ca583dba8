package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sarfarazstark/audiophile/internal/common"
	"github.com/sarfarazstark/audiophile/internal/config"
	"github.com/sarfarazstark/audiophile/internal/events"
	"github.com/sarfarazstark/audiophile/internal/obs"
	"github.com/sarfarazstark/audiophile/internal/payu"
	"github.com/sarfarazstark/audiophile/internal/pricing"
	"github.com/sarfarazstark/audiophile/internal/store"
)

// productInfoMaxLen caps the provider-facing order summary; the value is
// part of the hash payload so both sides must see the same string.
const productInfoMaxLen = 100

// Store is the persistence surface the checkout flow needs.
type Store interface {
	GetProductsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]store.Product, error)
	CreateOrderWithPayment(ctx context.Context, order store.Order, items []store.OrderItem) (store.Order, store.Payment, error)
}

// Provider initiates payments with the gateway.
type Provider interface {
	InitiateHosted(ctx context.Context, req payu.CheckoutRequest) (string, error)
	WidgetParams(f payu.Fields, phone, surl, furl string) payu.WidgetBundle
}

// Customer is the billing/shipping identity submitted at checkout.
type Customer struct {
	FullName     string `json:"fullName" validate:"required,min=2,max=120"`
	Email        string `json:"email" validate:"required,email"`
	Phone        string `json:"phone" validate:"required,min=6,max=20"`
	AddressLine1 string `json:"addressLine1" validate:"required,max=200"`
	AddressLine2 string `json:"addressLine2" validate:"max=200"`
	City         string `json:"city" validate:"required,max=100"`
	State        string `json:"state" validate:"required,max=100"`
	PostalCode   string `json:"postalCode" validate:"required,max=20"`
	Country      string `json:"country" validate:"required,max=60"`
}

// ItemInput references a catalog product; unit prices are intentionally
// absent because the server resolves them from the catalog.
type ItemInput struct {
	ProductID uuid.UUID `json:"productId" validate:"required"`
	Quantity  int32     `json:"quantity" validate:"required,gt=0,lte=50"`
}

// Input is a checkout submission.
type Input struct {
	Customer Customer    `json:"customer" validate:"required"`
	Items    []ItemInput `json:"items" validate:"required,min=1,max=50,dive"`
}

// Result describes an initiated checkout. Exactly one of RedirectURL and
// Widget is populated, depending on the configured flow mode.
type Result struct {
	OrderID      uuid.UUID          `json:"orderId"`
	TrackingCode string             `json:"trackingCode"`
	TxnID        string             `json:"txnId"`
	Amount       string             `json:"amount"`
	Currency     string             `json:"currency"`
	Mode         string             `json:"mode"`
	RedirectURL  string             `json:"redirectUrl,omitempty"`
	Widget       *payu.WidgetBundle `json:"widget,omitempty"`
}

// Service orchestrates order creation and payment initiation.
type Service struct {
	store    Store
	provider Provider
	bus      *events.Bus
	cfg      *config.Config
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewService wires the checkout flow.
func NewService(st Store, provider Provider, bus *events.Bus, cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		store:    st,
		provider: provider,
		bus:      bus,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Checkout validates the submission, prices it from the catalog, persists the
// order with a PENDING payment and then initiates the payment with the
// gateway. Persistence happens before the provider call so a failed or
// abandoned initiation still leaves an auditable PENDING record.
func (s *Service) Checkout(ctx context.Context, in Input) (Result, error) {
	ctx, span := otel.Tracer("checkout").Start(ctx, "checkout.Checkout")
	defer span.End()

	var zero Result
	if err := s.validate.Struct(in); err != nil {
		s.count("rejected")
		return zero, common.NewAppError("VALIDATION_ERROR", "invalid checkout payload", http.StatusBadRequest, err)
	}

	order, items, err := s.price(ctx, in)
	if err != nil {
		s.count("rejected")
		return zero, err
	}

	order, payment, err := s.store.CreateOrderWithPayment(ctx, order, items)
	if err != nil {
		s.count("error")
		return zero, common.NewAppError("ORDER_CREATE_FAILED", "could not create order", http.StatusInternalServerError, err)
	}
	span.SetAttributes(
		attribute.String("order.id", order.ID.String()),
		attribute.String("payment.txnid", payment.ID.String()),
	)

	s.emit(ctx, events.TopicOrderCreated, order)

	// The payment row id doubles as the provider-facing txnid so callbacks
	// map back to exactly one payment attempt.
	txnid := payment.ID.String()
	productInfo := summarize(items)
	result := Result{
		OrderID:      order.ID,
		TrackingCode: order.TrackingCode,
		TxnID:        txnid,
		Amount:       payu.FormatAmount(order.Total),
		Currency:     order.Currency,
		Mode:         s.cfg.PayUMode,
	}

	surl := s.cfg.PublicBaseURL + "/api/v1/payments/payu/success"
	furl := s.cfg.PublicBaseURL + "/api/v1/payments/payu/failure"

	switch s.cfg.PayUMode {
	case config.ModeWidget:
		bundle := s.provider.WidgetParams(payu.Fields{
			TxnID:       txnid,
			Amount:      payu.FormatAmount(order.Total),
			ProductInfo: productInfo,
			FirstName:   firstName(order.FullName),
			Email:       order.Email,
			UDF:         [5]string{order.ID.String()},
		}, order.Phone, surl, furl)
		result.Widget = &bundle
	default:
		redirect, err := s.provider.InitiateHosted(ctx, payu.CheckoutRequest{
			TxnID:        txnid,
			AmountMinor:  order.Total,
			ProductInfo:  productInfo,
			FirstName:    firstName(order.FullName),
			Email:        order.Email,
			Phone:        order.Phone,
			AddressLine1: order.AddressLine1,
			City:         order.City,
			State:        order.State,
			Country:      order.Country,
			PostalCode:   order.PostalCode,
			SuccessURL:   surl,
			FailureURL:   furl,
			CancelURL:    furl,
		})
		if err != nil {
			// The PENDING order and payment stay behind for retry/audit.
			s.logger.Warn().Err(err).
				Str("order_id", order.ID.String()).
				Str("txnid", txnid).
				Msg("payment initiation failed")
			s.count("provider_error")
			return zero, mapProviderError(err)
		}
		result.RedirectURL = redirect
	}

	s.count("initiated")
	s.logger.Info().
		Str("order_id", order.ID.String()).
		Str("tracking_code", order.TrackingCode).
		Str("txnid", txnid).
		Int64("total_minor", order.Total).
		Str("mode", result.Mode).
		Msg("checkout initiated")
	return result, nil
}

// price resolves authoritative catalog prices and computes the order totals.
// Client-submitted prices never exist in the input type, so tampering with
// amounts requires tampering with the catalog itself.
func (s *Service) price(ctx context.Context, in Input) (store.Order, []store.OrderItem, error) {
	ids := make([]uuid.UUID, 0, len(in.Items))
	for _, item := range in.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return store.Order{}, nil, common.NewAppError("CATALOG_LOOKUP_FAILED", "could not resolve products", http.StatusInternalServerError, err)
	}

	items := make([]store.OrderItem, 0, len(in.Items))
	priced := make([]pricing.Item, 0, len(in.Items))
	for _, item := range in.Items {
		product, ok := products[item.ProductID]
		if !ok {
			return store.Order{}, nil, common.NewAppError("PRODUCT_NOT_FOUND",
				fmt.Sprintf("unknown product %s", item.ProductID), http.StatusUnprocessableEntity, nil)
		}
		items = append(items, store.OrderItem{
			ProductID: product.ID,
			Title:     product.Name,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
			Subtotal:  product.Price * int64(item.Quantity),
		})
		priced = append(priced, pricing.Item{Qty: int(item.Quantity), UnitPrice: product.Price})
	}

	quote, err := pricing.Compute(pricing.Subtotal(priced), pricing.Config{
		ShippingFee: s.cfg.ShippingFeeMinor,
		TaxRateBps:  s.cfg.TaxRateBps,
	})
	if err != nil {
		return store.Order{}, nil, common.NewAppError("PRICING_FAILED", "could not price order", http.StatusUnprocessableEntity, err)
	}

	c := in.Customer
	return store.Order{
		TrackingCode: store.NewTrackingCode(),
		FullName:     strings.TrimSpace(c.FullName),
		Email:        strings.TrimSpace(c.Email),
		Phone:        strings.TrimSpace(c.Phone),
		AddressLine1: strings.TrimSpace(c.AddressLine1),
		AddressLine2: strings.TrimSpace(c.AddressLine2),
		City:         strings.TrimSpace(c.City),
		State:        strings.TrimSpace(c.State),
		PostalCode:   strings.TrimSpace(c.PostalCode),
		Country:      strings.TrimSpace(c.Country),
		Currency:     s.cfg.Currency,
		Subtotal:     quote.Subtotal,
		Shipping:     quote.Shipping,
		Tax:          quote.Tax,
		Total:        quote.Total,
		Status:       store.OrderStatusPendingPayment,
	}, items, nil
}

func (s *Service) emit(ctx context.Context, topic string, order store.Order) {
	if s.bus == nil {
		return
	}
	_, err := s.bus.Emit(ctx, topic, order.ID, map[string]any{
		"trackingCode": order.TrackingCode,
		"totalMinor":   order.Total,
		"currency":     order.Currency,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Msg("event emission failed")
	}
}

func (s *Service) count(result string) {
	if obs.CheckoutTotal != nil {
		obs.CheckoutTotal.WithLabelValues(s.cfg.PayUMode, result).Inc()
	}
}

func mapProviderError(err error) error {
	if errors.Is(err, payu.ErrUnavailable) {
		return common.NewAppError("PROVIDER_UNAVAILABLE", "payment provider is temporarily unavailable", http.StatusServiceUnavailable, err)
	}
	var rejection *payu.RejectionError
	if errors.As(err, &rejection) {
		return common.NewAppError("PROVIDER_REJECTED", rejection.Message, http.StatusBadGateway, err)
	}
	return common.NewAppError("PROVIDER_ERROR", "payment initiation failed", http.StatusBadGateway, err)
}

// summarize renders the provider-facing order description from the priced
// item snapshots, truncated with a marker when it exceeds the field limit.
func summarize(items []store.OrderItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%s x %d", item.Title, item.Quantity))
	}
	info := strings.Join(parts, ", ")
	if len(info) > productInfoMaxLen {
		// Cut on a rune boundary; the string feeds the hash payload verbatim
		// and must stay valid UTF-8.
		cut := productInfoMaxLen - 3
		for cut > 0 && !utf8.RuneStart(info[cut]) {
			cut--
		}
		info = info[:cut] + "..."
	}
	return info
}

func firstName(fullName string) string {
	name := strings.TrimSpace(fullName)
	if idx := strings.IndexByte(name, ' '); idx > 0 {
		return name[:idx]
	}
	return name
}
