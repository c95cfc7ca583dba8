package checkout

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sarfarazstark/audiophile/internal/common"
	"github.com/sarfarazstark/audiophile/internal/config"
	"github.com/sarfarazstark/audiophile/internal/payu"
	"github.com/sarfarazstark/audiophile/internal/store"
)

type fakeStore struct {
	products map[uuid.UUID]store.Product

	createdOrder   *store.Order
	createdItems   []store.OrderItem
	createdPayment *store.Payment
}

func (f *fakeStore) GetProductsByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]store.Product, error) {
	out := make(map[uuid.UUID]store.Product, len(ids))
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeStore) CreateOrderWithPayment(_ context.Context, order store.Order, items []store.OrderItem) (store.Order, store.Payment, error) {
	order.ID = uuid.New()
	payment := store.Payment{
		ID:       uuid.New(),
		OrderID:  order.ID,
		Provider: "payu",
		Currency: order.Currency,
		Amount:   order.Total,
		Status:   store.PaymentStatusPending,
	}
	f.createdOrder = &order
	f.createdItems = items
	f.createdPayment = &payment
	return order, payment, nil
}

type fakeProvider struct {
	codec payu.Codec

	hostedReq  *payu.CheckoutRequest
	hostedURL  string
	hostedErr  error
	widgetSeen *payu.Fields
}

func (f *fakeProvider) InitiateHosted(_ context.Context, req payu.CheckoutRequest) (string, error) {
	f.hostedReq = &req
	if f.hostedErr != nil {
		return "", f.hostedErr
	}
	return f.hostedURL, nil
}

func (f *fakeProvider) WidgetParams(fields payu.Fields, phone, surl, furl string) payu.WidgetBundle {
	f.widgetSeen = &fields
	client := payu.Client{Codec: f.codec, Sandbox: true}
	return client.WidgetParams(fields, phone, surl, furl)
}

func testConfig(mode string) *config.Config {
	return &config.Config{
		PayUMode:         mode,
		PublicBaseURL:    "https://shop.example.com",
		FrontBaseURL:     "https://shop.example.com",
		Currency:         "INR",
		ShippingFeeMinor: 6000,
		TaxRateBps:       2000,
	}
}

func validInput(productID uuid.UUID, qty int32) Input {
	return Input{
		Customer: Customer{
			FullName:     "Alexei Ward",
			Email:        "alexei@mail.com",
			Phone:        "+12025550136",
			AddressLine1: "1137 Williams Avenue",
			City:         "New York",
			State:        "NY",
			PostalCode:   "10001",
			Country:      "United States",
		},
		Items: []ItemInput{{ProductID: productID, Quantity: qty}},
	}
}

func TestCheckoutUsesCatalogPricesNotClientInput(t *testing.T) {
	productID := uuid.New()
	st := &fakeStore{products: map[uuid.UUID]store.Product{
		productID: {ID: productID, Slug: "xx59", Name: "XX59 Headphones", Price: 50_000},
	}}
	provider := &fakeProvider{hostedURL: "https://test.payu.in/checkout/abc"}
	svc := NewService(st, provider, nil, testConfig(config.ModeHosted), zerolog.Nop())

	result, err := svc.Checkout(context.Background(), validInput(productID, 2))
	require.NoError(t, err)

	// subtotal 1000.00, shipping 60.00, vat 20% => total 1260.00
	require.Equal(t, int64(100_000), st.createdOrder.Subtotal)
	require.Equal(t, int64(6_000), st.createdOrder.Shipping)
	require.Equal(t, int64(20_000), st.createdOrder.Tax)
	require.Equal(t, int64(126_000), st.createdOrder.Total)
	require.Equal(t, "1260.00", result.Amount)
	require.Equal(t, int64(50_000), st.createdItems[0].UnitPrice)
	require.Equal(t, "https://test.payu.in/checkout/abc", result.RedirectURL)
	require.Nil(t, result.Widget)
}

func TestCheckoutTxnIDIsPaymentID(t *testing.T) {
	productID := uuid.New()
	st := &fakeStore{products: map[uuid.UUID]store.Product{
		productID: {ID: productID, Name: "ZX7 Speaker", Price: 350_000},
	}}
	provider := &fakeProvider{hostedURL: "https://test.payu.in/checkout/abc"}
	svc := NewService(st, provider, nil, testConfig(config.ModeHosted), zerolog.Nop())

	result, err := svc.Checkout(context.Background(), validInput(productID, 1))
	require.NoError(t, err)
	require.Equal(t, st.createdPayment.ID.String(), result.TxnID)
	require.Equal(t, st.createdPayment.ID.String(), provider.hostedReq.TxnID)
	require.Equal(t, "Alexei", provider.hostedReq.FirstName)
	require.Contains(t, provider.hostedReq.SuccessURL, "/api/v1/payments/payu/success")
}

func TestCheckoutUnknownProductRejected(t *testing.T) {
	st := &fakeStore{products: map[uuid.UUID]store.Product{}}
	svc := NewService(st, &fakeProvider{}, nil, testConfig(config.ModeHosted), zerolog.Nop())

	_, err := svc.Checkout(context.Background(), validInput(uuid.New(), 1))
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "PRODUCT_NOT_FOUND", appErr.Code)
	require.Nil(t, st.createdOrder, "no order may be created for unknown products")
}

func TestCheckoutValidation(t *testing.T) {
	svc := NewService(&fakeStore{}, &fakeProvider{}, nil, testConfig(config.ModeHosted), zerolog.Nop())

	in := validInput(uuid.New(), 1)
	in.Customer.Email = "not-an-email"
	_, err := svc.Checkout(context.Background(), in)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "VALIDATION_ERROR", appErr.Code)

	in = validInput(uuid.New(), 1)
	in.Items = nil
	_, err = svc.Checkout(context.Background(), in)
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "VALIDATION_ERROR", appErr.Code)
}

func TestCheckoutPendingSurvivesProviderRejection(t *testing.T) {
	productID := uuid.New()
	st := &fakeStore{products: map[uuid.UUID]store.Product{
		productID: {ID: productID, Name: "YX1 Earphones", Price: 59_900},
	}}
	provider := &fakeProvider{hostedErr: &payu.RejectionError{Status: 400, Message: "Invalid amount"}}
	svc := NewService(st, provider, nil, testConfig(config.ModeHosted), zerolog.Nop())

	_, err := svc.Checkout(context.Background(), validInput(productID, 1))
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "PROVIDER_REJECTED", appErr.Code)

	require.NotNil(t, st.createdPayment, "the pending payment must persist for audit")
	require.Equal(t, store.PaymentStatusPending, st.createdPayment.Status)
}

func TestCheckoutProviderUnavailable(t *testing.T) {
	productID := uuid.New()
	st := &fakeStore{products: map[uuid.UUID]store.Product{
		productID: {ID: productID, Name: "YX1 Earphones", Price: 59_900},
	}}
	provider := &fakeProvider{hostedErr: payu.ErrUnavailable}
	svc := NewService(st, provider, nil, testConfig(config.ModeHosted), zerolog.Nop())

	_, err := svc.Checkout(context.Background(), validInput(productID, 1))
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "PROVIDER_UNAVAILABLE", appErr.Code)
	require.Equal(t, 503, appErr.HTTPStatus)
}

func TestCheckoutWidgetMode(t *testing.T) {
	productID := uuid.New()
	st := &fakeStore{products: map[uuid.UUID]store.Product{
		productID: {ID: productID, Name: "XX99 Mark II", Price: 299_900},
	}}
	provider := &fakeProvider{codec: payu.Codec{Key: "merchant-key", Salt: "merchant-salt"}}
	svc := NewService(st, provider, nil, testConfig(config.ModeWidget), zerolog.Nop())

	result, err := svc.Checkout(context.Background(), validInput(productID, 1))
	require.NoError(t, err)
	require.Empty(t, result.RedirectURL)
	require.NotNil(t, result.Widget)
	require.Nil(t, provider.hostedReq, "widget mode must not call the hosted API")
	require.Equal(t, result.TxnID, result.Widget.Params["txnid"])
	require.NotEmpty(t, result.Widget.Hash)
	require.Contains(t, result.Widget.Action, "/_payment")
}

func TestSummarizeTruncation(t *testing.T) {
	items := []store.OrderItem{
		{Title: "XX99 Mark II Wireless Over-Ear Headphones Special Anniversary Edition", Quantity: 2},
		{Title: "ZX9 Active Bookshelf Speaker Pair", Quantity: 1},
	}
	info := summarize(items)
	require.LessOrEqual(t, len(info), 100)
	require.True(t, strings.HasSuffix(info, "..."))

	short := summarize([]store.OrderItem{{Title: "YX1 Earphones", Quantity: 1}})
	require.Equal(t, "YX1 Earphones x 1", short)
}

func TestSummarizeTruncatesOnRuneBoundary(t *testing.T) {
	// Two-byte runes positioned so a byte-wise cut would split one in half.
	items := []store.OrderItem{{Title: strings.Repeat("é", 60), Quantity: 1}}
	info := summarize(items)
	require.LessOrEqual(t, len(info), 100)
	require.True(t, utf8.ValidString(info), "truncation must not split a rune")
	require.True(t, strings.HasSuffix(info, "..."))
}

func TestMapProviderErrorFallback(t *testing.T) {
	err := mapProviderError(errors.New("connection reset"))
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "PROVIDER_ERROR", appErr.Code)
}
