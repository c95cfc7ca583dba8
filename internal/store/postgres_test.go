package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sarfarazstark/audiophile/internal/store"
)

type storeSuite struct {
	suite.Suite

	container testcontainers.Container
	pool      *pgxpool.Pool
	store     *store.Store
}

func TestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed store tests in short mode")
	}
	suite.Run(t, new(storeSuite))
}

func (s *storeSuite) SetupSuite() {
	ctx := s.T().Context()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithInitScripts("../../migrations/000001_init.up.sql"),
		tcpostgres.WithDatabase("audiophile_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.pool, err = pgxpool.New(ctx, connStr)
	s.Require().NoError(err)
	s.store = store.New(s.pool)
}

func (s *storeSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		s.NoError(s.container.Terminate(context.Background()))
	}
}

func (s *storeSuite) fakeProduct() store.Product {
	return store.Product{
		ID:       uuid.New(),
		Slug:     gofakeit.UUID(),
		Name:     gofakeit.ProductName(),
		Category: "headphones",
		Price:    int64(gofakeit.Number(10_000, 500_000)),
	}
}

func (s *storeSuite) fakeOrder(total int64) (store.Order, []store.OrderItem) {
	product := s.fakeProduct()
	s.Require().NoError(s.store.UpsertProduct(s.T().Context(), product))

	order := store.Order{
		TrackingCode: store.NewTrackingCode(),
		FullName:     gofakeit.Name(),
		Email:        gofakeit.Email(),
		Phone:        gofakeit.Phone(),
		AddressLine1: gofakeit.Street(),
		City:         gofakeit.City(),
		State:        gofakeit.State(),
		PostalCode:   gofakeit.Zip(),
		Country:      "India",
		Currency:     "INR",
		Subtotal:     total,
		Total:        total,
		Status:       store.OrderStatusPendingPayment,
	}
	items := []store.OrderItem{{
		ProductID: product.ID,
		Title:     product.Name,
		Quantity:  1,
		UnitPrice: total,
		Subtotal:  total,
	}}
	return order, items
}

func (s *storeSuite) TestUpsertAndListProducts() {
	ctx := s.T().Context()
	product := s.fakeProduct()
	s.Require().NoError(s.store.UpsertProduct(ctx, product))

	// Upserting the same slug refreshes the price instead of duplicating.
	product.Price += 1_000
	s.Require().NoError(s.store.UpsertProduct(ctx, product))

	byID, err := s.store.GetProductsByIDs(ctx, []uuid.UUID{product.ID})
	s.Require().NoError(err)
	s.Require().Contains(byID, product.ID)
	s.Equal(product.Price, byID[product.ID].Price)

	all, err := s.store.ListProducts(ctx)
	s.Require().NoError(err)
	s.NotEmpty(all)
}

func (s *storeSuite) TestCreateOrderWithPayment() {
	ctx := s.T().Context()
	order, items := s.fakeOrder(126_000)

	created, payment, err := s.store.CreateOrderWithPayment(ctx, order, items)
	s.Require().NoError(err)
	s.NotEqual(uuid.Nil, created.ID)
	s.Equal(created.ID, payment.OrderID)
	s.Equal(store.PaymentStatusPending, payment.Status)
	s.Equal(created.Total, payment.Amount)

	loaded, loadedItems, err := s.store.GetOrderByTracking(ctx, created.TrackingCode)
	s.Require().NoError(err)
	s.Equal(created.ID, loaded.ID)
	s.Require().Len(loadedItems, 1)
	s.Equal(items[0].Title, loadedItems[0].Title)

	latest, err := s.store.GetLatestPaymentByOrder(ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(payment.ID, latest.ID)
}

func (s *storeSuite) TestSettlePaymentIsIdempotent() {
	ctx := s.T().Context()
	order, items := s.fakeOrder(126_000)
	created, payment, err := s.store.CreateOrderWithPayment(ctx, order, items)
	s.Require().NoError(err)

	applied, err := s.store.SettlePayment(ctx, payment.ID, store.PaymentStatusSucceeded, "mihpay-1", "", []byte(`{"status":"success"}`))
	s.Require().NoError(err)
	s.True(applied)

	// A second settlement attempt, even with a different status, is a no-op.
	applied, err = s.store.SettlePayment(ctx, payment.ID, store.PaymentStatusFailed, "", "late failure", []byte(`{}`))
	s.Require().NoError(err)
	s.False(applied)

	current, err := s.store.GetPayment(ctx, payment.ID)
	s.Require().NoError(err)
	s.Equal(store.PaymentStatusSucceeded, current.Status)
	s.Equal("mihpay-1", current.ProviderTxnID)

	loaded, _, err := s.store.GetOrder(ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(store.OrderStatusPaid, loaded.Status)
}

func (s *storeSuite) TestSettlePaymentConcurrent() {
	ctx := s.T().Context()
	order, items := s.fakeOrder(126_000)
	_, payment, err := s.store.CreateOrderWithPayment(ctx, order, items)
	s.Require().NoError(err)

	const workers = 8
	results := make(chan bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			applied, err := s.store.SettlePayment(ctx, payment.ID, store.PaymentStatusSucceeded,
				fmt.Sprintf("mihpay-%d", i), "", []byte(`{}`))
			if err != nil {
				results <- false
				return
			}
			results <- applied
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for applied := range results {
		if applied {
			wins++
		}
	}
	s.Equal(1, wins, "the conditional update must admit exactly one winner")
}

func (s *storeSuite) TestSettleRejectsNonTerminalStatus() {
	ctx := s.T().Context()
	order, items := s.fakeOrder(10_000)
	_, payment, err := s.store.CreateOrderWithPayment(ctx, order, items)
	s.Require().NoError(err)

	_, err = s.store.SettlePayment(ctx, payment.ID, store.PaymentStatusPending, "", "", nil)
	s.Error(err)
}

func (s *storeSuite) TestGetPaymentNotFound() {
	_, err := s.store.GetPayment(s.T().Context(), uuid.New())
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *storeSuite) TestDomainEvents() {
	ctx := s.T().Context()
	aggregate := uuid.New()

	ev, err := s.store.InsertDomainEvent(ctx, "order.created", aggregate, []byte(`{"totalMinor":126000}`))
	s.Require().NoError(err)
	s.NotEqual(uuid.Nil, ev.ID)
	s.False(ev.OccurredAt.IsZero())
}
