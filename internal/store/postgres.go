package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
)

// Store provides Postgres-backed persistence for orders, payments and
// domain events.
type Store struct {
	Pool *pgxpool.Pool
}

// New constructs a Store over the provided pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// Ping probes database connectivity with the given timeout.
func (s *Store) Ping(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.Pool.Ping(ctx)
}

// ListProducts returns the catalog ordered by name.
func (s *Store) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, slug, name, category, price_minor, is_new
		FROM products
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetProductsByIDs resolves authoritative catalog entries for the given ids.
// Missing ids are simply absent from the result; callers decide whether that
// is an error.
func (s *Store) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]Product{}, nil
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, slug, name, category, price_minor, is_new
		FROM products
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query products by ids: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, err
	}
	return lo.SliceToMap(products, func(p Product) (uuid.UUID, Product) { return p.ID, p }), nil
}

// UpsertProduct inserts or refreshes a catalog entry keyed by slug.
func (s *Store) UpsertProduct(ctx context.Context, p Product) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO products (id, slug, name, category, price_minor, is_new)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (slug) DO UPDATE
		SET name = EXCLUDED.name, category = EXCLUDED.category,
		    price_minor = EXCLUDED.price_minor, is_new = EXCLUDED.is_new`,
		p.ID, p.Slug, p.Name, p.Category, p.Price, p.IsNew)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.Slug, err)
	}
	return nil
}

// CreateOrderWithPayment persists the order, its item snapshots and the
// linked PENDING payment in a single transaction. The payment amount always
// equals the order total.
func (s *Store) CreateOrderWithPayment(ctx context.Context, order Order, items []OrderItem) (Order, Payment, error) {
	var payment Payment

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return order, payment, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (tracking_code, full_name, email, phone,
			address_line1, address_line2, city, state, postal_code, country,
			currency, subtotal_minor, shipping_minor, tax_minor, total_minor, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at`,
		order.TrackingCode, order.FullName, order.Email, order.Phone,
		order.AddressLine1, order.AddressLine2, order.City, order.State,
		order.PostalCode, order.Country, order.Currency,
		order.Subtotal, order.Shipping, order.Tax, order.Total, order.Status,
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return order, payment, fmt.Errorf("insert order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		err = tx.QueryRow(ctx, `
			INSERT INTO order_items (order_id, product_id, title, quantity, unit_price_minor, subtotal_minor)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			items[i].OrderID, items[i].ProductID, items[i].Title,
			items[i].Quantity, items[i].UnitPrice, items[i].Subtotal,
		).Scan(&items[i].ID)
		if err != nil {
			return order, payment, fmt.Errorf("insert order item: %w", err)
		}
	}

	payment = Payment{
		OrderID:  order.ID,
		Provider: "payu",
		Currency: order.Currency,
		Amount:   order.Total,
		Status:   PaymentStatusPending,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO payments (order_id, provider, currency, amount_minor, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		payment.OrderID, payment.Provider, payment.Currency, payment.Amount, payment.Status,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return order, payment, fmt.Errorf("insert payment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return order, payment, fmt.Errorf("commit tx: %w", err)
	}
	return order, payment, nil
}

// GetPayment loads a payment by its identifier (the client-chosen txnid).
func (s *Store) GetPayment(ctx context.Context, id uuid.UUID) (Payment, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, order_id, provider, COALESCE(provider_txn_id, ''), currency,
			amount_minor, status, COALESCE(failure_reason, ''), raw_payload,
			created_at, updated_at
		FROM payments
		WHERE id = $1`, id)
	if err != nil {
		return Payment{}, fmt.Errorf("query payment: %w", err)
	}
	payment, err := pgx.CollectOneRow(rows, scanPayment)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	return payment, err
}

// SettlePayment applies a terminal status transition with a conditional
// update: rows move only while still PENDING, so concurrent callbacks for
// the same transaction settle exactly once regardless of process count.
// It returns false when the payment was already terminal (or absent).
func (s *Store) SettlePayment(ctx context.Context, id uuid.UUID, status PaymentStatus, providerTxnID, failureReason string, rawPayload []byte) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("settle payment: %s is not a terminal status", status)
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = $2,
			provider_txn_id = NULLIF($3, ''),
			failure_reason = NULLIF($4, ''),
			raw_payload = COALESCE($5, raw_payload),
			updated_at = now()
		WHERE id = $1 AND status = 'PENDING'`,
		id, status, providerTxnID, failureReason, rawPayload)
	if err != nil {
		return false, fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	orderStatus := OrderStatusCanceled
	if status == PaymentStatusSucceeded {
		orderStatus = OrderStatusPaid
	}
	_, err = tx.Exec(ctx, `
		UPDATE orders SET status = $2
		WHERE id = (SELECT order_id FROM payments WHERE id = $1)
		  AND status = 'PENDING_PAYMENT'`,
		id, orderStatus)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payment_events (payment_id, status, payload)
		VALUES ($1, $2, $3)`,
		id, status, rawPayload)
	if err != nil {
		return false, fmt.Errorf("insert payment event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

// GetOrder loads an order with its item snapshots.
func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (Order, []OrderItem, error) {
	return s.getOrderBy(ctx, `WHERE id = $1`, id)
}

// GetOrderByTracking resolves an order through its shareable tracking code.
func (s *Store) GetOrderByTracking(ctx context.Context, trackingCode string) (Order, []OrderItem, error) {
	return s.getOrderBy(ctx, `WHERE tracking_code = $1`, trackingCode)
}

func (s *Store) getOrderBy(ctx context.Context, where string, arg any) (Order, []OrderItem, error) {
	var order Order
	rows, err := s.Pool.Query(ctx, `
		SELECT id, tracking_code, full_name, email, phone,
			address_line1, COALESCE(address_line2, ''), city, state, postal_code, country,
			currency, subtotal_minor, shipping_minor, tax_minor, total_minor, status, created_at
		FROM orders `+where, arg)
	if err != nil {
		return order, nil, fmt.Errorf("query order: %w", err)
	}
	order, err = pgx.CollectOneRow(rows, scanOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return order, nil, ErrNotFound
	}
	if err != nil {
		return order, nil, err
	}

	itemRows, err := s.Pool.Query(ctx, `
		SELECT id, order_id, product_id, title, quantity, unit_price_minor, subtotal_minor
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`, order.ID)
	if err != nil {
		return order, nil, fmt.Errorf("query order items: %w", err)
	}
	items, err := pgx.CollectRows(itemRows, scanOrderItem)
	return order, items, err
}

// GetLatestPaymentByOrder returns the most recent payment attempt for an order.
func (s *Store) GetLatestPaymentByOrder(ctx context.Context, orderID uuid.UUID) (Payment, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, order_id, provider, COALESCE(provider_txn_id, ''), currency,
			amount_minor, status, COALESCE(failure_reason, ''), raw_payload,
			created_at, updated_at
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, orderID)
	if err != nil {
		return Payment{}, fmt.Errorf("query latest payment: %w", err)
	}
	payment, err := pgx.CollectOneRow(rows, scanPayment)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	return payment, err
}

// InsertPaymentEvent appends an audit record outside of a settlement.
func (s *Store) InsertPaymentEvent(ctx context.Context, paymentID uuid.UUID, status PaymentStatus, payload []byte) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO payment_events (payment_id, status, payload)
		VALUES ($1, $2, $3)`, paymentID, status, payload)
	if err != nil {
		return fmt.Errorf("insert payment event: %w", err)
	}
	return nil
}

// InsertDomainEvent persists a bus event and returns the stored row.
func (s *Store) InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (DomainEvent, error) {
	ev := DomainEvent{Topic: topic, AggregateID: aggregateID, Payload: payload}
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO domain_events (topic, aggregate_id, payload)
		VALUES ($1, $2, $3)
		RETURNING id, occurred_at`, topic, aggregateID, payload,
	).Scan(&ev.ID, &ev.OccurredAt)
	if err != nil {
		return ev, fmt.Errorf("insert domain event: %w", err)
	}
	return ev, nil
}

func scanProduct(row pgx.CollectableRow) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Category, &p.Price, &p.IsNew)
	return p, err
}

func scanOrder(row pgx.CollectableRow) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.TrackingCode, &o.FullName, &o.Email, &o.Phone,
		&o.AddressLine1, &o.AddressLine2, &o.City, &o.State, &o.PostalCode, &o.Country,
		&o.Currency, &o.Subtotal, &o.Shipping, &o.Tax, &o.Total, &o.Status, &o.CreatedAt)
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (OrderItem, error) {
	var it OrderItem
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Title, &it.Quantity, &it.UnitPrice, &it.Subtotal)
	return it, err
}

func scanPayment(row pgx.CollectableRow) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.Provider, &p.ProviderTxnID, &p.Currency,
		&p.Amount, &p.Status, &p.FailureReason, &p.RawPayload, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
