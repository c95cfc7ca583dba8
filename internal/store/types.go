package store

import (
	"encoding/base32"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// OrderStatus enumerates order lifecycle states.
type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusCanceled       OrderStatus = "CANCELED"
)

// PaymentStatus enumerates payment lifecycle states. SUCCEEDED and FAILED
// are terminal.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusSucceeded PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// Terminal reports whether the status permits no further transitions.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusFailed
}

// Product is a catalog entry; Price is the authoritative unit price in
// minor units.
type Product struct {
	ID       uuid.UUID
	Slug     string
	Name     string
	Category string
	Price    int64
	IsNew    bool
}

// Order captures a checkout submission. Pricing components are snapshots
// computed once at creation; later rate changes never touch stored orders.
type Order struct {
	ID           uuid.UUID
	TrackingCode string
	FullName     string
	Email        string
	Phone        string
	AddressLine1 string
	AddressLine2 string
	City         string
	State        string
	PostalCode   string
	Country      string
	Currency     string
	Subtotal     int64
	Shipping     int64
	Tax          int64
	Total        int64
	Status       OrderStatus
	CreatedAt    time.Time
}

// OrderItem snapshots a product at purchase time; UnitPrice and Subtotal
// are never recomputed from the live catalog.
type OrderItem struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	ProductID uuid.UUID
	Title     string
	Quantity  int32
	UnitPrice int64
	Subtotal  int64
}

// Payment is the provider-side counterpart of an order. Amount equals the
// order total at creation.
type Payment struct {
	ID            uuid.UUID
	OrderID       uuid.UUID
	Provider      string
	ProviderTxnID string
	Currency      string
	Amount        int64
	Status        PaymentStatus
	FailureReason string
	RawPayload    []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PaymentEvent is an append-only audit record of payment status activity.
type PaymentEvent struct {
	ID        uuid.UUID
	PaymentID uuid.UUID
	Status    PaymentStatus
	Payload   []byte
	CreatedAt time.Time
}

// DomainEvent is a persisted bus event.
type DomainEvent struct {
	ID          uuid.UUID
	Topic       string
	AggregateID uuid.UUID
	Payload     []byte
	OccurredAt  time.Time
}

var trackingEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewTrackingCode generates the customer-facing order token. It is opaque
// and distinct from internal identifiers so it can be shared freely.
func NewTrackingCode() string {
	id := uuid.New()
	return "AUD-" + trackingEncoding.EncodeToString(id[:10])
}
