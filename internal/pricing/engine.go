package pricing

import "errors"

// Money represents a monetary value stored in minor units.
type Money = int64

// ErrNegativeSubtotal is returned when a quote is requested for a negative amount.
var ErrNegativeSubtotal = errors.New("pricing: subtotal must be non-negative")

// Item describes a line item used for subtotal calculation.
type Item struct {
	Qty       int
	UnitPrice Money
}

// Config carries the storefront pricing parameters.
type Config struct {
	ShippingFee Money
	TaxRateBps  int
}

// Quote aggregates computed pricing components.
type Quote struct {
	Subtotal Money
	Shipping Money
	Tax      Money
	Total    Money
}

// Subtotal sums the line items, ignoring non-positive quantities.
func Subtotal(items []Item) Money {
	var subtotal Money
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		subtotal += Money(it.Qty) * it.UnitPrice
	}
	return subtotal
}

// Compute calculates shipping, tax and grand total for a cart subtotal.
// All values stay in minor units; rounding to the currency's two decimal
// places happens only when the amount is rendered for the provider.
func Compute(subtotal Money, cfg Config) (Quote, error) {
	if subtotal < 0 {
		return Quote{}, ErrNegativeSubtotal
	}
	shipping := cfg.ShippingFee
	if shipping < 0 {
		shipping = 0
	}
	tax := (subtotal * Money(cfg.TaxRateBps)) / 10000
	return Quote{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal + shipping + tax,
	}, nil
}
