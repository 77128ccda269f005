package pricing

// Money represents a monetary value stored in minor units.
type Money = int64

// Item describes a basket line used for totals calculation. Promotion
// discount lines carry a negative unit price.
type Item struct {
	Qty       int
	UnitPrice Money
}

// Summary aggregates computed pricing components.
type Summary struct {
	Subtotal Money
	Discount Money
	Tax      Money
	Shipping Money
	Total    Money
}

// Compute calculates basket totals. Positive lines accumulate into the
// subtotal; negative lines (promotion discounts) into the discount.
func Compute(items []Item, taxBps int, shipping Money) Summary {
	var subtotal, discount Money
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		amount := Money(it.Qty) * it.UnitPrice
		if amount < 0 {
			discount += -amount
			continue
		}
		subtotal += amount
	}
	if discount > subtotal {
		discount = subtotal
	}
	taxable := subtotal - discount
	if taxable < 0 {
		taxable = 0
	}
	tax := (taxable * Money(taxBps)) / 10000
	total := taxable + tax + shipping
	return Summary{
		Subtotal: subtotal,
		Discount: discount,
		Tax:      tax,
		Shipping: shipping,
		Total:    total,
	}
}
