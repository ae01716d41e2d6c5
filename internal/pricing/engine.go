package pricing

// Money is a monetary amount in integer minor units.
type Money = int64

// Line is a priced quantity of a single product.
type Line struct {
	Qty       int32
	UnitPrice Money
}

// Subtotal returns qty times unit price; non-positive quantities price to zero.
func (l Line) Subtotal() Money {
	if l.Qty <= 0 {
		return 0
	}
	return Money(l.Qty) * l.UnitPrice
}

// Total sums the subtotals of all lines.
func Total(lines []Line) Money {
	var total Money
	for _, line := range lines {
		total += line.Subtotal()
	}
	return total
}
