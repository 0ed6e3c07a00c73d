package domain

import "github.com/shopspring/decimal"

const MoneyScale = 2

func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

func ComputeSubtotal(lines []OrderLine) decimal.Decimal {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.Amount())
	}
	return RoundMoney(subtotal)
}

// ComputeTotal is subtotal - discount + delivery, clamped at zero.
func ComputeTotal(subtotal, discount, delivery decimal.Decimal) decimal.Decimal {
	total := subtotal.Sub(discount).Add(delivery)
	if total.IsNegative() {
		return decimal.Zero
	}
	return RoundMoney(total)
}
