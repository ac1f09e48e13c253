package cart

import "github.com/shopspring/decimal"

// Summary is a pure reduction over the reconciled item list. It is never
// a source of truth.
type Summary struct {
	Subtotal           decimal.Decimal
	OriginalTotal      decimal.Decimal
	Savings            decimal.Decimal
	ItemCount          int
	ProtectedSubtotal  decimal.Decimal
	ProtectionFee      decimal.Decimal
	ProtectedItemCount int
}

// Summarize computes cart totals. feeRate is the protection add-on as a
// fraction of the protected subtotal; the fee is rounded to cents.
func Summarize(items []LineItem, feeRate decimal.Decimal) Summary {
	summary := Summary{
		Subtotal:          decimal.Zero,
		OriginalTotal:     decimal.Zero,
		Savings:           decimal.Zero,
		ProtectedSubtotal: decimal.Zero,
		ProtectionFee:     decimal.Zero,
	}

	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		qty := decimal.NewFromInt(int64(item.Quantity))
		line := item.Price.Mul(qty)

		original := item.OriginalPrice
		if original.IsZero() {
			original = item.Price
		}

		summary.Subtotal = summary.Subtotal.Add(line)
		summary.OriginalTotal = summary.OriginalTotal.Add(original.Mul(qty))
		summary.ItemCount += item.Quantity

		if item.IsProtected {
			summary.ProtectedSubtotal = summary.ProtectedSubtotal.Add(line)
			summary.ProtectedItemCount += item.Quantity
		}
	}

	if savings := summary.OriginalTotal.Sub(summary.Subtotal); savings.IsPositive() {
		summary.Savings = savings
	}
	if feeRate.IsPositive() && summary.ProtectedSubtotal.IsPositive() {
		summary.ProtectionFee = summary.ProtectedSubtotal.Mul(feeRate).Round(2)
	}
	return summary
}
