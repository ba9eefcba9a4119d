// Package points implements the internal credit ledger. Points are an
// off-chain balance redeemable against booking prices at a fixed rate,
// reserved when a payment authorization is issued and settled only after
// the chain confirms payment.
package points

// Usage is the split of a service price between points and USDC, all in
// cents. The accounting identity PointsValue + UsdcToPay == OriginalPrice
// always holds.
type Usage struct {
	PointsToUse   int64 `json:"points_to_use"`
	PointsValue   int64 `json:"points_value"`
	UsdcToPay     int64 `json:"usdc_to_pay"`
	OriginalPrice int64 `json:"original_price"`
}

// Calculator converts between points and cents.
type Calculator struct {
	pointsPerUSDC int64
}

func NewCalculator(pointsPerUSDC int) Calculator {
	if pointsPerUSDC <= 0 {
		pointsPerUSDC = 100
	}
	return Calculator{pointsPerUSDC: int64(pointsPerUSDC)}
}

// CentsValue returns the cent value of a points amount, truncating partial cents.
func (c Calculator) CentsValue(pts int64) int64 {
	// pointsPerUSDC points == 100 cents
	return pts * 100 / c.pointsPerUSDC
}

// PointsForCents returns how many points cover the given cent amount exactly.
func (c Calculator) PointsForCents(cents int64) int64 {
	return cents * c.pointsPerUSDC / 100
}

// CalculateUsage determines how much of priceCents can be paid from the
// points balance. Never uses more points than the balance holds and never
// more than the price is worth.
func (c Calculator) CalculateUsage(priceCents, balance int64) Usage {
	if priceCents <= 0 || balance <= 0 {
		return Usage{UsdcToPay: maxInt64(priceCents, 0), OriginalPrice: maxInt64(priceCents, 0)}
	}

	pointsToUse := c.PointsForCents(priceCents)
	if pointsToUse > balance {
		pointsToUse = balance
	}
	value := c.CentsValue(pointsToUse)
	// Re-derive points from the truncated cent value so reserved points
	// match the value actually credited.
	pointsToUse = c.PointsForCents(value)

	return Usage{
		PointsToUse:   pointsToUse,
		PointsValue:   value,
		UsdcToPay:     priceCents - value,
		OriginalPrice: priceCents,
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
