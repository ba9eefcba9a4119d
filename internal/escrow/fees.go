package escrow

import "math/big"

const bpsDenominator = 10_000

// FeeConfig holds the marketplace fee rates in basis points.
type FeeConfig struct {
	PlatformBps int
	InviterBps  int
}

// FeeBreakdown is the three-way split of an original service amount.
// Amounts are in USDC base units (6 decimals).
type FeeBreakdown struct {
	PlatformAmount *big.Int
	InviterAmount  *big.Int
	ProviderAmount *big.Int
	PlatformFeeBps int
	InviterFeeBps  int
}

// CalculateFees splits originalAmount between platform, inviter and provider.
// The inviter rate is zero when there is no referrer. The provider receives
// the exact remainder, so platform + inviter + provider == originalAmount
// with no rounding leak.
func (c FeeConfig) CalculateFees(originalAmount *big.Int, hasInviter bool) FeeBreakdown {
	inviterBps := 0
	if hasInviter {
		inviterBps = c.InviterBps
	}

	platform := new(big.Int).Mul(originalAmount, big.NewInt(int64(c.PlatformBps)))
	platform.Div(platform, big.NewInt(bpsDenominator))

	inviter := new(big.Int).Mul(originalAmount, big.NewInt(int64(inviterBps)))
	inviter.Div(inviter, big.NewInt(bpsDenominator))

	provider := new(big.Int).Sub(originalAmount, platform)
	provider.Sub(provider, inviter)

	return FeeBreakdown{
		PlatformAmount: platform,
		InviterAmount:  inviter,
		ProviderAmount: provider,
		PlatformFeeBps: c.PlatformBps,
		InviterFeeBps:  inviterBps,
	}
}

// UsdcFromCents converts a cent amount to USDC base units (6 decimals).
func UsdcFromCents(cents int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(cents), big.NewInt(10_000))
}

// CentsFromUsdc converts USDC base units back to cents, truncating dust.
func CentsFromUsdc(units *big.Int) int64 {
	return new(big.Int).Div(units, big.NewInt(10_000)).Int64()
}
