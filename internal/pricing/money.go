package pricing

import "math"

// BankersRound rounds to the nearest cent, ties to even. Commission is
// rounded this way and payout derived as the residual so no cent is ever
// lost to rounding.
func BankersRound(x float64) int64 {
	return int64(math.RoundToEven(x))
}

// SplitCommission splits a final price into commission and payout.
// commission + payout == final always holds.
func SplitCommission(finalCents int64, rate float64) (commission, payout int64) {
	commission = BankersRound(float64(finalCents) * rate)
	payout = finalCents - commission
	return commission, payout
}
