package ledger

// NextAllotment computes the max_token_usage a record gets after a
// billing-cycle reset. Tokens purchased above the base limit survive
// the reset, minus whatever portion of them was already consumed.
func NextAllotment(limit, maxTokens, used int64) int64 {
	originalTopUp := max64(maxTokens-limit, 0)
	consumedTopUp := max64(used-limit, 0)
	remainingTopUp := max64(originalTopUp-consumedTopUp, 0)
	return limit + remainingTopUp
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
