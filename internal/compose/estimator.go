package compose

// The token estimator is deliberately character-based: monotone in text
// length, not exact to any tokenizer. The budget stays a hard ceiling on the
// estimate.

// framingReserveRatio is the share of the budget held back for template
// framing during greedy selection.
const framingReserveRatio = 0.15

// EstimateTokens approximates the token count of text as ceil(chars/4).
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// selectionBudget returns the part of the budget available to memory content
// after the framing reserve.
func selectionBudget(budgetTokens int) int {
	reserve := (budgetTokens*15 + 99) / 100
	avail := budgetTokens - reserve
	if avail < 0 {
		return 0
	}
	return avail
}
