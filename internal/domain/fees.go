package domain

// FeeModel estimates network fees: a base fee per transaction plus a fee per
// swap instruction.
type FeeModel struct {
	Base           float64 `json:"base"`
	PerInstruction float64 `json:"per_instruction"`
}

// Fee returns the estimated fee of one transaction with n instructions.
func (m FeeModel) Fee(n int) float64 {
	return m.Base + float64(n)*m.PerInstruction
}

// ArbitrageFee is the estimate for an arbitrage round trip, sent as one
// transaction carrying both swaps.
func (m FeeModel) ArbitrageFee() float64 { return m.Fee(2) }

// LegFee is the estimate for a single swap transaction.
func (m FeeModel) LegFee() float64 { return m.Fee(1) }
