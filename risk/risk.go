// Package risk implements the Risk Manager and fractional-Kelly Position
// Sizer from spec §4.4. No example repo in the corpus implements Kelly
// sizing, so this is built directly from the spec formula on the standard
// library.
package risk

import "math"

// KellyFraction is the fractional-Kelly safety factor spec §4.4 mandates
// (quarter-Kelly).
const KellyFraction = 0.25

// SizingInput carries calculateKellyPosition's parameters.
type SizingInput struct {
	WinRate    float64 // w
	RRRatio    float64 // R
	Balance    float64
	EntryPrice float64
	StopLoss   float64
}

// SizingResult is the §4.4 {positionSize, kellyFraction, safeKellyFraction, riskAmount} contract.
type SizingResult struct {
	PositionSize      float64
	KellyFraction     float64
	SafeKellyFraction float64
	RiskAmount        float64
}

// CalculateKellyPosition implements k = (w*R - (1-w)) / R, capped at 0 on
// the low side, with safeKelly = 0.25*k. Position size = floor(riskAmount
// / |entry - stopLoss|).
func CalculateKellyPosition(in SizingInput) SizingResult {
	if in.RRRatio == 0 {
		return SizingResult{}
	}
	k := (in.WinRate*in.RRRatio - (1 - in.WinRate)) / in.RRRatio
	if k < 0 {
		k = 0
	}
	safeKelly := KellyFraction * k
	riskAmount := in.Balance * safeKelly

	dist := math.Abs(in.EntryPrice - in.StopLoss)
	var positionSize float64
	if dist > 0 {
		positionSize = math.Floor(riskAmount / dist)
	}

	return SizingResult{
		PositionSize:      positionSize,
		KellyFraction:     k,
		SafeKellyFraction: safeKelly,
		RiskAmount:        riskAmount,
	}
}

// OrderCheck carries validateOrder's parameters.
type OrderCheck struct {
	Symbol              string
	Side                string
	Qty                 float64
	Price               float64
	StopLoss            float64
	MinStopLossDistance float64
	PortfolioValue      float64
	DailyPnL            float64
	DailySpendRemaining float64
	DailyLossLimit      float64
	OpenPositionCount   int
	MaxOpenPositions    int
}

// Decision is the §4.4 {approved, reason?} contract.
type Decision struct {
	Approved bool
	Reason   string
}

// ValidateOrder rejects an order per spec §4.4's four conditions, checked
// in order so the first violated rule is the reported reason.
func ValidateOrder(c OrderCheck) Decision {
	if c.Qty*c.Price > c.DailySpendRemaining {
		return Decision{Approved: false, Reason: "DAILY_SPEND_EXCEEDED"}
	}
	if c.DailyLossLimit > 0 && c.DailyPnL <= -c.DailyLossLimit {
		return Decision{Approved: false, Reason: "DAILY_LOSS_LIMIT"}
	}
	if c.MaxOpenPositions > 0 && c.OpenPositionCount >= c.MaxOpenPositions {
		return Decision{Approved: false, Reason: "MAX_OPEN_POSITIONS"}
	}
	if c.StopLoss > 0 && c.MinStopLossDistance > 0 {
		dist := math.Abs(c.Price - c.StopLoss)
		if dist < c.MinStopLossDistance {
			return Decision{Approved: false, Reason: "STOP_LOSS_TOO_TIGHT"}
		}
	}
	return Decision{Approved: true}
}
