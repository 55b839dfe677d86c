package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mexcsniper/rules"
)

func enabledRules() rules.Rules {
	return rules.Rules{
		Symbol: "FOOUSDT", MinQty: 1, MaxQty: 1000, StepSize: 0.5,
		MinNotional: 5, TickSize: 0.01, Status: "ENABLED",
	}
}

func TestValidate_FailsClosedWhenRulesMissing(t *testing.T) {
	result := Validate(rules.Rules{}, false, 1, 1)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"RULES_MISSING"}, result.Errors)
}

func TestValidate_AcceptsValidOrder(t *testing.T) {
	result := Validate(enabledRules(), true, 10, 2)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidate_RejectsQtyBelowMin(t *testing.T) {
	result := Validate(enabledRules(), true, 10, 0.5)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors, "QTY_OUT_OF_RANGE")
}

func TestValidate_RejectsQtyAboveMax(t *testing.T) {
	result := Validate(enabledRules(), true, 10, 2000)
	assert.Contains(t, result.Errors, "QTY_OUT_OF_RANGE")
}

func TestValidate_RejectsQtyOffStepSize(t *testing.T) {
	result := Validate(enabledRules(), true, 10, 1.3)
	assert.Contains(t, result.Errors, "QTY_STEP_SIZE")
}

func TestValidate_RejectsBelowMinNotional(t *testing.T) {
	r := enabledRules()
	result := Validate(r, true, 1, 1)
	assert.Contains(t, result.Errors, "MIN_NOTIONAL")
}

func TestValidate_RejectsPriceOffTickSize(t *testing.T) {
	result := Validate(enabledRules(), true, 10.003, 2)
	assert.Contains(t, result.Errors, "PRICE_TICK_SIZE")
}

func TestValidate_RejectsDisabledSymbol(t *testing.T) {
	r := enabledRules()
	r.Status = "BREAK"
	result := Validate(r, true, 10, 2)
	assert.Contains(t, result.Errors, "SYMBOL_DISABLED")
}

func TestValidate_AccumulatesMultipleErrors(t *testing.T) {
	r := enabledRules()
	r.Status = "BREAK"
	result := Validate(r, true, 10.003, 1.3)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors, "QTY_STEP_SIZE")
	assert.Contains(t, result.Errors, "PRICE_TICK_SIZE")
	assert.Contains(t, result.Errors, "SYMBOL_DISABLED")
}
