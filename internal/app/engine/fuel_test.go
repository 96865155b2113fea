package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuelCounterSpendAndExhaustion(t *testing.T) {
	f := newFuelCounter(10)
	assert.False(t, f.exhausted())

	assert.True(t, f.spend(5))
	assert.False(t, f.exhausted())

	assert.True(t, f.spend(5)) // exactly zero remaining is still not exhausted
	assert.False(t, f.exhausted())

	assert.False(t, f.spend(1)) // goes negative: exhausted
	assert.True(t, f.exhausted())
}

// A nil *fuelCounter (metering disabled) always reports unexhausted and
// never blocks a spend.
func TestFuelCounterNilIsUnlimited(t *testing.T) {
	var f *fuelCounter
	assert.True(t, f.spend(1_000_000))
	assert.False(t, f.exhausted())
}

// A zero limit is normalized to 1 rather than leaving the budget
// permanently exhausted before any call is charged.
func TestNewFuelCounterZeroLimitNormalizedToOne(t *testing.T) {
	f := newFuelCounter(0)
	assert.False(t, f.exhausted())
	assert.True(t, f.spend(1))
	assert.False(t, f.spend(1))
	assert.True(t, f.exhausted())
}
