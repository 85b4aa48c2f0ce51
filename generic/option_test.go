package generic_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/grd-engine/generic"
)

func TestFirstPresent(t *testing.T) {
	// GIVEN: A chain whose first source is missing
	evaluated := 0
	counting := func(v int) generic.Lookup[int] {
		return func() (int, bool) {
			evaluated++
			return v, true
		}
	}

	// WHEN: The chain is resolved
	missing := func() (int, bool) { return 0, false }
	v, ok := generic.FirstPresent(
		missing,
		nil,
		counting(7),
		counting(9),
	)

	// THEN: The first present value wins and later lookups are not evaluated
	assert.True(t, ok)
	assert.Equal(t, 7, v)
	assert.Equal(t, 1, evaluated)
}

func TestFirstPresent_NothingPresent(t *testing.T) {
	v, ok := generic.FirstPresent(generic.PositiveDecimal(nil), nil)

	assert.False(t, ok)
	assert.True(t, v.IsZero())
}

func TestPositiveDecimal(t *testing.T) {
	zero := decimal.Zero
	negative := decimal.NewFromInt(-3)
	five := decimal.NewFromInt(5)

	_, ok := generic.PositiveDecimal(nil)()
	assert.False(t, ok)
	_, ok = generic.PositiveDecimal(&zero)()
	assert.False(t, ok, "zero counts as missing")
	_, ok = generic.PositiveDecimal(&negative)()
	assert.False(t, ok)

	v, ok := generic.PositiveDecimal(&five)()
	assert.True(t, ok)
	assert.True(t, v.Equal(five))
}
