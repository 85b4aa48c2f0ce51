package generic_test

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/grd-engine/generic"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		client    bool
		notFound  bool
		retryable bool
	}{
		{"non-finite", &generic.NonFiniteError{Field: "price", Value: math.NaN()}, true, false, false},
		{"override", &generic.OverrideError{EpisodeID: "ep-1", Fields: []string{"final_amount"}}, true, false, false},
		{"field", &generic.FieldError{Field: "code", Message: "required"}, true, false, false},
		{"wrapped not found", fmt.Errorf("load: %w", generic.ErrEpisodeNotFound), false, true, false},
		{"rule not found", generic.ErrGrdRuleNotFound, false, true, false},
		{"patient not found", generic.ErrPatientNotFound, false, true, false},
		{"conflict", fmt.Errorf("update: %w", generic.ErrConcurrentModification), false, false, true},
		{"other", errors.New("disk full"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.client, generic.IsClientError(tt.err))
			assert.Equal(t, tt.notFound, generic.IsNotFound(tt.err))
			assert.Equal(t, tt.retryable, generic.IsRetryable(tt.err))
		})
	}
}

func TestOverrideError(t *testing.T) {
	err := fmt.Errorf("write: %w", &generic.OverrideError{EpisodeID: "ep-9", Fields: []string{"group_value"}})

	var oe *generic.OverrideError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, []string{"group_value"}, oe.Fields)
	assert.ErrorIs(t, err, generic.ErrOverrideNotAllowed)
	assert.Contains(t, err.Error(), "ep-9")
}

func TestDecimalFromFloat(t *testing.T) {
	d, err := generic.DecimalFromFloat("weight", 2.5)
	require.NoError(t, err)
	assert.Equal(t, "2.5", d.String())

	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := generic.DecimalFromFloat("weight", f)
		var nf *generic.NonFiniteError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "weight", nf.Field)
		assert.ErrorIs(t, err, generic.ErrInvalidNumber)
	}
}

func TestOptionalDecimal(t *testing.T) {
	d, err := generic.OptionalDecimal("p50", nil)
	require.NoError(t, err)
	assert.Nil(t, d)

	inf := math.Inf(1)
	_, err = generic.OptionalDecimal("p50", &inf)
	assert.ErrorIs(t, err, generic.ErrInvalidNumber)

	three := 3.0
	d, err = generic.OptionalDecimal("p50", &three)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 3.0, *generic.FloatPtr(d))
}
