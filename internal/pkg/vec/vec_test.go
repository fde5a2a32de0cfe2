package vec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	assert.Error(t, Validate(nil))
	assert.Error(t, Validate([]float64{0, 0, 0}))
	assert.Error(t, Validate([]float64{1, math.NaN()}))
	assert.Error(t, Validate([]float64{1, math.Inf(1)}))
	assert.NoError(t, Validate([]float64{0.1, -0.2, 0.3}))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 2, 3}, []float64{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	// opposite vectors clamp to zero
	assert.Equal(t, 0.0, Cosine([]float64{1, 0}, []float64{-1, 0}))
	assert.Equal(t, 0.0, Cosine([]float64{1, 2}, []float64{1, 2, 3}))
}

func TestMeanAndNormalize(t *testing.T) {
	m, err := Mean([][]float64{{2, 0}, {0, 2}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, m)

	_, err = Mean([][]float64{{1, 2}, {1}})
	require.Error(t, err)

	n := Normalize([]float64{3, 4})
	assert.InDelta(t, 0.6, n[0], 1e-9)
	assert.InDelta(t, 0.8, n[1], 1e-9)
}
