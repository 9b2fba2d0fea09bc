package reliability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		cv   float64
		ok   bool
		n    int
		want Label
	}{
		{0, true, 10, Excellent},
		{10, true, 10, Excellent},
		{10.01, true, 10, Good},
		{20, true, 10, Good},
		{35, true, 10, Fair},
		{40, true, 10, Fair},
		{40.5, true, 10, Poor},
		{5, false, 10, Variable},
		{5, true, 2, Variable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.cv, tt.ok, tt.n), "cv=%v ok=%v n=%d", tt.cv, tt.ok, tt.n)
	}
}

func TestClassifySamples(t *testing.T) {
	assert.Equal(t, Excellent, ClassifySamples([]float64{1, 1, 1, 1}))
	assert.Equal(t, Variable, ClassifySamples([]float64{0, 0, 0}))
	assert.Equal(t, Variable, ClassifySamples(nil))
	assert.Equal(t, Fair, ClassifySamples([]float64{2, 4, 4, 4, 5, 5, 7, 9}))
}

func TestExplanation(t *testing.T) {
	assert.Equal(t, "Results are highly consistent across runs", Excellent.Explanation())
	assert.Equal(t, "High variance suggests external factors (network, system load)", Poor.Explanation())
	assert.Equal(t, Variable.Explanation(), Label("bogus").Explanation())
}
