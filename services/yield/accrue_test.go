package yield

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/R3E-Network/savings_layer/services/directory"
)

func TestAccrue_OneYear(t *testing.T) {
	start := int64(1_700_000_000_000)
	acc := Accrue(1000, 0.08, directory.Checkpoint{LastUpdateMs: start}, start+int64(MillisecondsPerYear))

	assert.True(t, acc.Advanced)
	assert.InDelta(t, 80.0, acc.NewYield, 1e-9)
	assert.InDelta(t, 80.0, acc.Accumulated, 1e-9)
}

func TestAccrue_AddsToPrevious(t *testing.T) {
	cp := directory.Checkpoint{AccumulatedYield: 5, LastUpdateMs: 1000}
	acc := Accrue(1000, 0.04, cp, 1000+int64(MillisecondsPerYear/2))

	assert.InDelta(t, 20.0, acc.NewYield, 1e-9)
	assert.InDelta(t, 25.0, acc.Accumulated, 1e-9)
}

func TestAccrue_ClockBehindCheckpoint(t *testing.T) {
	cp := directory.Checkpoint{AccumulatedYield: 3, LastUpdateMs: 5000}
	acc := Accrue(1000, 0.15, cp, 4000)

	assert.False(t, acc.Advanced)
	assert.Zero(t, acc.NewYield)
	assert.Equal(t, 3.0, acc.Accumulated)
	assert.Equal(t, int64(5000), acc.LastUpdateMs)
}

func TestAccrue_EstablishesMissingCheckpoint(t *testing.T) {
	acc := Accrue(1000, 0.15, directory.Checkpoint{}, 9000)
	assert.True(t, acc.Advanced)
	assert.Zero(t, acc.NewYield)
	assert.Equal(t, int64(9000), acc.LastUpdateMs)
}

func TestAccrue_ZeroPrincipal(t *testing.T) {
	acc := Accrue(0, 0.15, directory.Checkpoint{LastUpdateMs: 1}, 1_000_000)
	assert.True(t, acc.Advanced)
	assert.Zero(t, acc.Accumulated)
}

func TestAccrue_MonotonicProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		principal := rapid.Float64Range(0, 1e9).Draw(t, "principal")
		apy := rapid.Float64Range(0, 1).Draw(t, "apy")
		start := rapid.Int64Range(1, 1<<40).Draw(t, "start")
		steps := rapid.SliceOfN(rapid.Int64Range(0, 1<<35), 1, 20).Draw(t, "steps")

		cp := directory.Checkpoint{LastUpdateMs: start}
		now := start
		prev := 0.0
		for _, step := range steps {
			now += step
			cp = Accrue(principal, apy, cp, now).Checkpoint()
			if cp.AccumulatedYield < prev {
				t.Fatalf("yield decreased: %v -> %v", prev, cp.AccumulatedYield)
			}
			prev = cp.AccumulatedYield
		}

		want := principal * apy * float64(now-start) / MillisecondsPerYear
		tolerance := 1e-9 * math.Max(1, want)
		if math.Abs(cp.AccumulatedYield-want) > tolerance {
			t.Fatalf("accumulated %v, want %v", cp.AccumulatedYield, want)
		}
	})
}
