package generator

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samples = 10_000

func TestGenerate_DiabeticRange(t *testing.T) {
	g := New(42)
	for i := 0; i < samples; i++ {
		v := g.Generate("P1", true)
		require.GreaterOrEqual(t, v, 70.0)
		require.LessOrEqual(t, v, 240.0)
	}
}

func TestGenerate_NonDiabeticRange(t *testing.T) {
	g := New(7)
	for i := 0; i < samples; i++ {
		v := g.Generate("P1", false)
		require.GreaterOrEqual(t, v, 60.0)
		require.LessOrEqual(t, v, 200.0)
	}
}

func TestGenerate_OneDecimal(t *testing.T) {
	g := New(3)
	for i := 0; i < 1000; i++ {
		v := g.Generate("P1", true)
		assert.InDelta(t, v, math.Round(v*10)/10, 1e-9)
	}
}

func TestSample_MeanAndSpikeRate(t *testing.T) {
	// base mean 125, noise mean 0, spike contributes 0.10 * 45.
	const wantMean = 125 + SpikeProbability*(SpikeMin+SpikeMax)/2
	g := New(1234)

	var sum float64
	spikes := 0
	for i := 0; i < samples; i++ {
		s := g.Sample("P1", true)
		sum += s.Value
		if s.Spiked() {
			spikes++
			assert.GreaterOrEqual(t, s.Spike, SpikeMin)
			assert.Less(t, s.Spike, SpikeMax)
		}
		assert.GreaterOrEqual(t, s.Base, DiabeticBaseMin)
		assert.Less(t, s.Base, DiabeticBaseMax)
		assert.GreaterOrEqual(t, s.Noise, NoiseMin)
		assert.Less(t, s.Noise, NoiseMax)
	}

	mean := sum / samples
	assert.InDelta(t, wantMean, mean, 2.0, "mean %.2f", mean)

	rate := float64(spikes) / samples
	assert.InDelta(t, SpikeProbability, rate, 0.015, "spike rate %.4f", rate)
}

func TestNew_SameSeedSameSequence(t *testing.T) {
	a, b := New(99), New(99)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a.Generate("P1", true), b.Generate("P2", true))
	}
}

func TestGenerate_ConcurrentUse(t *testing.T) {
	g := New(5)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				v := g.Generate("P1", true)
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Errorf("non-finite reading %v", v)
				}
			}
		}()
	}
	wg.Wait()
}
