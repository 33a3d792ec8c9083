// Package generator produces pseudo-realistic glucose readings.
//
// A reading is a uniform baseline plus uniform noise, with an occasional
// additive spike modelling a post-meal or stress excursion:
//
//	diabetic      base U[90,160)
//	non-diabetic  base U[80,120)
//	noise         U[-20,20)
//	spike         U[30,60) with probability 0.10
//
// The result is rounded to one decimal. No physiological clamp is applied,
// so diabetic values span [70,240) and non-diabetic values [60,200).
package generator

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Distribution parameters in mg/dL.
const (
	DiabeticBaseMin    = 90.0
	DiabeticBaseMax    = 160.0
	NonDiabeticBaseMin = 80.0
	NonDiabeticBaseMax = 120.0
	NoiseMin           = -20.0
	NoiseMax           = 20.0
	SpikeMin           = 30.0
	SpikeMax           = 60.0
	SpikeProbability   = 0.10
)

// Sample is one generated value with the parts it was built from.
type Sample struct {
	Base  float64
	Noise float64
	Spike float64 // 0 when no spike occurred
	Value float64
}

// Spiked reports whether the sample includes a spike.
func (s Sample) Spiked() bool { return s.Spike != 0 }

// Generator is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a generator seeded with seed. A zero seed uses the clock.
func New(seed uint64) *Generator {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Generate returns one glucose reading in mg/dL. patientID does not affect
// the distribution.
func (g *Generator) Generate(patientID string, diabetic bool) float64 {
	return g.Sample(patientID, diabetic).Value
}

// Sample is Generate with the components exposed.
func (g *Generator) Sample(_ string, diabetic bool) Sample {
	g.mu.Lock()
	defer g.mu.Unlock()

	var s Sample
	if diabetic {
		s.Base = g.uniform(DiabeticBaseMin, DiabeticBaseMax)
	} else {
		s.Base = g.uniform(NonDiabeticBaseMin, NonDiabeticBaseMax)
	}
	s.Noise = g.uniform(NoiseMin, NoiseMax)
	if g.rng.Float64() < SpikeProbability {
		s.Spike = g.uniform(SpikeMin, SpikeMax)
	}
	s.Value = round1(s.Base + s.Noise + s.Spike)
	return s
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
