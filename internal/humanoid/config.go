// File: internal/humanoid/config.go

package humanoid

import (
	"math"
	"math/rand"
)

// Config holds the population-level parameters of the simulation. Mean/StdDev
// pairs describe the population; FinalizeSessionPersona draws one concrete
// persona from them so every session behaves like a distinct individual.
type Config struct {
	// Rng overrides the random source, used by tests for determinism.
	Rng *rand.Rand

	// Fitts's law coefficients (movement time = A + B * log2(1 + D/W)).
	FittsAMean, FittsAStdDev float64
	FittsBMean, FittsBStdDev float64

	// Physiological noise on the cursor path.
	GaussianStrengthMean, GaussianStrengthStdDev float64
	PerlinAmplitudeMean, PerlinAmplitudeStdDev   float64

	// Typing behavior.
	TypoRateMean, TypoRateStdDev   float64
	KeyHoldMeanMs, KeyHoldStdDevMs float64

	// Inter-key delay.
	KeyPauseMean          float64
	KeyPauseStdDev        float64
	KeyPauseMin           float64
	KeyPauseNgramFactor2  float64
	KeyPauseNgramFactor3  float64
	KeyPauseFatigueFactor float64

	// Conditional typo kind probabilities. Normalized to sum to 1.
	TypoNeighborRate          float64
	TypoTransposeRate         float64
	TypoOmissionRate          float64
	TypoInsertionRate         float64
	TypoCorrectionProbability float64
	TypoNoticeProbability     float64

	// Click press-to-release hold window.
	ClickHoldMinMs int
	ClickHoldMaxMs int

	// Scrolling behavior.
	ScrollWheelProbability float64
	ScrollReadPauseFactor  float64

	// Fatigue modeling.
	FatigueIncreaseRate float64
	FatigueRecoveryRate float64

	// Per-session persona, drawn by FinalizeSessionPersona.
	FittsA, FittsB             float64
	GaussianStrength           float64
	PerlinAmplitude            float64
	TypoRate                   float64
	KeyHoldMean, KeyHoldStdDev float64
}

// DefaultConfig returns population parameters for an average user.
func DefaultConfig() Config {
	c := Config{
		FittsAMean: 100.0, FittsAStdDev: 15.0,
		FittsBMean: 120.0, FittsBStdDev: 20.0,

		GaussianStrengthMean: 0.5, GaussianStrengthStdDev: 0.1,
		PerlinAmplitudeMean: 2.5, PerlinAmplitudeStdDev: 0.5,

		TypoRateMean: 0.04, TypoRateStdDev: 0.01,
		KeyHoldMeanMs: 55.0, KeyHoldStdDevMs: 15.0,

		KeyPauseMean:          70.0,
		KeyPauseStdDev:        28.0,
		KeyPauseMin:           35.0,
		KeyPauseNgramFactor2:  0.7,
		KeyPauseNgramFactor3:  0.55,
		KeyPauseFatigueFactor: 0.3,

		TypoNeighborRate:          0.40,
		TypoTransposeRate:         0.25,
		TypoOmissionRate:          0.20,
		TypoInsertionRate:         0.15,
		TypoCorrectionProbability: 0.85,
		TypoNoticeProbability:     0.75,

		ClickHoldMinMs: 50,
		ClickHoldMaxMs: 120,

		ScrollWheelProbability: 0.70,
		ScrollReadPauseFactor:  0.5,

		FatigueIncreaseRate: 0.005,
		FatigueRecoveryRate: 0.01,
	}
	c.NormalizeTypoRates()
	return c
}

// FinalizeSessionPersona draws the fixed per-session parameters and clamps
// them to physiological bounds.
func (c *Config) FinalizeSessionPersona(rng *rand.Rand) {
	c.Rng = rng
	c.FittsA = sampleGaussian(rng, c.FittsAMean, c.FittsAStdDev)
	c.FittsB = sampleGaussian(rng, c.FittsBMean, c.FittsBStdDev)
	c.GaussianStrength = sampleGaussian(rng, c.GaussianStrengthMean, c.GaussianStrengthStdDev)
	c.PerlinAmplitude = sampleGaussian(rng, c.PerlinAmplitudeMean, c.PerlinAmplitudeStdDev)
	c.TypoRate = sampleGaussian(rng, c.TypoRateMean, c.TypoRateStdDev)
	c.KeyHoldMean = sampleGaussian(rng, c.KeyHoldMeanMs, c.KeyHoldStdDevMs)
	c.KeyHoldStdDev = c.KeyHoldStdDevMs

	c.GaussianStrength = math.Max(0.0, c.GaussianStrength)
	c.PerlinAmplitude = math.Max(0.0, c.PerlinAmplitude)
	c.TypoRate = math.Max(0.0, math.Min(0.25, c.TypoRate))
	c.KeyHoldMean = math.Max(20.0, c.KeyHoldMean)

	if c.ClickHoldMaxMs <= c.ClickHoldMinMs {
		c.ClickHoldMaxMs = c.ClickHoldMinMs + 1
	}
}

// NormalizeTypoRates makes the conditional typo probabilities sum to 1.
func (c *Config) NormalizeTypoRates() {
	total := c.TypoNeighborRate + c.TypoTransposeRate + c.TypoOmissionRate + c.TypoInsertionRate
	if total <= 1e-9 {
		if c.TypoRateMean > 0 || c.TypoRate > 0 {
			c.TypoNeighborRate = 0.25
			c.TypoTransposeRate = 0.25
			c.TypoOmissionRate = 0.25
			c.TypoInsertionRate = 0.25
		}
		return
	}
	c.TypoNeighborRate /= total
	c.TypoTransposeRate /= total
	c.TypoOmissionRate /= total
	c.TypoInsertionRate /= total
}

func sampleGaussian(rng *rand.Rand, mean, stdDev float64) float64 {
	if rng == nil {
		return mean
	}
	return mean + rng.NormFloat64()*stdDev
}
