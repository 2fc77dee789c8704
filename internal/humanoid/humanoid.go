// File: internal/humanoid/humanoid.go

package humanoid

import (
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"go.uber.org/zap"
)

// Humanoid holds the live state of one simulated user.
type Humanoid struct {
	// mu protects all mutable state. Public actions take it for their whole
	// duration; internal helpers assume it is held.
	mu            sync.Mutex
	baseConfig    Config
	dynamicConfig Config
	logger        *zap.Logger
	executor      Executor

	currentPos   Vector2D
	buttonState  MouseButton
	fatigueLevel float64

	rng       *rand.Rand
	noiseX    *perlin.Perlin
	noiseY    *perlin.Perlin
	noiseTime float64
}

var _ Controller = (*Humanoid)(nil)

// New creates a Humanoid with a freshly drawn session persona.
func New(config Config, logger *zap.Logger, executor Executor) *Humanoid {
	h := &Humanoid{
		logger:   logger,
		executor: executor,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	seed := time.Now().UnixNano()
	rng := config.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(seed))
	}

	config.NormalizeTypoRates()
	config.FinalizeSessionPersona(rng)

	// Standard Perlin parameters; offset seed decorrelates the Y axis.
	alpha, beta, n := 2.0, 2.0, int32(3)

	h.baseConfig = config
	h.dynamicConfig = config
	h.rng = rng
	h.buttonState = ButtonNone
	h.noiseX = perlin.NewPerlin(alpha, beta, n, seed)
	h.noiseY = perlin.NewPerlin(alpha, beta, n, seed+1)

	return h
}

// NewTestHumanoid builds a deterministic instance for tests.
func NewTestHumanoid(executor Executor, seed int64) *Humanoid {
	config := DefaultConfig()
	config.Rng = rand.New(rand.NewSource(seed))

	h := New(config, zap.NewNop(), executor)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.noiseX = perlin.NewPerlin(2, 2, 3, seed)
	h.noiseY = perlin.NewPerlin(2, 2, 3, seed+1)
	h.dynamicConfig.FittsA = 100.0
	h.dynamicConfig.FittsB = 150.0
	h.dynamicConfig.PerlinAmplitude = 2.0
	h.dynamicConfig.GaussianStrength = 0.5
	return h
}

// buttonsBitfield converts button state to the CDP Buttons bitfield.
func buttonsBitfield(b MouseButton) int64 {
	if b == ButtonLeft {
		return 1
	}
	return 0
}
