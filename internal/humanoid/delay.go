package humanoid

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
)

// halfNormalQ75 is the 75th percentile of |N(0,1)|. Scaling by it places
// the configured average at the point three quarters of delays fall under.
const halfNormalQ75 = 1.1503493803760079

// Config controls dispatch pacing. All bounds are inclusive.
type Config struct {
	// BaseInterval is the idle poll period when there is nothing to dispatch.
	BaseInterval time.Duration `mapstructure:"base_interval"`
	MinDelay     time.Duration `mapstructure:"min_delay"`
	// AverageDelay is the value about 75% of post-interaction delays stay at or below.
	AverageDelay time.Duration `mapstructure:"average_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	// Drift scales delays by a slowly wandering factor in [1-Drift, 1+Drift]
	// so consecutive delays are correlated the way attention is. Zero disables it.
	// Clamping to [MinDelay, MaxDelay] still holds with drift, but the share of
	// delays at or below AverageDelay is no longer about 75%.
	Drift float64 `mapstructure:"drift"`

	// Rng allows a deterministic source to be injected in tests.
	Rng *rand.Rand `mapstructure:"-"`
}

// DefaultConfig mirrors the defaults registered with viper.
func DefaultConfig() Config {
	return Config{
		BaseInterval: 50 * time.Millisecond,
		MinDelay:     120 * time.Millisecond,
		AverageDelay: 450 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	}
}

// Perlin parameters for the drift curve.
const (
	driftAlpha     = 2.0
	driftBeta      = 2.0
	driftOctaves   = 3
	driftFrequency = 0.07
)

// Sampler draws clamped half-normal delays.
type Sampler struct {
	mu    sync.Mutex
	rng   *rand.Rand
	min   time.Duration
	max   time.Duration
	scale float64

	drift   float64
	noise   *perlin.Perlin
	samples int
}

// NewSampler builds a sampler for cfg. A nil cfg.Rng is seeded from the clock.
func NewSampler(cfg Config) *Sampler {
	rng := cfg.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	spread := float64(cfg.AverageDelay - cfg.MinDelay)
	if spread < 0 {
		spread = 0
	}
	s := &Sampler{
		rng:   rng,
		min:   cfg.MinDelay,
		max:   cfg.MaxDelay,
		scale: spread / halfNormalQ75,
		drift: math.Max(0, math.Min(cfg.Drift, 1)),
	}
	if s.drift > 0 {
		s.noise = perlin.NewPerlin(driftAlpha, driftBeta, driftOctaves, rng.Int63())
	}
	return s
}

// Next returns min(|g|*scale + MinDelay, MaxDelay), never below MinDelay.
// With drift enabled the unclamped value is scaled first.
func (s *Sampler) Next() time.Duration {
	s.mu.Lock()
	g := math.Abs(s.rng.NormFloat64())
	factor := 1.0
	if s.noise != nil {
		factor += s.drift * clampUnit(s.noise.Noise1D(float64(s.samples)*driftFrequency))
		s.samples++
	}
	s.mu.Unlock()

	d := time.Duration(factor * float64(s.min+time.Duration(g*s.scale)))
	if d > s.max {
		d = s.max
	}
	if d < s.min {
		d = s.min
	}
	return d
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(v, 1))
}
