package env

import "math"

// CartPoleLite is a simplified 1D balancing task: a cart on a spring-damper
// track, pushed by a bounded scalar force. Reward favors staying near the
// origin; the episode ends when the cart leaves the track.
type CartPoleLite struct {
	start    float64
	maxSteps int

	x, v  float64
	steps int
}

type CartPoleLiteConfig struct {
	// StartPosition is the cart position after Reset.
	StartPosition float64
	// MaxSteps bounds the episode length. Defaults to 60.
	MaxSteps int
}

func NewCartPoleLite(cfg CartPoleLiteConfig) *CartPoleLite {
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 60
	}
	return &CartPoleLite{start: cfg.StartPosition, maxSteps: maxSteps}
}

func (e *CartPoleLite) ObsSize() int    { return 2 }
func (e *CartPoleLite) ActionSize() int { return 1 }

func (e *CartPoleLite) Reset() []float64 {
	e.x = e.start
	e.v = 0
	e.steps = 0
	return []float64{e.x, e.v}
}

func (e *CartPoleLite) Step(action []float64) ([]float64, float64, bool) {
	const (
		dt       = 0.1
		kPos     = 0.45
		kVel     = 0.15
		forceK   = 1.25
		maxForce = 1.0
	)
	force := 0.0
	if len(action) > 0 {
		force = action[0]
	}
	if force > maxForce {
		force = maxForce
	}
	if force < -maxForce {
		force = -maxForce
	}

	acc := forceK*force - kPos*e.x - kVel*e.v
	e.v += acc * dt
	e.x += e.v * dt
	e.steps++

	reward := 1.0 - math.Min(1.0, math.Abs(e.x)/2.0)
	done := math.Abs(e.x) > 2.0 || e.steps >= e.maxSteps
	return []float64{e.x, e.v}, reward, done
}
