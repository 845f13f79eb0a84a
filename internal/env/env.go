// Package env defines the external environment contract. Simulated
// environments are consumed exclusively through Reset/Step; their internals
// are out of scope for this framework.
package env

// Env is an episodic control environment.
type Env interface {
	// Reset starts a new episode and returns the initial observation.
	Reset() []float64
	// Step applies an action and returns the next observation, the step
	// reward, and whether the episode terminated.
	Step(action []float64) (obs []float64, reward float64, done bool)
	ObsSize() int
	ActionSize() int
}
