// Package rng provides the core randomness abstraction for the expedition
// battle engine. Every random draw in monster generation, damage computation,
// and target selection flows through a Source so that tests can substitute a
// deterministic sequence.
package rng

// Source is the randomness provider for the engine.
//
// Implementations MUST be safe for concurrent use.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int

	// Float64 returns a random float64 in [0.0, 1.0).
	Float64() float64
}

// Jitter returns value scaled by a uniform factor in [1-spread, 1+spread).
// The combat damage model uses spread 0.2 for its ±20% variance.
//
// Precondition: src must be non-nil; 0 <= spread < 1.
func Jitter(value float64, spread float64, src Source) float64 {
	factor := (1 - spread) + 2*spread*src.Float64()
	return value * factor
}
