package tensor

import (
	"fmt"
	"math"
)

// Counter-based functional randomness. A key is a rank-0 tensor whose
// float64 holds the bit pattern of a splitmix64 state. Draw functions are
// pure: the same key always yields the same values, and a key is consumed
// by splitting it, never by advancing hidden state. This is what lets the
// batch lifter hand every instance an independent stream by folding the
// instance index into the key.

const splitmixGamma = 0x9e3779b97f4a7c15

func splitmixNext(s uint64) (state, out uint64) {
	s += splitmixGamma
	z := s
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	return s, z
}

// NewKey derives a key tensor from a seed.
func NewKey(seed uint64) Tensor {
	_, out := splitmixNext(seed)
	return keyFromBits(out)
}

func keyFromBits(bits uint64) Tensor {
	return Tensor{shape: []int{}, data: []float64{math.Float64frombits(bits)}}
}

func keyBits(key Tensor) (uint64, error) {
	if len(key.shape) != 0 || len(key.data) != 1 {
		return 0, fmt.Errorf("rng key must be a rank-0 tensor, got shape %v", key.shape)
	}
	return math.Float64bits(key.data[0]), nil
}

// Split derives two fresh keys from key. The conventional use is
// sub, next := Split(key): draw from sub, store next.
func Split(key Tensor) (sub, next Tensor, err error) {
	bits, err := keyBits(key)
	if err != nil {
		return Tensor{}, Tensor{}, err
	}
	s, first := splitmixNext(bits)
	_, second := splitmixNext(s)
	return keyFromBits(first), keyFromBits(second), nil
}

// Fold mixes an index into key, producing a key independent of both the
// original and of any other folded index.
func Fold(key Tensor, index uint64) (Tensor, error) {
	bits, err := keyBits(key)
	if err != nil {
		return Tensor{}, err
	}
	_, out := splitmixNext(bits ^ (index+1)*splitmixGamma)
	return keyFromBits(out), nil
}

// Uniform draws a tensor of the given shape with entries uniform in
// [lo, hi), deterministically from key.
func Uniform(key Tensor, lo, hi float64, shape ...int) (Tensor, error) {
	if hi < lo {
		return Tensor{}, fmt.Errorf("uniform bounds inverted: [%g, %g)", lo, hi)
	}
	bits, err := keyBits(key)
	if err != nil {
		return Tensor{}, err
	}
	out := Zeros(shape...)
	s := bits
	var draw uint64
	for i := range out.data {
		s, draw = splitmixNext(s)
		u := float64(draw>>11) / (1 << 53)
		out.data[i] = lo + u*(hi-lo)
	}
	return out, nil
}

// Normal draws standard-normal entries deterministically from key using the
// Box-Muller transform.
func Normal(key Tensor, shape ...int) (Tensor, error) {
	bits, err := keyBits(key)
	if err != nil {
		return Tensor{}, err
	}
	out := Zeros(shape...)
	s := bits
	var draw uint64
	for i := 0; i < len(out.data); i += 2 {
		s, draw = splitmixNext(s)
		u1 := (float64(draw>>11) + 0.5) / (1 << 53)
		s, draw = splitmixNext(s)
		u2 := float64(draw>>11) / (1 << 53)
		r := math.Sqrt(-2 * math.Log(u1))
		out.data[i] = r * math.Cos(2*math.Pi*u2)
		if i+1 < len(out.data) {
			out.data[i+1] = r * math.Sin(2*math.Pi*u2)
		}
	}
	return out, nil
}
