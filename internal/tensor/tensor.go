// Package tensor provides the dense float64 tensors that back all mutable
// state in the framework. Tensors are immutable values: every operation
// returns a fresh tensor and never writes through its receiver. The one
// exception is SetRow, which the batch lifter uses to fill rows of tensors
// it has just allocated.
package tensor

import (
	"fmt"
	"math"
	"strings"
)

// Tensor is a dense float64 array of arbitrary rank. A rank-0 tensor holds a
// single scalar. The zero value is not usable; construct tensors through the
// package functions.
type Tensor struct {
	shape []int
	data  []float64
}

func New(shape []int, data []float64) (Tensor, error) {
	size := 1
	for _, d := range shape {
		if d <= 0 {
			return Tensor{}, fmt.Errorf("tensor dimensions must be > 0, got %v", shape)
		}
		size *= d
	}
	if len(data) != size {
		return Tensor{}, fmt.Errorf("tensor data length mismatch: shape %v needs %d values, got %d", shape, size, len(data))
	}
	return Tensor{
		shape: append([]int(nil), shape...),
		data:  append([]float64(nil), data...),
	}, nil
}

func Zeros(shape ...int) Tensor {
	return Full(0, shape...)
}

func Full(v float64, shape ...int) Tensor {
	size := 1
	for _, d := range shape {
		size *= d
	}
	data := make([]float64, size)
	for i := range data {
		data[i] = v
	}
	return Tensor{shape: append([]int(nil), shape...), data: data}
}

// Scalar returns a rank-0 tensor holding v.
func Scalar(v float64) Tensor {
	return Tensor{shape: []int{}, data: []float64{v}}
}

func Vector(values []float64) Tensor {
	return Tensor{shape: []int{len(values)}, data: append([]float64(nil), values...)}
}

func (t Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

func (t Tensor) Ndim() int {
	return len(t.shape)
}

func (t Tensor) Size() int {
	return len(t.data)
}

// Data returns a copy of the flattened values in row-major order.
func (t Tensor) Data() []float64 {
	return append([]float64(nil), t.data...)
}

// Item returns the single value of a size-1 tensor.
func (t Tensor) Item() (float64, error) {
	if len(t.data) != 1 {
		return 0, fmt.Errorf("tensor has %d elements, Item needs exactly 1", len(t.data))
	}
	return t.data[0], nil
}

func (t Tensor) Clone() Tensor {
	return Tensor{
		shape: append([]int(nil), t.shape...),
		data:  append([]float64(nil), t.data...),
	}
}

// Equal reports bit-identical shape and contents. NaN payloads compare by
// bit pattern, so RNG key tensors compare correctly.
func (t Tensor) Equal(o Tensor) bool {
	if len(t.shape) != len(o.shape) {
		return false
	}
	for i := range t.shape {
		if t.shape[i] != o.shape[i] {
			return false
		}
	}
	for i := range t.data {
		if math.Float64bits(t.data[i]) != math.Float64bits(o.data[i]) {
			return false
		}
	}
	return true
}

func (t Tensor) sameShape(o Tensor) bool {
	if len(t.shape) != len(o.shape) {
		return false
	}
	for i := range t.shape {
		if t.shape[i] != o.shape[i] {
			return false
		}
	}
	return true
}

func (t Tensor) Add(o Tensor) (Tensor, error) {
	if !t.sameShape(o) {
		return Tensor{}, fmt.Errorf("shape mismatch in Add: %v vs %v", t.shape, o.shape)
	}
	out := t.Clone()
	for i := range out.data {
		out.data[i] += o.data[i]
	}
	return out, nil
}

func (t Tensor) Sub(o Tensor) (Tensor, error) {
	if !t.sameShape(o) {
		return Tensor{}, fmt.Errorf("shape mismatch in Sub: %v vs %v", t.shape, o.shape)
	}
	out := t.Clone()
	for i := range out.data {
		out.data[i] -= o.data[i]
	}
	return out, nil
}

func (t Tensor) Mul(o Tensor) (Tensor, error) {
	if !t.sameShape(o) {
		return Tensor{}, fmt.Errorf("shape mismatch in Mul: %v vs %v", t.shape, o.shape)
	}
	out := t.Clone()
	for i := range out.data {
		out.data[i] *= o.data[i]
	}
	return out, nil
}

func (t Tensor) AddScalar(v float64) Tensor {
	out := t.Clone()
	for i := range out.data {
		out.data[i] += v
	}
	return out
}

func (t Tensor) MulScalar(v float64) Tensor {
	out := t.Clone()
	for i := range out.data {
		out.data[i] *= v
	}
	return out
}

// Apply maps f over every element.
func (t Tensor) Apply(f func(float64) float64) Tensor {
	out := t.Clone()
	for i := range out.data {
		out.data[i] = f(out.data[i])
	}
	return out
}

// AddRow adds row (length = last dimension) to every row of t.
func (t Tensor) AddRow(row Tensor) (Tensor, error) {
	return t.rowwise(row, "AddRow", func(a, b float64) float64 { return a + b })
}

// MulRow multiplies every row of t elementwise by row.
func (t Tensor) MulRow(row Tensor) (Tensor, error) {
	return t.rowwise(row, "MulRow", func(a, b float64) float64 { return a * b })
}

func (t Tensor) rowwise(row Tensor, op string, f func(a, b float64) float64) (Tensor, error) {
	if len(t.shape) == 0 {
		return Tensor{}, fmt.Errorf("%s needs rank >= 1, got scalar", op)
	}
	if len(row.shape) != 1 || row.shape[0] != t.shape[len(t.shape)-1] {
		return Tensor{}, fmt.Errorf("%s row shape %v does not match last dimension of %v", op, row.shape, t.shape)
	}
	out := t.Clone()
	width := row.shape[0]
	for i := range out.data {
		out.data[i] = f(out.data[i], row.data[i%width])
	}
	return out, nil
}

// SumLast reduces the last axis. A rank-1 tensor reduces to a scalar.
func (t Tensor) SumLast() (Tensor, error) {
	if len(t.shape) == 0 {
		return Tensor{}, fmt.Errorf("SumLast needs rank >= 1, got scalar")
	}
	width := t.shape[len(t.shape)-1]
	outShape := append([]int(nil), t.shape[:len(t.shape)-1]...)
	out := Zeros(outShape...)
	for i, v := range t.data {
		out.data[i/width] += v
	}
	return out, nil
}

func (t Tensor) MinAll() float64 {
	min := math.Inf(1)
	for _, v := range t.data {
		if v < min {
			min = v
		}
	}
	return min
}

func (t Tensor) MaxAll() float64 {
	max := math.Inf(-1)
	for _, v := range t.data {
		if v > max {
			max = v
		}
	}
	return max
}

func (t Tensor) MeanAll() float64 {
	if len(t.data) == 0 {
		return math.NaN()
	}
	total := 0.0
	for _, v := range t.data {
		total += v
	}
	return total / float64(len(t.data))
}

// Minimum returns the elementwise minimum of a and b.
func Minimum(a, b Tensor) (Tensor, error) {
	if !a.sameShape(b) {
		return Tensor{}, fmt.Errorf("shape mismatch in Minimum: %v vs %v", a.shape, b.shape)
	}
	out := a.Clone()
	for i := range out.data {
		if b.data[i] < out.data[i] {
			out.data[i] = b.data[i]
		}
	}
	return out, nil
}

// WeightedColumnSum computes, for a [rows, cols] matrix m and a [rows]
// weight vector w, the [cols] vector with entries sum_i(w_i * m_ij).
func (t Tensor) WeightedColumnSum(w Tensor) (Tensor, error) {
	if len(t.shape) != 2 {
		return Tensor{}, fmt.Errorf("WeightedColumnSum needs a rank-2 tensor, got shape %v", t.shape)
	}
	if len(w.shape) != 1 || w.shape[0] != t.shape[0] {
		return Tensor{}, fmt.Errorf("WeightedColumnSum weight shape %v does not match rows of %v", w.shape, t.shape)
	}
	rows, cols := t.shape[0], t.shape[1]
	out := Zeros(cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out.data[c] += w.data[r] * t.data[r*cols+c]
		}
	}
	return out, nil
}

// Replicate stacks n copies of t along a new leading axis. The copies share
// no storage with t or each other.
func Replicate(t Tensor, n int) (Tensor, error) {
	if n <= 0 {
		return Tensor{}, fmt.Errorf("replica count must be > 0, got %d", n)
	}
	shape := append([]int{n}, t.shape...)
	data := make([]float64, 0, n*len(t.data))
	for i := 0; i < n; i++ {
		data = append(data, t.data...)
	}
	return Tensor{shape: shape, data: data}, nil
}

// Stack joins tensors of identical shape along a new leading axis.
func Stack(parts []Tensor) (Tensor, error) {
	if len(parts) == 0 {
		return Tensor{}, fmt.Errorf("cannot stack zero tensors")
	}
	for i := 1; i < len(parts); i++ {
		if !parts[0].sameShape(parts[i]) {
			return Tensor{}, fmt.Errorf("stack shape mismatch at index %d: %v vs %v", i, parts[0].shape, parts[i].shape)
		}
	}
	shape := append([]int{len(parts)}, parts[0].shape...)
	data := make([]float64, 0, len(parts)*len(parts[0].data))
	for _, p := range parts {
		data = append(data, p.data...)
	}
	return Tensor{shape: shape, data: data}, nil
}

// Row returns a copy of slice i along the leading axis.
func (t Tensor) Row(i int) (Tensor, error) {
	if len(t.shape) == 0 {
		return Tensor{}, fmt.Errorf("Row needs rank >= 1, got scalar")
	}
	if i < 0 || i >= t.shape[0] {
		return Tensor{}, fmt.Errorf("row index %d out of range [0, %d)", i, t.shape[0])
	}
	width := len(t.data) / t.shape[0]
	return Tensor{
		shape: append([]int(nil), t.shape[1:]...),
		data:  append([]float64(nil), t.data[i*width:(i+1)*width]...),
	}, nil
}

// SetRow writes sub into slice i along the leading axis, in place. Distinct
// rows occupy disjoint storage, so concurrent SetRow calls on distinct
// indices are safe.
func (t Tensor) SetRow(i int, sub Tensor) error {
	if len(t.shape) == 0 {
		return fmt.Errorf("SetRow needs rank >= 1, got scalar")
	}
	if i < 0 || i >= t.shape[0] {
		return fmt.Errorf("row index %d out of range [0, %d)", i, t.shape[0])
	}
	width := len(t.data) / t.shape[0]
	if len(sub.data) != width {
		return fmt.Errorf("SetRow shape mismatch: row of %v needs %d values, got shape %v", t.shape, width, sub.shape)
	}
	copy(t.data[i*width:(i+1)*width], sub.data)
	return nil
}

func (t Tensor) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "tensor%v", t.shape)
	if len(t.data) <= 8 {
		fmt.Fprintf(&b, "%v", t.data)
	} else {
		fmt.Fprintf(&b, "[%g %g ... %g]", t.data[0], t.data[1], t.data[len(t.data)-1])
	}
	return b.String()
}
