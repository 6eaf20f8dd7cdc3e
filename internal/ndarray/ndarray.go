// Package ndarray is a small dense float64 n-dimensional array. It is
// the array library bound as "np" inside loaded expressions, so the
// probe can print tensors as
//
//	np.Array(1, 2, 3, 4, 5, 6).ReshapeF(2, 3)
//
// where ReshapeF follows the column-major layout of the probed program.
// Constructors and reshapes panic on invalid shapes, like their numpy
// counterparts raise; the evaluator turns those panics into errors.
package ndarray

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NDArray is a dense row-major array of float64.
type NDArray struct {
	shape []int
	data  []float64
}

// Array builds a one-dimensional array from values.
func Array(values ...float64) *NDArray {
	data := make([]float64, len(values))
	copy(data, values)
	return &NDArray{shape: []int{len(values)}, data: data}
}

// FromInts builds a one-dimensional array from integer values.
func FromInts(values ...int) *NDArray {
	data := make([]float64, len(values))
	for i, v := range values {
		data[i] = float64(v)
	}
	return &NDArray{shape: []int{len(values)}, data: data}
}

// Zeros returns an array of the given shape filled with 0.
func Zeros(shape ...int) *NDArray {
	return &NDArray{shape: cloneShape(shape), data: make([]float64, mustSize(shape))}
}

// Ones returns an array of the given shape filled with 1.
func Ones(shape ...int) *NDArray {
	return Full(1, shape...)
}

// Full returns an array of the given shape filled with v.
func Full(v float64, shape ...int) *NDArray {
	a := Zeros(shape...)
	for i := range a.data {
		a.data[i] = v
	}
	return a
}

// Arange returns [0, 1, ..., n-1].
func Arange(n int) *NDArray {
	if n < 0 {
		panic(fmt.Sprintf("ndarray: negative arange length %d", n))
	}
	a := Zeros(n)
	for i := range a.data {
		a.data[i] = float64(i)
	}
	return a
}

func mustSize(shape []int) int {
	size := 1
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("ndarray: negative dimension in shape %v", shape))
		}
		size *= d
	}
	return size
}

func cloneShape(shape []int) []int {
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}

// Shape returns a copy of the array's shape.
func (a *NDArray) Shape() []int { return cloneShape(a.shape) }

// Ndim returns the number of dimensions.
func (a *NDArray) Ndim() int { return len(a.shape) }

// Size returns the number of elements.
func (a *NDArray) Size() int { return len(a.data) }

// Data returns a copy of the elements in row-major order.
func (a *NDArray) Data() []float64 {
	out := make([]float64, len(a.data))
	copy(out, a.data)
	return out
}

// resolve fills in a single -1 dimension and validates the element count.
func (a *NDArray) resolve(shape []int) []int {
	shape = cloneShape(shape)
	infer := -1
	known := 1
	for i, d := range shape {
		switch {
		case d == -1 && infer == -1:
			infer = i
		case d < 0:
			panic(fmt.Sprintf("ndarray: invalid shape %v", shape))
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || len(a.data)%known != 0 {
			panic(fmt.Sprintf("ndarray: cannot reshape array of size %d into shape %v", len(a.data), shape))
		}
		shape[infer] = len(a.data) / known
		known = len(a.data)
	}
	if known != len(a.data) {
		panic(fmt.Sprintf("ndarray: cannot reshape array of size %d into shape %v", len(a.data), shape))
	}
	return shape
}

// Reshape returns a new array with the same elements read and written in
// row-major (C) order. One dimension may be -1 and is inferred.
func (a *NDArray) Reshape(shape ...int) *NDArray {
	s := a.resolve(shape)
	return &NDArray{shape: s, data: a.Data()}
}

// ReshapeF returns a new array with the same elements read and written
// in column-major (Fortran) order.
func (a *NDArray) ReshapeF(shape ...int) *NDArray {
	s := a.resolve(shape)
	src := a.fortranOrder()
	out := &NDArray{shape: s, data: make([]float64, len(src))}
	idx := make([]int, len(s))
	for k := range src {
		// k is the column-major linear index; convert to a multi-index.
		rem := k
		for d := 0; d < len(s); d++ {
			idx[d] = rem % s[d]
			rem /= s[d]
		}
		out.data[out.offset(idx)] = src[k]
	}
	return out
}

// fortranOrder lists the elements in column-major order.
func (a *NDArray) fortranOrder() []float64 {
	out := make([]float64, 0, len(a.data))
	if len(a.data) == 0 {
		return out
	}
	idx := make([]int, len(a.shape))
	for range a.data {
		out = append(out, a.data[a.offset(idx)])
		for d := 0; d < len(idx); d++ {
			idx[d]++
			if idx[d] < a.shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}

func (a *NDArray) offset(idx []int) int {
	off := 0
	for d, i := range idx {
		off = off*a.shape[d] + i
	}
	return off
}

// At returns the element at the given multi-index.
func (a *NDArray) At(idx ...int) float64 {
	if len(idx) != len(a.shape) {
		panic(fmt.Sprintf("ndarray: %d indices for %d-dimensional array", len(idx), len(a.shape)))
	}
	for d, i := range idx {
		if i < 0 || i >= a.shape[d] {
			panic(fmt.Sprintf("ndarray: index %d out of range for axis %d with size %d", i, d, a.shape[d]))
		}
	}
	return a.data[a.offset(idx)]
}

// Transpose reverses the axes.
func (a *NDArray) Transpose() *NDArray {
	n := len(a.shape)
	shape := make([]int, n)
	for d := range shape {
		shape[d] = a.shape[n-1-d]
	}
	out := &NDArray{shape: shape, data: make([]float64, len(a.data))}
	if len(a.data) == 0 {
		return out
	}
	idx := make([]int, n)
	rev := make([]int, n)
	for range a.data {
		for d := range idx {
			rev[n-1-d] = idx[d]
		}
		out.data[out.offset(rev)] = a.data[a.offset(idx)]
		for d := n - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < a.shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}

// T is an alias for Transpose.
func (a *NDArray) T() *NDArray { return a.Transpose() }

// Sum returns the sum of all elements.
func (a *NDArray) Sum() float64 {
	s := 0.0
	for _, v := range a.data {
		s += v
	}
	return s
}

// Max returns the largest element, or -Inf for an empty array.
func (a *NDArray) Max() float64 {
	m := math.Inf(-1)
	for _, v := range a.data {
		m = math.Max(m, v)
	}
	return m
}

// Min returns the smallest element, or +Inf for an empty array.
func (a *NDArray) Min() float64 {
	m := math.Inf(1)
	for _, v := range a.data {
		m = math.Min(m, v)
	}
	return m
}

// Equal reports whether b has the same shape and elements.
func (a *NDArray) Equal(b *NDArray) bool {
	if b == nil || len(a.shape) != len(b.shape) || len(a.data) != len(b.data) {
		return false
	}
	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return false
		}
	}
	for i := range a.data {
		if a.data[i] != b.data[i] {
			return false
		}
	}
	return true
}

// Kind describes the array for listings, e.g. "ndarray[2x3]".
func (a *NDArray) Kind() string {
	dims := make([]string, len(a.shape))
	for i, d := range a.shape {
		dims[i] = strconv.Itoa(d)
	}
	return "ndarray[" + strings.Join(dims, "x") + "]"
}

// String renders the array with nested brackets, one row per line.
func (a *NDArray) String() string {
	var b strings.Builder
	if len(a.shape) == 0 {
		return "[]"
	}
	a.format(&b, 0, 0)
	return b.String()
}

func (a *NDArray) format(b *strings.Builder, axis, base int) {
	b.WriteByte('[')
	n := a.shape[axis]
	stride := 1
	for _, d := range a.shape[axis+1:] {
		stride *= d
	}
	for i := 0; i < n; i++ {
		if i > 0 {
			if axis == len(a.shape)-1 {
				b.WriteString(", ")
			} else {
				b.WriteString(",\n")
				b.WriteString(strings.Repeat(" ", axis+1))
			}
		}
		if axis == len(a.shape)-1 {
			b.WriteString(strconv.FormatFloat(a.data[base+i], 'g', -1, 64))
		} else {
			a.format(b, axis+1, base+i*stride)
		}
	}
	b.WriteByte(']')
}
