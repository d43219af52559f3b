package cpuload

import (
	"fmt"
	"math"
	"time"
)

// InstructionSet names the synthetic workload kind a Target runs. The
// original ports SCALAR and a vectorized/ISPC path; this rewrite keeps both
// names but implements the vector path as a small unrolled matrix multiply
// rather than linking a vector-instruction compiler, per SPEC_FULL.md §4.3.
type InstructionSet string

const (
	InstructionSetScalar InstructionSet = "scalar"
	InstructionSetVector InstructionSet = "vector"
)

// DataType names the operand width a Target operates on.
type DataType string

const (
	DataTypeInt32   DataType = "int32"
	DataTypeInt64   DataType = "int64"
	DataTypeFloat32 DataType = "float32"
	DataTypeFloat64 DataType = "float64"
)

// TargetConfig describes one micro-benchmark target and its share of the
// worker's per-tick time budget.
type TargetConfig struct {
	Set      InstructionSet `json:"instruction_set"`
	DataType DataType       `json:"data_type"`
	Weight   uint32         `json:"weight"`
}

// operation runs one unit of synthetic work and reports how many logical
// operations it performed, mirroring target::operation()'s return count.
type operation func() uint64

// target pairs a configured operation with the bookkeeping spin() needs to
// plan how many calls fit in a time slice: its measured average runtime per
// call and its configured weight.
type target struct {
	weight  uint32
	op      operation
	runtime time.Duration // EWMA of one call's wall time
}

func makeOperation(set InstructionSet, dt DataType) (operation, error) {
	switch set {
	case InstructionSetScalar:
		return scalarOperation(dt)
	case InstructionSetVector:
		return vectorOperation(dt)
	default:
		return nil, fmt.Errorf("cpuload: unknown instruction set %q", set)
	}
}

// scalarOperation returns a closure performing a tight integer or float
// multiply-add loop, grounded on target_scalar.hpp's per-type operation().
func scalarOperation(dt DataType) (operation, error) {
	const iterations = 1000
	switch dt {
	case DataTypeInt32:
		return func() uint64 {
			var a, b int32 = 3, 7
			var ops uint64
			for i := 0; i < iterations; i++ {
				a = a*b + int32(i)
				ops++
			}
			return ops
		}, nil
	case DataTypeInt64:
		return func() uint64 {
			var a, b int64 = 3, 7
			var ops uint64
			for i := 0; i < iterations; i++ {
				a = a*b + int64(i)
				ops++
			}
			return ops
		}, nil
	case DataTypeFloat32:
		return func() uint64 {
			var a, b float32 = 3.1, 7.2
			var ops uint64
			for i := 0; i < iterations; i++ {
				a = a*b + float32(i)
				ops++
			}
			return ops
		}, nil
	case DataTypeFloat64:
		return func() uint64 {
			var a, b float64 = 3.1, 7.2
			var ops uint64
			for i := 0; i < iterations; i++ {
				a = a*b + float64(i)
				ops++
			}
			return ops
		}, nil
	default:
		return nil, fmt.Errorf("cpuload: unknown data type %q", dt)
	}
}

// vectorOperation returns a closure that runs a small fixed-size matrix
// multiply per call, standing in for the original's ISPC vector target
// (matrix.hpp) without requiring a vector-instruction toolchain.
func vectorOperation(dt DataType) (operation, error) {
	const dim = 8
	switch dt {
	case DataTypeFloat32, DataTypeFloat64:
		return func() uint64 {
			var a, b, c [dim][dim]float64
			for i := 0; i < dim; i++ {
				for j := 0; j < dim; j++ {
					a[i][j] = float64(i + j)
					b[i][j] = math.Sin(float64(i - j))
				}
			}
			var ops uint64
			for i := 0; i < dim; i++ {
				for j := 0; j < dim; j++ {
					var sum float64
					for k := 0; k < dim; k++ {
						sum += a[i][k] * b[k][j]
						ops++
					}
					c[i][j] = sum
				}
			}
			return ops
		}, nil
	case DataTypeInt32, DataTypeInt64:
		return func() uint64 {
			var a, b, c [dim][dim]int64
			for i := 0; i < dim; i++ {
				for j := 0; j < dim; j++ {
					a[i][j] = int64(i + j)
					b[i][j] = int64(i - j)
				}
			}
			var ops uint64
			for i := 0; i < dim; i++ {
				for j := 0; j < dim; j++ {
					var sum int64
					for k := 0; k < dim; k++ {
						sum += a[i][k] * b[k][j]
						ops++
					}
					c[i][j] = sum
				}
			}
			return ops
		}, nil
	default:
		return nil, fmt.Errorf("cpuload: unknown data type %q", dt)
	}
}

// measure runs fn and reports its wall-clock duration.
func measure(fn func()) time.Duration {
	start := time.Now()
	fn()
	return time.Since(start)
}
