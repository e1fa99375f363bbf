// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Generic numeric helpers shared by the aggregate planner's MINMAX,
// HISTOGRAM, and HISTOGRAM2D implementations (C5) — one min/max sweep
// works the same way whether the underlying column is float64 or
// int64, so it is written once over constraints.Integer|Float rather
// than duplicated per numeric kind.

package shardstore

import "golang.org/x/exp/constraints"

// Number is any column element type the engine reduces with ordering.
type Number interface {
	constraints.Integer | constraints.Float
}

// MinMax returns the smallest and largest element of xs. Panics on an
// empty slice — callers (aggregate mappers) always guard on the number
// of finite values first.
func MinMax[T Number](xs []T) (min, max T) {
	min, max = xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	return min, max
}

// VectorMinMax computes MinMax over a Vector's populated numeric slice,
// reporting both bounds as float64 regardless of the vector's Kind.
func VectorMinMax(v Vector) (min, max float64, ok bool) {
	switch v.Kind {
	case KindFloat:
		if len(v.Floats) == 0 {
			return 0, 0, false
		}
		mn, mx := MinMax(v.Floats)
		return mn, mx, true
	case KindInt:
		if len(v.Ints) == 0 {
			return 0, 0, false
		}
		mn, mx := MinMax(v.Ints)
		return float64(mn), float64(mx), true
	default:
		return 0, 0, false
	}
}
