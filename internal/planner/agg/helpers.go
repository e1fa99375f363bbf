package agg

import (
	"math"

	"quickdb/internal/evalctx"
	"quickdb/internal/expr"
	"quickdb/internal/qerrors"
	"quickdb/internal/shardstore"
)

func evalVector(e expr.Expression, ctx *evalctx.Context) (shardstore.Vector, error) {
	v, err := e.Evaluate(ctx)
	if err != nil {
		return shardstore.Vector{}, err
	}
	vec, ok := v.(shardstore.Vector)
	if !ok {
		return shardstore.Vector{}, qerrors.NewSQL("", "aggregate argument must evaluate to a column vector")
	}
	return vec, nil
}

// toFloatSlice converts any numeric Vector to []float64 without
// filtering NaN/Inf, matching a plain numpy .sum()/.mean() over the
// raw array.
func toFloatSlice(v shardstore.Vector) []float64 {
	switch v.Kind {
	case shardstore.KindFloat:
		return v.Floats
	case shardstore.KindInt:
		out := make([]float64, len(v.Ints))
		for i, n := range v.Ints {
			out[i] = float64(n)
		}
		return out
	default:
		return nil
	}
}

func finiteFloats(v shardstore.Vector) []float64 {
	var xs []float64
	switch v.Kind {
	case shardstore.KindFloat:
		xs = v.Floats
	case shardstore.KindInt:
		xs = make([]float64, len(v.Ints))
		for i, n := range v.Ints {
			xs[i] = float64(n)
		}
	default:
		return nil
	}
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, x)
		}
	}
	return out
}

func evalScalarInt(e expr.Expression, ctx *evalctx.Context, deflt int) (int, error) {
	if e == nil {
		return deflt, nil
	}
	v, err := e.Evaluate(ctx)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, qerrors.NewSQL("", "expected an integer literal")
	}
}

// evalRange reads an explicit `range := (lo, hi)` named argument as two
// float64 bounds.
func evalRange(e expr.Expression, ctx *evalctx.Context) (lo, hi float64, err error) {
	v, err := e.Evaluate(ctx)
	if err != nil {
		return 0, 0, err
	}
	row, ok := v.(expr.Row)
	if !ok || len(row.Args) != 2 {
		return 0, 0, qerrors.NewSQL("", "range must be a two-element row, e.g. (0, 100)")
	}
	lo, lok := toFloat(row.Args[0])
	hi, hok := toFloat(row.Args[1])
	if !lok || !hok {
		return 0, 0, qerrors.NewSQL("", "range bounds must be numeric")
	}
	return lo, hi, nil
}

func toFloat(v expr.Value) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
