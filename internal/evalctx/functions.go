// Scalar function table (C3 [ADD]): generalizes
// sql2mapreduce/nonagg_functions.py's two-entry registry
// (flux2mag, isnan) to the full set SPEC_FULL.md names: abs, sqrt, pow,
// least, greatest.

package evalctx

import (
	"math"

	"quickdb/internal/expr"
	"quickdb/internal/qerrors"
	"quickdb/internal/shardstore"
)

// ScalarFn is a non-aggregate function implementation: takes the
// compiled positional/named arguments, returns a scalar or Vector.
type ScalarFn func(positional []expr.Value, named map[string]expr.Value) (expr.Value, error)

// ScalarFunctions is the fixed, per-release registry — this engine has
// no user-defined function support (spec §9 design note on removing
// dynamic code).
var ScalarFunctions = map[string]ScalarFn{
	"flux2mag": fnFlux2Mag,
	"isnan":    fnIsNaN,
	"abs":      fnMap1(math.Abs),
	"sqrt":     fnMap1(math.Sqrt),
	"pow":      fnPow,
	"least":    fnReduce(math.Min),
	"greatest": fnReduce(math.Max),
}

// fluxToMagZeroPoint is the magnitude zero point flux2mag uses:
// mag = fluxToMagZeroPoint - 2.5*log10(flux), the constant hardcoded
// the way nonagg_functions.py's flux2mag hardcodes it.
const fluxToMagZeroPoint = 57.543993733715695

func fnFlux2Mag(positional []expr.Value, named map[string]expr.Value) (expr.Value, error) {
	if len(positional) != 1 {
		return nil, qerrors.NewSQL("flux2mag", "expects exactly one argument")
	}
	return applyUnary(positional[0], func(x float64) float64 { return fluxToMagZeroPoint - 2.5*math.Log10(x) })
}

func fnIsNaN(positional []expr.Value, _ map[string]expr.Value) (expr.Value, error) {
	if len(positional) != 1 {
		return nil, qerrors.NewSQL("isnan", "expects exactly one argument")
	}
	return applyUnaryBool(positional[0], math.IsNaN)
}

func fnMap1(f func(float64) float64) ScalarFn {
	return func(positional []expr.Value, _ map[string]expr.Value) (expr.Value, error) {
		if len(positional) != 1 {
			return nil, qerrors.NewSQL("", "expects exactly one argument")
		}
		return applyUnary(positional[0], f)
	}
}

func fnPow(positional []expr.Value, _ map[string]expr.Value) (expr.Value, error) {
	if len(positional) != 2 {
		return nil, qerrors.NewSQL("pow", "expects exactly two arguments")
	}
	return arith(positional[0], positional[1], math.Pow)
}

func fnReduce(f func(a, b float64) float64) ScalarFn {
	return func(positional []expr.Value, _ map[string]expr.Value) (expr.Value, error) {
		if len(positional) == 0 {
			return nil, qerrors.NewSQL("", "expects at least one argument")
		}
		acc := positional[0]
		var err error
		for _, v := range positional[1:] {
			acc, err = arith(acc, v, f)
			if err != nil {
				return nil, err
			}
		}
		return acc, nil
	}
}

func applyUnary(v expr.Value, f func(float64) float64) (expr.Value, error) {
	if x, ok := asFloat(v); ok {
		return f(x), nil
	}
	if vec, ok := vecOf(v); ok {
		xs := floatSlice(vec)
		out := make([]float64, len(xs))
		for i, x := range xs {
			out[i] = f(x)
		}
		return shardstore.Vector{Kind: shardstore.KindFloat, Floats: out}, nil
	}
	return nil, qerrors.NewSQL("", "expected a numeric argument")
}

func applyUnaryBool(v expr.Value, f func(float64) bool) (expr.Value, error) {
	if x, ok := asFloat(v); ok {
		return f(x), nil
	}
	if vec, ok := vecOf(v); ok {
		xs := floatSlice(vec)
		out := make([]bool, len(xs))
		for i, x := range xs {
			out[i] = f(x)
		}
		return shardstore.Vector{Kind: shardstore.KindBool, Bools: out}, nil
	}
	return nil, qerrors.NewSQL("", "expected a numeric argument")
}

