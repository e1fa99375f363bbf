// Grounded on agg_functions/minmax.py's MinMaxAggCall/MinAggCall/
// MaxAggCall: a shared min/max sweep over finite values, with MIN/MAX
// each selecting one side of the pair at finalize time.

package agg

import (
	"math"

	"quickdb/internal/evalctx"
	"quickdb/internal/expr"
	"quickdb/internal/shardstore"
)

// MinMaxValue is the shared result shape for MINMAX and, as its
// finalized value, for HISTOGRAM/HISTOGRAM2D's implicit range
// sub-aggregate.
type MinMaxValue struct {
	Min, Max float64
}

type minMaxState struct {
	value MinMaxValue
	valid bool
}

type minMaxAgg struct {
	arg  expr.Expression
	op   string
	pick func(MinMaxValue) expr.Value
}

func newMinMaxCall(name string, positional []expr.Expression, named map[string]expr.Expression, star bool, pick func(MinMaxValue) expr.Value) (AggCall, error) {
	if star || len(positional) != 1 || len(named) != 0 {
		return nil, argError(name, name+"() accepts exactly one positional argument")
	}
	return &minMaxAgg{arg: positional[0], op: name, pick: pick}, nil
}

func newMinMax(positional []expr.Expression, named map[string]expr.Expression, star bool) (AggCall, error) {
	return newMinMaxCall("minmax", positional, named, star, func(v MinMaxValue) expr.Value { return v })
}

func newMin(positional []expr.Expression, named map[string]expr.Expression, star bool) (AggCall, error) {
	return newMinMaxCall("min", positional, named, star, func(v MinMaxValue) expr.Value { return v.Min })
}

func newMax(positional []expr.Expression, named map[string]expr.Expression, star bool) (AggCall, error) {
	return newMinMaxCall("max", positional, named, star, func(v MinMaxValue) expr.Value { return v.Max })
}

func (m *minMaxAgg) Mapper(ctx *evalctx.Context) (State, error) {
	vec, err := evalVector(m.arg, ctx)
	if err != nil {
		return nil, err
	}
	finite := finiteFloats(vec)
	if len(finite) == 0 {
		return minMaxState{}, nil
	}
	lo, hi := shardstore.MinMax(finite)
	return minMaxState{value: MinMaxValue{Min: lo, Max: hi}, valid: true}, nil
}

func (m *minMaxAgg) Reducer(a, b State) (State, error) {
	as, bs := a.(minMaxState), b.(minMaxState)
	if !as.valid {
		return bs, nil
	}
	if !bs.valid {
		return as, nil
	}
	return minMaxState{valid: true, value: MinMaxValue{
		Min: math.Min(as.value.Min, bs.value.Min),
		Max: math.Max(as.value.Max, bs.value.Max),
	}}, nil
}

func (m *minMaxAgg) Finalizer(a State) (expr.Value, error) {
	s := a.(minMaxState)
	if !s.valid {
		return m.pick(MinMaxValue{Min: math.NaN(), Max: math.NaN()}), nil
	}
	return m.pick(s.value), nil
}

func (m *minMaxAgg) SubAggregates() []AggCall { return nil }

// MergeFinal re-combines two already-finalized values: min/max is
// idempotent under its own operation, so min(min(A), min(B)) ==
// min(A ∪ B) holds whether or not the values were ever finalized —
// unlike HISTOGRAM/HISTOGRAM2D, finalizing MIN/MAX/MINMAX commits to
// nothing a second reduce pass can't undo.
func (m *minMaxAgg) MergeFinal(a, b expr.Value) (expr.Value, error) {
	switch m.op {
	case "minmax":
		av, bv := a.(MinMaxValue), b.(MinMaxValue)
		if math.IsNaN(av.Min) {
			return bv, nil
		}
		if math.IsNaN(bv.Min) {
			return av, nil
		}
		return MinMaxValue{Min: math.Min(av.Min, bv.Min), Max: math.Max(av.Max, bv.Max)}, nil
	default:
		af, bf := a.(float64), b.(float64)
		if math.IsNaN(af) {
			return bf, nil
		}
		if math.IsNaN(bf) {
			return af, nil
		}
		if m.op == "min" {
			return math.Min(af, bf), nil
		}
		return math.Max(af, bf), nil
	}
}
