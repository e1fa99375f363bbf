// Grounded on agg_functions/sum.py's SumAggCall.

package agg

import (
	"quickdb/internal/evalctx"
	"quickdb/internal/expr"
)

type sumAgg struct {
	arg expr.Expression
}

func newSum(positional []expr.Expression, named map[string]expr.Expression, star bool) (AggCall, error) {
	if star || len(positional) != 1 || len(named) != 0 {
		return nil, argError("sum", "sum() accepts exactly one positional argument")
	}
	return &sumAgg{arg: positional[0]}, nil
}

func (s *sumAgg) Mapper(ctx *evalctx.Context) (State, error) {
	vec, err := evalVector(s.arg, ctx)
	if err != nil {
		return nil, err
	}
	var total float64
	for _, x := range toFloatSlice(vec) {
		total += x
	}
	return total, nil
}

func (s *sumAgg) Reducer(a, b State) (State, error) {
	return a.(float64) + b.(float64), nil
}

func (s *sumAgg) Finalizer(a State) (expr.Value, error) {
	return a.(float64), nil
}

func (s *sumAgg) SubAggregates() []AggCall { return nil }

func (s *sumAgg) MergeFinal(a, b expr.Value) (expr.Value, error) {
	return a.(float64) + b.(float64), nil
}
