// Grounded on agg_functions/count.py's CoutnAggCall.

package agg

import (
	"quickdb/internal/evalctx"
	"quickdb/internal/expr"
)

type countAgg struct{}

func newCount(positional []expr.Expression, named map[string]expr.Expression, star bool) (AggCall, error) {
	if !star && len(positional) != 0 {
		return nil, argError("count", "count() takes no arguments except count(*)")
	}
	return &countAgg{}, nil
}

func (c *countAgg) Mapper(ctx *evalctx.Context) (State, error) {
	return int64(ctx.Shard.Size()), nil
}

func (c *countAgg) Reducer(a, b State) (State, error) {
	return a.(int64) + b.(int64), nil
}

func (c *countAgg) Finalizer(a State) (expr.Value, error) {
	return a.(int64), nil
}

func (c *countAgg) SubAggregates() []AggCall { return nil }

func (c *countAgg) MergeFinal(a, b expr.Value) (expr.Value, error) {
	return a.(int64) + b.(int64), nil
}
