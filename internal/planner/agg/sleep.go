// Grounded on agg_functions/sleep.py's SleepAggCall: a test aid that
// stalls the finalize pass for the requested duration, used to
// exercise worker timeout and cancellation paths (spec §4.5).

package agg

import (
	"time"

	"quickdb/internal/evalctx"
	"quickdb/internal/expr"
	"quickdb/internal/qerrors"
)

type sleepAgg struct {
	seconds expr.Expression
}

func newSleep(positional []expr.Expression, named map[string]expr.Expression, star bool) (AggCall, error) {
	if star || len(positional) != 1 || len(named) != 0 {
		return nil, argError("sleep", "sleep() accepts exactly one positional argument")
	}
	return &sleepAgg{seconds: positional[0]}, nil
}

func (s *sleepAgg) SubAggregates() []AggCall { return nil }

func (s *sleepAgg) Mapper(ctx *evalctx.Context) (State, error) {
	v, err := s.seconds.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	f, ok := toFloat(v)
	if !ok {
		return nil, qerrors.NewSQL("", "sleep() argument must be numeric")
	}
	return f, nil
}

func (s *sleepAgg) Reducer(a, b State) (State, error) {
	return a.(float64), nil
}

func (s *sleepAgg) Finalizer(a State) (expr.Value, error) {
	time.Sleep(time.Duration(a.(float64) * float64(time.Second)))
	return int64(0), nil
}
