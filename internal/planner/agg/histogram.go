// Grounded on agg_functions/histogram.py's HistogramAggCall: bins the
// argument over a range, defaulting to a dependent MINMAX sub-aggregate
// when no explicit range is given.

package agg

import (
	"quickdb/internal/evalctx"
	"quickdb/internal/expr"
)

// dependentAggCall is implemented by aggregates whose Mapper needs a
// sub-aggregate's already-finalized, per-group result (spec §4.5: "a
// histogram whose range depends on a min/max pre-aggregate"). The
// planner wires this in after running and finalizing each entry of
// SubAggregates(), in dependency order, before this call's own pass
// runs.
type dependentAggCall interface {
	WireSubAggregateResult(index int, results map[string]expr.Value)
}

const defaultHistogramBins = 50

type histogramAgg struct {
	arr   expr.Expression
	bins  expr.Expression
	rng   expr.Expression
	mm    *minMaxAgg // non-nil only when rng == nil
	mmRes map[string]expr.Value
}

func newHistogram(positional []expr.Expression, named map[string]expr.Expression, star bool) (AggCall, error) {
	if star || len(positional) != 1 {
		return nil, argError("histogram", "histogram() accepts exactly one positional argument")
	}
	h := &histogramAgg{arr: positional[0]}
	if b, ok := named["bins"]; ok {
		h.bins = b
		delete(named, "bins")
	}
	if r, ok := named["range"]; ok {
		h.rng = r
		delete(named, "range")
	}
	if len(named) != 0 {
		return nil, argError("histogram", "unknown named argument for histogram()")
	}
	if h.rng == nil {
		h.mm = &minMaxAgg{arg: h.arr, pick: func(v MinMaxValue) expr.Value { return v }}
	}
	return h, nil
}

func (h *histogramAgg) SubAggregates() []AggCall {
	if h.mm == nil {
		return nil
	}
	return []AggCall{h.mm}
}

func (h *histogramAgg) WireSubAggregateResult(index int, results map[string]expr.Value) {
	h.mmRes = results
}

type histogramState struct {
	counts []int64
	lo, hi float64
}

func (h *histogramAgg) Mapper(ctx *evalctx.Context) (State, error) {
	vec, err := evalVector(h.arr, ctx)
	if err != nil {
		return nil, err
	}
	bins, err := evalScalarInt(h.bins, ctx, defaultHistogramBins)
	if err != nil {
		return nil, err
	}
	var lo, hi float64
	if h.rng != nil {
		lo, hi, err = evalRange(h.rng, ctx)
		if err != nil {
			return nil, err
		}
	} else {
		mm, ok := h.mmRes[ctx.GroupKey]
		if !ok {
			return nil, argError("histogram", "missing pre-computed range")
		}
		bounds := mm.(MinMaxValue)
		lo, hi = bounds.Min, bounds.Max
	}

	counts := make([]int64, bins)
	width := (hi - lo) / float64(bins)
	for _, x := range toFloatSlice(vec) {
		if x < lo || x > hi || width <= 0 {
			continue
		}
		idx := int((x - lo) / width)
		if idx == bins {
			idx = bins - 1
		}
		counts[idx]++
	}
	return histogramState{counts: counts, lo: lo, hi: hi}, nil
}

func (h *histogramAgg) Reducer(a, b State) (State, error) {
	as, bs := a.(histogramState), b.(histogramState)
	merged := make([]int64, len(as.counts))
	for i := range merged {
		merged[i] = as.counts[i] + bs.counts[i]
	}
	return histogramState{counts: merged, lo: as.lo, hi: as.hi}, nil
}

func (h *histogramAgg) Finalizer(a State) (expr.Value, error) {
	s := a.(histogramState)
	return HistogramResult{Counts: s.counts, Lo: s.lo, Hi: s.hi}, nil
}

// HistogramResult is the SQL-visible result of HISTOGRAM(x, ...).
type HistogramResult struct {
	Counts []int64
	Lo, Hi float64
}
