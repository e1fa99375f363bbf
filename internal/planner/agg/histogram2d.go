// Grounded on agg_functions/histogram2d.py's HistogramAgg2DCall.

package agg

import (
	"quickdb/internal/evalctx"
	"quickdb/internal/expr"
)

type histogram2DAgg struct {
	x, y   expr.Expression
	bins   expr.Expression
	rng    expr.Expression
	mmX    *minMaxAgg
	mmY    *minMaxAgg
	mmXRes map[string]expr.Value
	mmYRes map[string]expr.Value
}

func newHistogram2D(positional []expr.Expression, named map[string]expr.Expression, star bool) (AggCall, error) {
	if star || len(positional) != 2 {
		return nil, argError("histogram2d", "histogram2d() accepts exactly two positional arguments")
	}
	h := &histogram2DAgg{x: positional[0], y: positional[1]}
	if b, ok := named["bins"]; ok {
		h.bins = b
		delete(named, "bins")
	}
	if r, ok := named["range"]; ok {
		h.rng = r
		delete(named, "range")
	}
	if len(named) != 0 {
		return nil, argError("histogram2d", "unknown named argument for histogram2d()")
	}
	if h.rng == nil {
		h.mmX = &minMaxAgg{arg: h.x, pick: func(v MinMaxValue) expr.Value { return v }}
		h.mmY = &minMaxAgg{arg: h.y, pick: func(v MinMaxValue) expr.Value { return v }}
	}
	return h, nil
}

func (h *histogram2DAgg) SubAggregates() []AggCall {
	if h.mmX == nil {
		return nil
	}
	return []AggCall{h.mmX, h.mmY}
}

func (h *histogram2DAgg) WireSubAggregateResult(index int, results map[string]expr.Value) {
	if index == 0 {
		h.mmXRes = results
		return
	}
	h.mmYRes = results
}

type histogram2DState struct {
	counts             [][]int64
	xlo, xhi, ylo, yhi float64
	bins               int
}

func (h *histogram2DAgg) Mapper(ctx *evalctx.Context) (State, error) {
	xv, err := evalVector(h.x, ctx)
	if err != nil {
		return nil, err
	}
	yv, err := evalVector(h.y, ctx)
	if err != nil {
		return nil, err
	}
	bins, err := evalScalarInt(h.bins, ctx, defaultHistogramBins)
	if err != nil {
		return nil, err
	}

	var xlo, xhi, ylo, yhi float64
	if h.rng != nil {
		v, err := h.rng.Evaluate(ctx)
		if err != nil {
			return nil, err
		}
		row, ok := v.(expr.Row)
		if !ok || len(row.Args) != 2 {
			return nil, argError("histogram2d", "range must be a two-element row of (x-range, y-range)")
		}
		xr, xok := row.Args[0].(expr.Row)
		yr, yok := row.Args[1].(expr.Row)
		if !xok || !yok || len(xr.Args) != 2 || len(yr.Args) != 2 {
			return nil, argError("histogram2d", "each range element must itself be a two-element row")
		}
		xlo, _ = toFloat(xr.Args[0])
		xhi, _ = toFloat(xr.Args[1])
		ylo, _ = toFloat(yr.Args[0])
		yhi, _ = toFloat(yr.Args[1])
	} else {
		xmm, ok := h.mmXRes[ctx.GroupKey]
		if !ok {
			return nil, argError("histogram2d", "missing pre-computed x range")
		}
		ymm, ok := h.mmYRes[ctx.GroupKey]
		if !ok {
			return nil, argError("histogram2d", "missing pre-computed y range")
		}
		xb, yb := xmm.(MinMaxValue), ymm.(MinMaxValue)
		xlo, xhi, ylo, yhi = xb.Min, xb.Max, yb.Min, yb.Max
	}

	counts := make([][]int64, bins)
	for i := range counts {
		counts[i] = make([]int64, bins)
	}
	xw := (xhi - xlo) / float64(bins)
	yw := (yhi - ylo) / float64(bins)
	xs, ys := toFloatSlice(xv), toFloatSlice(yv)
	for i := range xs {
		x, y := xs[i], ys[i]
		if x < xlo || x > xhi || y < ylo || y > yhi || xw <= 0 || yw <= 0 {
			continue
		}
		xi := clampBin(int((x-xlo)/xw), bins)
		yi := clampBin(int((y-ylo)/yw), bins)
		counts[xi][yi]++
	}
	return histogram2DState{counts: counts, xlo: xlo, xhi: xhi, ylo: ylo, yhi: yhi, bins: bins}, nil
}

func clampBin(idx, bins int) int {
	if idx >= bins {
		return bins - 1
	}
	if idx < 0 {
		return 0
	}
	return idx
}

func (h *histogram2DAgg) Reducer(a, b State) (State, error) {
	as, bs := a.(histogram2DState), b.(histogram2DState)
	merged := make([][]int64, len(as.counts))
	for i := range merged {
		merged[i] = make([]int64, len(as.counts[i]))
		for j := range merged[i] {
			merged[i][j] = as.counts[i][j] + bs.counts[i][j]
		}
	}
	return histogram2DState{counts: merged, xlo: as.xlo, xhi: as.xhi, ylo: as.ylo, yhi: as.yhi, bins: as.bins}, nil
}

func (h *histogram2DAgg) Finalizer(a State) (expr.Value, error) {
	s := a.(histogram2DState)
	return Histogram2DResult{Counts: s.counts, XLo: s.xlo, XHi: s.xhi, YLo: s.ylo, YHi: s.yhi}, nil
}

// Histogram2DResult is the SQL-visible result of HISTOGRAM2D(x, y, ...).
type Histogram2DResult struct {
	Counts             [][]int64
	XLo, XHi, YLo, YHi float64
}
