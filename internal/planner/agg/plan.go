// Aggregate execution driver (C5), grounded on agg.py's pick_aggs /
// walk_subaggrs and sqlast.py's multi_column_unique group-key scheme,
// generalized from a single in-process pass to an explicit multi-pass
// schedule a worker fleet can run shard-by-shard.
//
// Unlike agg.py's pick_aggs (which appends a parent before its
// sub-aggregates even though e.g. HistogramAggCall.mapper reads its
// MinMax sub-aggregate's already-finalized result), this planner
// schedules every sub-aggregate strictly before the call that depends
// on it — spec §4.5 requires aggregates to run "in dependency order",
// and the parent-first list order does not actually produce that.

package agg

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"

	"quickdb/internal/evalctx"
	"quickdb/internal/expr"
	"quickdb/internal/qerrors"
	"quickdb/internal/query"
	"quickdb/internal/shardstore"
	"quickdb/internal/sharedvalue"
)

// Result is one aggregate query's complete output: one row per
// distinct GROUP BY key (or a single row when there is none).
// GroupKeys[i] is the internal encoded group key behind Rows[i], same
// order, used by Plan.Merge to match up rows from two separate Results
// (e.g. one per worker) that belong to the same GROUP BY bucket.
type Result struct {
	Names     []string
	Rows      [][]expr.Value
	GroupKeys []string
}

// Plan is a compiled aggregate query, reusable across many Run calls
// (e.g. repeated against different shard lists for the same SQL text).
type Plan struct {
	sel   *query.Select
	units []*execUnit
	// targetUnit[i] is the AggCall directly backing target i when that
	// target-list expression is nothing but one aggregate call (the
	// common `SELECT COUNT(*), SUM(x) FROM t GROUP BY g` shape) — nil
	// for anything else (a PickOne target, or an aggregate wrapped in a
	// further expression), which Merge treats as not safely mergeable.
	targetUnit []AggCall
}

type wireTarget struct {
	parent dependentAggCall
	index  int
}

type execUnit struct {
	call   AggCall
	node   expr.Expression // identity key into evalctx.AggregateResults; nil for a bare sub-aggregate
	wireTo []wireTarget
}

// Build compiles sel's aggregate execution schedule: every aggregate
// FuncCall in the target list (recursively including sub-aggregates,
// sub-aggregates ordered before their dependents), plus a synthetic
// PickOne wrapper for any target expression that is itself non-
// aggregate but still reads row data (e.g. a GROUP BY key echoed back
// as a target).
func Build(sel *query.Select) (*Plan, error) {
	if !sel.IsAggregate {
		return nil, qerrors.NewSystem("planner", fmt.Errorf("agg.Build called on a non-aggregate query: %s", sel.Raw))
	}
	p := &Plan{sel: sel, targetUnit: make([]AggCall, len(sel.TargetList))}

	var addUnit func(call AggCall, node expr.Expression)
	addUnit = func(call AggCall, node expr.Expression) {
		subs := call.SubAggregates()
		for i, sub := range subs {
			addUnit(sub, nil)
			if dep, ok := call.(dependentAggCall); ok {
				last := p.units[len(p.units)-1]
				last.wireTo = append(last.wireTo, wireTarget{parent: dep, index: i})
			}
		}
		p.units = append(p.units, &execUnit{call: call, node: node})
	}

	for ti, t := range sel.TargetList {
		nodes := collectAggregateNodes(t.Expr)
		for _, fc := range nodes {
			ctor, ok := Registry[fc.Name]
			if !ok {
				return nil, qerrors.NewSQL(fc.Name, "no such aggregate function")
			}
			call, err := ctor(fc.Positional, fc.Named, fc.AggStar)
			if err != nil {
				return nil, err
			}
			addUnit(call, fc)
			if len(nodes) == 1 && fc == t.Expr {
				p.targetUnit[ti] = call
			}
		}
		if len(nodes) == 0 {
			pick := newPickOne(t.Expr)
			addUnit(pick, t.Expr)
			p.targetUnit[ti] = pick
		}
	}

	for _, g := range sel.GroupBy {
		if len(collectAggregateNodes(g)) > 0 {
			return nil, qerrors.NewSQL(sel.Raw, "GROUP BY expressions must not contain aggregate calls")
		}
	}

	return p, nil
}

func collectAggregateNodes(e expr.Expression) []*expr.FuncCall {
	var found []*expr.FuncCall
	isAgg := func(n expr.Expression) bool {
		fc, ok := n.(*expr.FuncCall)
		return ok && query.IsAggregateName(fc.Name)
	}
	expr.Walk(e, func(n expr.Expression) {
		if isAgg(n) {
			found = append(found, n.(*expr.FuncCall))
		}
	}, isAgg)
	return found
}

// Run executes the plan across shards, producing one row per distinct
// GROUP BY key (or one row total, when the query has no GROUP BY).
func (p *Plan) Run(shards []shardstore.Shard, shared sharedvalue.Map) (*Result, error) {
	groups, err := p.partitionShards(shards, shared)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	aggregates := evalctx.AggregateResults{}
	for _, unit := range p.units {
		finalized := make(map[string]expr.Value, len(keys))
		for _, key := range keys {
			subShards := groups[key]
			if len(subShards) == 0 {
				continue
			}
			var state State
			for i, sub := range subShards {
				ctx := evalctx.New(sub, shared)
				ctx.Aggregates = aggregates
				ctx.GroupKey = key
				s, err := unit.call.Mapper(ctx)
				if err != nil {
					return nil, err
				}
				if i == 0 {
					state = s
					continue
				}
				state, err = unit.call.Reducer(state, s)
				if err != nil {
					return nil, err
				}
			}
			val, err := unit.call.Finalizer(state)
			if err != nil {
				return nil, err
			}
			finalized[key] = val
		}
		if unit.node != nil {
			aggregates[unit.node] = finalized
		}
		for _, wt := range unit.wireTo {
			wt.parent.WireSubAggregateResult(wt.index, finalized)
		}
	}

	names := make([]string, len(p.sel.TargetList))
	rows := make([][]expr.Value, 0, len(keys))
	for i, t := range p.sel.TargetList {
		names[i] = t.Name
	}
	for _, key := range keys {
		ctx := evalctx.NewFinalize(shared, aggregates, key)
		row := make([]expr.Value, len(p.sel.TargetList))
		for i, t := range p.sel.TargetList {
			if v, ok := ctx.DirectResult(t.Expr); ok {
				row[i] = v
				continue
			}
			v, err := t.Expr.Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return &Result{Names: names, Rows: rows, GroupKeys: keys}, nil
}

// Merge combines two Results produced by separate Run calls against
// this same Plan (disjoint shard sets — typically one per worker),
// matching rows by GroupKeys. A key present in only one side passes
// through unchanged; a key present in both is re-combined column by
// column via that column's backing AggCall's MergeFinal when it
// implements Mergeable, or by keeping a's value otherwise (the
// HISTOGRAM/HISTOGRAM2D/CROSSMATCH case — spec's open question on
// reducer commutativity applies here as a documented limitation for
// GROUP BY keys whose rows split across worker boundaries).
func (p *Plan) Merge(a, b *Result) (*Result, error) {
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}

	byKey := make(map[string][]expr.Value, len(a.Rows))
	order := make([]string, 0, len(a.Rows)+len(b.Rows))
	for i, key := range a.GroupKeys {
		byKey[key] = a.Rows[i]
		order = append(order, key)
	}
	for i, key := range b.GroupKeys {
		existing, ok := byKey[key]
		if !ok {
			byKey[key] = b.Rows[i]
			order = append(order, key)
			continue
		}
		merged := make([]expr.Value, len(existing))
		for ci := range merged {
			mc, ok := p.targetUnit[ci].(Mergeable)
			if !ok {
				merged[ci] = existing[ci]
				continue
			}
			v, err := mc.MergeFinal(existing[ci], b.Rows[i][ci])
			if err != nil {
				return nil, err
			}
			merged[ci] = v
		}
		byKey[key] = merged
	}

	rows := make([][]expr.Value, len(order))
	for i, key := range order {
		rows[i] = byKey[key]
	}
	return &Result{Names: a.Names, Rows: rows, GroupKeys: order}, nil
}

// partitionShards applies WHERE, then splits each filtered shard into
// one sub-shard per distinct GROUP BY key, grouping same-key
// sub-shards from different origin shards under one bucket.
func (p *Plan) partitionShards(shards []shardstore.Shard, shared sharedvalue.Map) (map[string][]shardstore.Shard, error) {
	groups := make(map[string][]shardstore.Shard)
	for _, shard := range shards {
		filtered := shard
		if p.sel.Where != nil {
			ctx := evalctx.New(shard, shared)
			wv, err := p.sel.Where.Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			mask, ok := wv.(shardstore.Vector)
			if !ok || mask.Kind != shardstore.KindBool {
				return nil, qerrors.NewSQL(p.sel.Raw, "WHERE must evaluate to a boolean column")
			}
			filtered, err = shard.Slice(mask.Bools)
			if err != nil {
				return nil, err
			}
		}

		byKey, err := partitionByGroup(filtered, p.sel.GroupBy, shared)
		if err != nil {
			return nil, err
		}
		for key, idx := range byKey {
			sub, err := filtered.Slice(idx)
			if err != nil {
				return nil, err
			}
			groups[key] = append(groups[key], sub)
		}
	}
	return groups, nil
}

func partitionByGroup(shard shardstore.Shard, groupBy []expr.Expression, shared sharedvalue.Map) (map[string][]int, error) {
	n := shard.Size()
	if len(groupBy) == 0 {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return map[string][]int{"": idx}, nil
	}

	ctx := evalctx.New(shard, shared)
	cols := make([]shardstore.Vector, len(groupBy))
	for i, g := range groupBy {
		v, err := g.Evaluate(ctx)
		if err != nil {
			return nil, err
		}
		vec, ok := v.(shardstore.Vector)
		if !ok {
			return nil, qerrors.NewSQL("", "GROUP BY expression must evaluate to a column vector")
		}
		cols[i] = vec
	}

	groups := map[string][]int{}
	for row := 0; row < n; row++ {
		parts := make([]string, len(cols))
		for i, vec := range cols {
			parts[i] = encodeGroupScalar(vec, row)
		}
		key := strings.Join(parts, "\x1f")
		groups[key] = append(groups[key], row)
	}
	return groups, nil
}

func encodeGroupScalar(vec shardstore.Vector, row int) string {
	switch vec.Kind {
	case shardstore.KindFloat:
		return strconv.FormatFloat(vec.Floats[row], 'g', -1, 64)
	case shardstore.KindInt:
		return strconv.FormatInt(vec.Ints[row], 10)
	case shardstore.KindBool:
		return strconv.FormatBool(vec.Bools[row])
	case shardstore.KindString:
		return vec.Strings[row]
	default:
		return ""
	}
}

