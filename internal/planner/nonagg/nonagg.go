// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Non-aggregate planner (C4): compiles a non-aggregate Select into
// mapper/reducer/finalizer closures over WHERE/ORDER BY/LIMIT.
// Grounded on original_source/quickdb/sql2mapreduce/nonagg.py's
// nonagg_env, generalized from numpy arrays to shardstore.Vector.

package nonagg

import (
	"fmt"

	"golang.org/x/exp/slices"

	"quickdb/internal/evalctx"
	"quickdb/internal/expr"
	"quickdb/internal/qerrors"
	"quickdb/internal/query"
	"quickdb/internal/shardstore"
	"quickdb/internal/sharedvalue"
)

// MapperResult is one shard's (or merged shards') contribution: the
// projected target-list columns, plus sort keys when ORDER BY is
// present (nil otherwise — the reducer takes a cheaper concat+truncate
// path in that case).
type MapperResult struct {
	Targets   []expr.Value
	SortKeys  []expr.Value
	HasSort   bool
}

// Plan is the compiled closure set for one non-aggregate query.
type Plan struct {
	Rerun      string
	Names      []string
	LimitCount int
	Streaming  bool

	Mapper    func(shard shardstore.Shard) (*MapperResult, error)
	Reducer   func(a, b *MapperResult) (*MapperResult, error)
	Finalizer func(acc *MapperResult) ([]expr.Value, error)
}

// Build validates sel against the non-aggregate contract (spec §4.4)
// and returns its compiled plan. streaming disables ORDER BY, since a
// streamed result cannot be globally re-sorted after the fact.
func Build(sel *query.Select, shared sharedvalue.Map, streaming bool) (*Plan, error) {
	if sel.IsAggregate {
		return nil, qerrors.NewSQL(sel.Raw, "non-aggregate planner invoked on an aggregate query")
	}
	if !streaming {
		if sel.LimitCount == nil {
			return nil, qerrors.NewSQL(sel.Raw, "LIMIT must be specified")
		}
	} else if len(sel.OrderBy) > 0 {
		return nil, qerrors.NewSQL(sel.Raw, "ORDER BY is not supported in streaming mode")
	}

	names := make([]string, len(sel.TargetList))
	for i, t := range sel.TargetList {
		names[i] = t.Name
	}

	limit := -1
	if sel.LimitCount != nil {
		limit = *sel.LimitCount
	}

	p := &Plan{Rerun: sel.From, Names: names, Streaming: streaming}
	if limit >= 0 {
		p.LimitCount = limit
	}

	p.Mapper = func(shard shardstore.Shard) (*MapperResult, error) {
		return mapShard(sel, shared, shard, limit)
	}
	p.Reducer = func(a, b *MapperResult) (*MapperResult, error) {
		return reduce(sel, a, b, limit)
	}
	p.Finalizer = func(acc *MapperResult) ([]expr.Value, error) {
		return acc.Targets, nil
	}
	return p, nil
}

func mapShard(sel *query.Select, shared sharedvalue.Map, shard shardstore.Shard, limit int) (*MapperResult, error) {
	ctx := evalctx.New(shard, shared)

	if sel.Where != nil {
		whereVal, err := sel.Where.Evaluate(ctx)
		if err != nil {
			return nil, err
		}
		mask, ok := whereVal.(shardstore.Vector)
		if !ok || mask.Kind != shardstore.KindBool {
			return nil, qerrors.NewSQL(sel.Raw, "WHERE must evaluate to a boolean vector")
		}
		indices, err := shardstore.ResolveIndices(mask.Bools, mask.Len())
		if err != nil {
			return nil, err
		}
		if limit >= 0 && len(indices) > limit {
			indices = indices[:limit]
		}
		next, err := ctx.Slice(indices)
		if err != nil {
			return nil, err
		}
		ctx = next
	}

	res := &MapperResult{}

	if len(sel.OrderBy) > 0 {
		keys := make([]shardstore.Vector, len(sel.OrderBy))
		for i, ob := range sel.OrderBy {
			v, err := ob.Expr.Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			vec, ok := v.(shardstore.Vector)
			if !ok {
				return nil, qerrors.NewSQL(sel.Raw, "ORDER BY expression must evaluate to a vector")
			}
			if ob.Desc {
				vec = negateVector(vec)
			}
			keys[i] = vec
		}
		size := keys[0].Len()
		order := sortIndices(keys, size)
		if limit >= 0 && len(order) > limit {
			order = order[:limit]
		}
		sliced, err := ctx.Slice(order)
		if err != nil {
			return nil, err
		}
		ctx = sliced
		res.HasSort = true
		res.SortKeys = make([]expr.Value, len(keys))
		for i, k := range keys {
			res.SortKeys[i] = shardstore.Gather(k, order)
		}
	}

	targets := make([]expr.Value, len(sel.TargetList))
	for i, t := range sel.TargetList {
		v, err := t.Expr.Evaluate(ctx)
		if err != nil {
			return nil, err
		}
		targets[i] = v
	}
	res.Targets = targets
	return res, nil
}

func reduce(sel *query.Select, a, b *MapperResult, limit int) (*MapperResult, error) {
	if !a.HasSort {
		targets := make([]expr.Value, len(a.Targets))
		for i := range targets {
			merged, err := concatTruncate(a.Targets[i], b.Targets[i], limit)
			if err != nil {
				return nil, err
			}
			targets[i] = merged
		}
		return &MapperResult{Targets: targets}, nil
	}

	keys := make([]shardstore.Vector, len(a.SortKeys))
	for i := range keys {
		av := a.SortKeys[i].(shardstore.Vector)
		bv := b.SortKeys[i].(shardstore.Vector)
		keys[i] = shardstore.Concat(av, bv)
	}
	size := keys[0].Len()
	order := sortIndices(keys, size)
	if limit >= 0 && len(order) > limit {
		order = order[:limit]
	}

	targets := make([]expr.Value, len(a.Targets))
	for i := range targets {
		av := a.Targets[i].(shardstore.Vector)
		bv := b.Targets[i].(shardstore.Vector)
		concatenated := shardstore.Concat(av, bv)
		targets[i] = shardstore.Gather(concatenated, order)
	}
	sortKeys := make([]expr.Value, len(keys))
	for i, k := range keys {
		sortKeys[i] = shardstore.Gather(k, order)
	}
	return &MapperResult{Targets: targets, SortKeys: sortKeys, HasSort: true}, nil
}

func concatTruncate(a, b expr.Value, limit int) (expr.Value, error) {
	av, aok := a.(shardstore.Vector)
	bv, bok := b.(shardstore.Vector)
	if !aok || !bok {
		return nil, qerrors.NewSystem("planner", fmt.Errorf("expected vector target values, got %T and %T", a, b))
	}
	merged := shardstore.Concat(av, bv)
	if limit >= 0 && merged.Len() > limit {
		idx := make([]int, limit)
		for i := range idx {
			idx[i] = i
		}
		merged = shardstore.Gather(merged, idx)
	}
	return merged, nil
}

func negateVector(v shardstore.Vector) shardstore.Vector {
	switch v.Kind {
	case shardstore.KindFloat:
		out := make([]float64, len(v.Floats))
		for i, x := range v.Floats {
			out[i] = -x
		}
		return shardstore.Vector{Kind: shardstore.KindFloat, Floats: out}
	case shardstore.KindInt:
		out := make([]int64, len(v.Ints))
		for i, x := range v.Ints {
			out[i] = -x
		}
		return shardstore.Vector{Kind: shardstore.KindInt, Ints: out}
	default:
		return v
	}
}

// sortIndices returns the permutation that orders rows ascending by
// keys[0] (primary), breaking ties by keys[1], then keys[2], ... —
// outermost ORDER BY column is keys[0] (the "primary"/first-listed
// column), matching numpy.lexsort(sort_values[::-1])'s effective
// priority once the reversal in nonagg.py is accounted for.
func sortIndices(keys []shardstore.Vector, size int) []int {
	order := make([]int, size)
	for i := range order {
		order[i] = i
	}
	floatKeys := make([][]float64, len(keys))
	for i, k := range keys {
		floatKeys[i] = toFloats(k)
	}
	// SortStableFunc over the full permutation: ties fall through every
	// key column and, by stability, pin to shard-arrival order (spec §9
	// open question (b): ORDER BY ties are pinned to arrival order
	// rather than left unspecified).
	slices.SortStableFunc(order, func(a, b int) bool {
		for _, fk := range floatKeys {
			if fk[a] != fk[b] {
				return fk[a] < fk[b]
			}
		}
		return false
	})
	return order
}

func toFloats(v shardstore.Vector) []float64 {
	switch v.Kind {
	case shardstore.KindFloat:
		return v.Floats
	case shardstore.KindInt:
		out := make([]float64, len(v.Ints))
		for i, x := range v.Ints {
			out[i] = float64(x)
		}
		return out
	default:
		out := make([]float64, v.Len())
		return out
	}
}
