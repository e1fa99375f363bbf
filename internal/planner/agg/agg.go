// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Aggregate planner (C5): the AggCall contract and fixed registry.
// Grounded on original_source/quickdb/sql2mapreduce/agg.py's AggCall
// abstract base and agg_functions/*.py, generalized from numpy
// reductions to shardstore.Vector reductions.

package agg

import (
	"quickdb/internal/evalctx"
	"quickdb/internal/expr"
	"quickdb/internal/qerrors"
)

// State is whatever an AggCall's mapper/reducer carry between a shard
// (or group-slice) and the next reduce step; opaque to the planner.
type State any

// AggCall is one aggregate function instance bound to its arguments.
// init/mapper/reducer/finalizer is spec §3's Aggregate call node; Go
// has no per-group init() hook because the map pass's "no rows"
// shortcut (agg.py's `if context.size > 0`) already covers it — a
// group with zero rows after WHERE simply contributes no entry.
type AggCall interface {
	// Mapper computes this call's partial state over ctx, which is
	// already sliced to exactly one group (or the whole shard, when
	// there is no GROUP BY).
	Mapper(ctx *evalctx.Context) (State, error)
	// Reducer merges two partial states from disjoint row sets.
	Reducer(a, b State) (State, error)
	// Finalizer converts a fully-reduced state into the result value
	// exposed to target-list evaluation.
	Finalizer(a State) (expr.Value, error)
	// SubAggregates lists aggregates this call depends on (e.g.
	// HISTOGRAM's implicit MINMAX when no explicit range is given).
	// Must be acyclic (spec §3 Aggregate call invariant).
	SubAggregates() []AggCall
}

// Mergeable is implemented by AggCall types whose finalized value can
// be safely re-combined after the fact, using the same monoid their
// Reducer already applies to raw state. COUNT, SUM, MIN, MAX, MINMAX
// and PickOne implement it; HISTOGRAM/HISTOGRAM2D/CROSSMATCH, whose
// finalizer commits to a fixed summary (bin edges, matched indices)
// that a second reduce pass cannot undo, and SLEEP do not. C6/C9 use
// this to merge two chunks' or workers' already-
// finalized group rows without having to ship pre-finalize state over
// the wire for the common aggregates.
type Mergeable interface {
	MergeFinal(a, b expr.Value) (expr.Value, error)
}

// Constructor builds an AggCall from a FuncCall's compiled arguments.
type Constructor func(positional []expr.Expression, named map[string]expr.Expression, star bool) (AggCall, error)

// Registry is the fixed, per-release set of aggregate functions (spec
// §4.5's "Required aggregates"). There is no user-defined aggregate
// support — the dynamic make_env of the original source is replaced by
// this static table (spec §9 design note).
var Registry = map[string]Constructor{
	"count":       newCount,
	"sum":         newSum,
	"min":         newMin,
	"max":         newMax,
	"minmax":      newMinMax,
	"histogram":   newHistogram,
	"histogram2d": newHistogram2D,
	"crossmatch":  newCrossMatch,
	"sleep":       newSleep,
}

func argError(name, msg string) error {
	return qerrors.NewSQL(name, msg)
}
