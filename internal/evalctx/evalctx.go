// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Evaluation context (C3): binds an Expression tree to a shard, shared
// values, and (during aggregate finalization) previously computed
// aggregate results. Grounded on
// sql2mapreduce/numpy_context.py's NumpyContext, generalized from
// numpy elementwise ops to shardstore.Vector elementwise ops.

package evalctx

import (
	"fmt"
	"math"

	"quickdb/internal/expr"
	"quickdb/internal/qerrors"
	"quickdb/internal/shardstore"
	"quickdb/internal/sharedvalue"
)

// AggregateResults maps the exact *expr.FuncCall node (or, for a
// PickOne-wrapped target, the exact top-level target expression node)
// that the aggregate planner recognized to its per-group-key value.
// Expression nodes are pointer-backed, so the Expression interface
// value itself is a stable, comparable identity — no separate id
// scheme is needed.
type AggregateResults map[expr.Expression]map[string]expr.Value

// Context implements expr.Context over one shard (or none, in the
// finalize phase).
type Context struct {
	Shard      shardstore.Shard
	Shared     sharedvalue.Map
	Aggregates AggregateResults
	// GroupKey is the encoded key of the group currently being
	// finalized; empty in the map phase.
	GroupKey string
	finalize bool
}

// New builds a map-phase context bound to shard.
func New(shard shardstore.Shard, shared sharedvalue.Map) *Context {
	return &Context{Shard: shard, Shared: shared}
}

// NewFinalize builds a context for evaluating a target-list expression
// against one group's completed aggregate results. Column references
// fail in this phase (spec §4.3).
func NewFinalize(shared sharedvalue.Map, aggregates AggregateResults, groupKey string) *Context {
	return &Context{Shared: shared, Aggregates: aggregates, GroupKey: groupKey, finalize: true}
}

func (c *Context) EvalColumnRef(path []string) (expr.Value, error) {
	if c.finalize {
		return nil, qerrors.NewUser(fmt.Sprintf("column reference %v is not valid outside row context", path), nil)
	}
	v, err := c.Shard.Column(path)
	if err != nil {
		if cnf, ok := err.(*shardstore.ColumnNotFoundError); ok {
			return nil, cnf.AsUserError()
		}
		return nil, err
	}
	return v, nil
}

func (c *Context) EvalSharedRef(name string) (expr.Value, error) {
	v, ok := c.Shared[name]
	if !ok {
		return nil, qerrors.NewUser(fmt.Sprintf("no such shared value: %s", name), nil)
	}
	return v, nil
}

func (c *Context) EvalConst(v expr.Value) (expr.Value, error) {
	return v, nil
}

func (c *Context) EvalUnaryOp(op string, arg expr.Value) (expr.Value, error) {
	switch op {
	case "+":
		return arg, nil
	case "-":
		return negate(arg)
	default:
		return nil, qerrors.NewSQL(op, "unknown unary operator")
	}
}

func (c *Context) EvalBinaryOp(op string, a, b expr.Value) (expr.Value, error) {
	fn, ok := binaryOps[op]
	if !ok {
		return nil, qerrors.NewSQL(op, "unknown binary operator")
	}
	return fn(a, b)
}

func (c *Context) EvalBetween(a, b, v expr.Value, negate bool) (expr.Value, error) {
	ge, err := c.EvalBinaryOp(">=", a, b)
	if err != nil {
		return nil, err
	}
	le, err := c.EvalBinaryOp("<=", a, v)
	if err != nil {
		return nil, err
	}
	between, err := c.EvalBoolOp("AND", []expr.Value{ge, le})
	if err != nil {
		return nil, err
	}
	if !negate {
		return between, nil
	}
	return c.EvalBoolOp("NOT", []expr.Value{between})
}

func (c *Context) EvalBoolOp(kind string, args []expr.Value) (expr.Value, error) {
	switch kind {
	case "AND":
		acc := args[0]
		var err error
		for _, a := range args[1:] {
			acc, err = elementwiseLogical(acc, a, func(x, y bool) bool { return x && y })
			if err != nil {
				return nil, err
			}
		}
		return acc, nil
	case "OR":
		acc := args[0]
		var err error
		for _, a := range args[1:] {
			acc, err = elementwiseLogical(acc, a, func(x, y bool) bool { return x || y })
			if err != nil {
				return nil, err
			}
		}
		return acc, nil
	case "NOT":
		return logicalNot(args[0])
	default:
		return nil, qerrors.NewSQL(kind, "unknown boolean operator")
	}
}

func (c *Context) EvalFuncCall(fc *expr.FuncCall, positional []expr.Value, named map[string]expr.Value) (expr.Value, error) {
	if fc.AggStar {
		return nil, qerrors.NewSQL(fc.Name, `"*" is not allowed here`)
	}
	if c.Aggregates != nil {
		if results, ok := c.Aggregates[expr.Expression(fc)]; ok {
			v, ok := results[c.GroupKey]
			if !ok {
				return nil, qerrors.NewSystem("planner", fmt.Errorf("no aggregate result for group %q", c.GroupKey))
			}
			return v, nil
		}
	}
	fn, ok := ScalarFunctions[fc.Name]
	if !ok {
		return nil, qerrors.NewSQL(fc.Name, "no such function")
	}
	return fn(positional, named)
}

func (c *Context) EvalRow(args []expr.Value) (expr.Value, error) {
	return expr.Row{Args: args}, nil
}

func (c *Context) EvalIndirection(arg expr.Value, index int) (expr.Value, error) {
	v, ok := arg.(shardstore.Vector)
	if !ok {
		return nil, qerrors.NewSQL(fmt.Sprintf("[%d]", index), "indirection requires a 2-D vector argument")
	}
	// shardstore.Vector has no 2-D form, so there is no outer axis to
	// project along: every indirection, whatever its argument or index,
	// fails with a SqlError.
	_ = v
	return nil, qerrors.NewSQL(fmt.Sprintf("[%d]", index), "indirection is only supported on row-paired coordinate values")
}

// DirectResult reports the precomputed aggregate value for node, if
// node itself (not merely a FuncCall nested inside it) was recognized
// by the aggregate planner — the PickOne shortcut of spec §4.5: a
// plain ColumnRef target wrapped whole in a synthetic PickOne must be
// read back directly, since evaluating it as an expression would hit
// EvalColumnRef in the finalize phase and fail.
func (c *Context) DirectResult(node expr.Expression) (expr.Value, bool) {
	if c.Aggregates == nil {
		return nil, false
	}
	results, ok := c.Aggregates[node]
	if !ok {
		return nil, false
	}
	v, ok := results[c.GroupKey]
	return v, ok
}

// Slice returns a context over a restricted shard, sharing the same
// shared-value and aggregate state (sqlast.py's sliced_context).
func (c *Context) Slice(maskOrIndices any) (*Context, error) {
	sliced, err := c.Shard.Slice(maskOrIndices)
	if err != nil {
		return nil, err
	}
	return &Context{Shard: sliced, Shared: c.Shared, Aggregates: c.Aggregates, GroupKey: c.GroupKey, finalize: c.finalize}, nil
}

func negate(v expr.Value) (expr.Value, error) {
	switch vv := v.(type) {
	case float64:
		return -vv, nil
	case int64:
		return -vv, nil
	case shardstore.Vector:
		switch vv.Kind {
		case shardstore.KindFloat:
			out := make([]float64, len(vv.Floats))
			for i, x := range vv.Floats {
				out[i] = -x
			}
			return shardstore.Vector{Kind: shardstore.KindFloat, Floats: out}, nil
		case shardstore.KindInt:
			out := make([]int64, len(vv.Ints))
			for i, x := range vv.Ints {
				out[i] = -x
			}
			return shardstore.Vector{Kind: shardstore.KindInt, Ints: out}, nil
		}
	}
	return nil, qerrors.NewSQL("-", "cannot negate value")
}

func logicalNot(v expr.Value) (expr.Value, error) {
	switch vv := v.(type) {
	case bool:
		return !vv, nil
	case shardstore.Vector:
		if vv.Kind != shardstore.KindBool {
			return nil, qerrors.NewSQL("NOT", "expected a boolean vector")
		}
		out := make([]bool, len(vv.Bools))
		for i, b := range vv.Bools {
			out[i] = !b
		}
		return shardstore.Vector{Kind: shardstore.KindBool, Bools: out}, nil
	}
	return nil, qerrors.NewSQL("NOT", "cannot negate value")
}

func elementwiseLogical(a, b expr.Value, fn func(x, y bool) bool) (expr.Value, error) {
	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		return fn(ab, bb), nil
	}
	av, aok := a.(shardstore.Vector)
	bv, bok := b.(shardstore.Vector)
	if aok && bok && av.Kind == shardstore.KindBool && bv.Kind == shardstore.KindBool {
		n := len(av.Bools)
		out := make([]bool, n)
		for i := 0; i < n; i++ {
			out[i] = fn(av.Bools[i], bv.Bools[i])
		}
		return shardstore.Vector{Kind: shardstore.KindBool, Bools: out}, nil
	}
	return nil, qerrors.NewSQL("", "boolean operator requires boolean operands")
}

func asFloat(v expr.Value) (float64, bool) {
	switch vv := v.(type) {
	case float64:
		return vv, true
	case int64:
		return float64(vv), true
	case int:
		return float64(vv), true
	}
	return 0, false
}

func vecOf(v expr.Value) (shardstore.Vector, bool) {
	vv, ok := v.(shardstore.Vector)
	return vv, ok
}

func floatSlice(v shardstore.Vector) []float64 {
	if v.Kind == shardstore.KindFloat {
		return v.Floats
	}
	out := make([]float64, len(v.Ints))
	for i, x := range v.Ints {
		out[i] = float64(x)
	}
	return out
}

// binaryOps implements every comparison/arithmetic operator
// elementwise, matching numpy_context.py's operator table.
var binaryOps = map[string]func(a, b expr.Value) (expr.Value, error){
	"=":  func(a, b expr.Value) (expr.Value, error) { return cmp(a, b, func(x, y float64) bool { return x == y }) },
	"<>": func(a, b expr.Value) (expr.Value, error) { return cmp(a, b, func(x, y float64) bool { return x != y }) },
	"<":  func(a, b expr.Value) (expr.Value, error) { return cmp(a, b, func(x, y float64) bool { return x < y }) },
	">":  func(a, b expr.Value) (expr.Value, error) { return cmp(a, b, func(x, y float64) bool { return x > y }) },
	"<=": func(a, b expr.Value) (expr.Value, error) { return cmp(a, b, func(x, y float64) bool { return x <= y }) },
	">=": func(a, b expr.Value) (expr.Value, error) { return cmp(a, b, func(x, y float64) bool { return x >= y }) },
	"+":  func(a, b expr.Value) (expr.Value, error) { return arith(a, b, func(x, y float64) float64 { return x + y }) },
	"-":  func(a, b expr.Value) (expr.Value, error) { return arith(a, b, func(x, y float64) float64 { return x - y }) },
	"*":  func(a, b expr.Value) (expr.Value, error) { return arith(a, b, func(x, y float64) float64 { return x * y }) },
	"/":  func(a, b expr.Value) (expr.Value, error) { return arith(a, b, func(x, y float64) float64 { return x / y }) },
	"%":  func(a, b expr.Value) (expr.Value, error) { return arith(a, b, math.Mod) },
	"//": func(a, b expr.Value) (expr.Value, error) { return arith(a, b, func(x, y float64) float64 { return math.Floor(x / y) }) },
}

func cmp(a, b expr.Value, fn func(x, y float64) bool) (expr.Value, error) {
	af, aIsScalar := asFloat(a)
	bf, bIsScalar := asFloat(b)
	if aIsScalar && bIsScalar {
		return fn(af, bf), nil
	}
	av, aIsVec := vecOf(a)
	bv, bIsVec := vecOf(b)
	switch {
	case aIsVec && bIsScalar:
		fa := floatSlice(av)
		out := make([]bool, len(fa))
		for i, x := range fa {
			out[i] = fn(x, bf)
		}
		return shardstore.Vector{Kind: shardstore.KindBool, Bools: out}, nil
	case aIsScalar && bIsVec:
		fb := floatSlice(bv)
		out := make([]bool, len(fb))
		for i, y := range fb {
			out[i] = fn(af, y)
		}
		return shardstore.Vector{Kind: shardstore.KindBool, Bools: out}, nil
	case aIsVec && bIsVec:
		fa, fb := floatSlice(av), floatSlice(bv)
		out := make([]bool, len(fa))
		for i := range fa {
			out[i] = fn(fa[i], fb[i])
		}
		return shardstore.Vector{Kind: shardstore.KindBool, Bools: out}, nil
	default:
		return nil, qerrors.NewSQL("", "unsupported operand types for comparison")
	}
}

func arith(a, b expr.Value, fn func(x, y float64) float64) (expr.Value, error) {
	af, aIsScalar := asFloat(a)
	bf, bIsScalar := asFloat(b)
	if aIsScalar && bIsScalar {
		return fn(af, bf), nil
	}
	av, aIsVec := vecOf(a)
	bv, bIsVec := vecOf(b)
	switch {
	case aIsVec && bIsScalar:
		fa := floatSlice(av)
		out := make([]float64, len(fa))
		for i, x := range fa {
			out[i] = fn(x, bf)
		}
		return shardstore.Vector{Kind: shardstore.KindFloat, Floats: out}, nil
	case aIsScalar && bIsVec:
		fb := floatSlice(bv)
		out := make([]float64, len(fb))
		for i, y := range fb {
			out[i] = fn(af, y)
		}
		return shardstore.Vector{Kind: shardstore.KindFloat, Floats: out}, nil
	case aIsVec && bIsVec:
		fa, fb := floatSlice(av), floatSlice(bv)
		out := make([]float64, len(fa))
		for i := range fa {
			out[i] = fn(fa[i], fb[i])
		}
		return shardstore.Vector{Kind: shardstore.KindFloat, Floats: out}, nil
	default:
		return nil, qerrors.NewSQL("", "unsupported operand types for arithmetic")
	}
}
