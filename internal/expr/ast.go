// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Expression AST (C1): a tagged tree over the vectorized column algebra.
// Evaluation is double-dispatch: each variant calls the matching hook on
// a Context. Grounded on
// sql2mapreduce/sqlast/sqlast.py's Expression/Context class hierarchy,
// generalized from pglast's raw-tree shape to the dolthub/vitess
// sqlparser AST consumed by Compile (see compile.go).

package expr

import "fmt"

// Value is whatever an Expression evaluates to under a Context: most
// commonly a shardstore.Vector, but also a bare scalar (float64, int64,
// string, bool) for Const nodes and intermediate arithmetic, or a Row.
type Value any

// Row is the runtime value of a Row(...) expression: an ordered list of
// element values, preserving argument order (spec §3 Expression).
type Row struct {
	Args []Value
}

// Context is the visitor binding an Expression tree to a shard, shared
// values, and — during aggregate finalization — pre-computed aggregate
// results. One method per Expression variant, matching the
// evaluate_<Variant> naming from sqlast.py's single-dispatch Context.
type Context interface {
	EvalColumnRef(path []string) (Value, error)
	EvalSharedRef(name string) (Value, error)
	EvalConst(v Value) (Value, error)
	EvalUnaryOp(op string, arg Value) (Value, error)
	EvalBinaryOp(op string, a, b Value) (Value, error)
	EvalBetween(a, b, c Value, negate bool) (Value, error)
	EvalBoolOp(kind string, args []Value) (Value, error)
	EvalFuncCall(fc *FuncCall, positional []Value, named map[string]Value) (Value, error)
	EvalRow(args []Value) (Value, error)
	EvalIndirection(arg Value, index int) (Value, error)
}

// Expression is a node in the compiled AST. Location is the byte offset
// in the source SQL the node was parsed from, used for SqlError
// messages; -1 if unknown.
type Expression interface {
	Evaluate(ctx Context) (Value, error)
	Children() []Expression
	Location() int
}

// Walk visits the tree post-order (children first), invoking cb at each
// node. If breakIf is non-nil and returns true for a node, that node's
// children are NOT descended into — cb still runs for the node itself.
// This is how the aggregate planner finds top-level aggregate FuncCalls
// without walking into their arguments (spec §4.1/§4.5).
func Walk(e Expression, cb func(Expression), breakIf func(Expression) bool) {
	if breakIf == nil || !breakIf(e) {
		for _, c := range e.Children() {
			Walk(c, cb, breakIf)
		}
	}
	cb(e)
}

type baseExpr struct {
	loc int
}

func (b baseExpr) Location() int { return b.loc }

// Const is a literal value folded at compile time (numeric, string,
// bool literals, and the recognized pure constants pi/e/degree/arcmin/
// arcsec).
type Const struct {
	baseExpr
	Val Value
}

func (c *Const) Evaluate(ctx Context) (Value, error) { return ctx.EvalConst(c.Val) }
func (c *Const) Children() []Expression              { return nil }

// ColumnRef is a 1-3 part dotted column path, e.g. forced.i.psfflux_flux.
type ColumnRef struct {
	baseExpr
	Path []string
}

func (c *ColumnRef) Evaluate(ctx Context) (Value, error) { return ctx.EvalColumnRef(c.Path) }
func (c *ColumnRef) Children() []Expression              { return nil }

// SharedRef reads a client-provided parameter: a ColumnRef whose first
// part was `shared` is rewritten to this variant at parse time.
type SharedRef struct {
	baseExpr
	Name string
}

func (s *SharedRef) Evaluate(ctx Context) (Value, error) { return ctx.EvalSharedRef(s.Name) }
func (s *SharedRef) Children() []Expression              { return nil }

// UnaryOp is a prefix operator (currently just unary minus / NOT handled
// via BoolOp).
type UnaryOp struct {
	baseExpr
	Op  string
	Arg Expression
}

func (u *UnaryOp) Evaluate(ctx Context) (Value, error) {
	v, err := u.Arg.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	return ctx.EvalUnaryOp(u.Op, v)
}
func (u *UnaryOp) Children() []Expression { return []Expression{u.Arg} }

// BinaryOp covers comparison and arithmetic operators (spec §4.3).
type BinaryOp struct {
	baseExpr
	Op   string
	A, B Expression
}

func (b *BinaryOp) Evaluate(ctx Context) (Value, error) {
	av, err := b.A.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	bv, err := b.B.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	return ctx.EvalBinaryOp(b.Op, av, bv)
}
func (b *BinaryOp) Children() []Expression { return []Expression{b.A, b.B} }

// Between implements `a BETWEEN b AND c` (negate=false, b<=a<=c) and
// `a NOT BETWEEN b AND c` (negate=true, a<b OR a>c).
type Between struct {
	baseExpr
	A, B, C Expression
	Negate  bool
}

func (x *Between) Evaluate(ctx Context) (Value, error) {
	av, err := x.A.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	bv, err := x.B.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	cv, err := x.C.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	return ctx.EvalBetween(av, bv, cv, x.Negate)
}
func (x *Between) Children() []Expression { return []Expression{x.A, x.B, x.C} }

// BoolOp reduces AND/OR across any arity, or negates with NOT (unary).
type BoolOpKind string

const (
	BoolAnd BoolOpKind = "AND"
	BoolOr  BoolOpKind = "OR"
	BoolNot BoolOpKind = "NOT"
)

type BoolOp struct {
	baseExpr
	Kind BoolOpKind
	Args []Expression
}

func (b *BoolOp) Evaluate(ctx Context) (Value, error) {
	vals := make([]Value, len(b.Args))
	for i, a := range b.Args {
		v, err := a.Evaluate(ctx)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return ctx.EvalBoolOp(string(b.Kind), vals)
}
func (b *BoolOp) Children() []Expression { return b.Args }

// FuncCall is either a scalar function (dispatched to the scalar
// function table) or an aggregate function call (recognized and
// extracted by the aggregate planner). Named and positional arguments
// are disjoint (spec §3 invariant).
type FuncCall struct {
	baseExpr
	Name       string
	Positional []Expression
	Named      map[string]Expression
	AggStar    bool // true for COUNT(*)
}

func (f *FuncCall) Evaluate(ctx Context) (Value, error) {
	pos := make([]Value, len(f.Positional))
	for i, a := range f.Positional {
		v, err := a.Evaluate(ctx)
		if err != nil {
			return nil, err
		}
		pos[i] = v
	}
	named := make(map[string]Value, len(f.Named))
	for k, a := range f.Named {
		v, err := a.Evaluate(ctx)
		if err != nil {
			return nil, err
		}
		named[k] = v
	}
	return ctx.EvalFuncCall(f, pos, named)
}

func (f *FuncCall) Children() []Expression {
	out := make([]Expression, 0, len(f.Positional)+len(f.Named))
	out = append(out, f.Positional...)
	for _, a := range f.Named {
		out = append(out, a)
	}
	return out
}

// Row evaluates to a list of element values, preserving order. Invariant:
// len(Args) >= 1.
type RowExpr struct {
	baseExpr
	Args []Expression
}

func (r *RowExpr) Evaluate(ctx Context) (Value, error) {
	vals := make([]Value, len(r.Args))
	for i, a := range r.Args {
		v, err := a.Evaluate(ctx)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return ctx.EvalRow(vals)
}
func (r *RowExpr) Children() []Expression { return r.Args }

// Indirection projects a 2-D vector along its outer axis: x[i].
// Invariant: Index is an integer constant.
type Indirection struct {
	baseExpr
	Arg   Expression
	Index int
}

func (x *Indirection) Evaluate(ctx Context) (Value, error) {
	v, err := x.Arg.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	return ctx.EvalIndirection(v, x.Index)
}
func (x *Indirection) Children() []Expression { return []Expression{x.Arg} }

// String renders a compact debug form, useful for SqlError messages
// naming an offending construct.
func String(e Expression) string {
	switch n := e.(type) {
	case *Const:
		return fmt.Sprintf("%v", n.Val)
	case *ColumnRef:
		return fmt.Sprintf("%v", n.Path)
	case *SharedRef:
		return "shared." + n.Name
	case *FuncCall:
		return n.Name + "(...)"
	default:
		return fmt.Sprintf("%T", e)
	}
}
