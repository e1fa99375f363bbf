// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Compile translates a github.com/dolthub/vitess/go/vt/sqlparser raw
// expression tree into the typed Expression AST, the Go analog of
// sqlast.py's expression_classes registry + Expression.from_rawast.
// Grounded on saurabh22suman-canonica-labs/internal/sql/parser.go's use
// of sqlparser.Parse and its type-switch-over-statement style.

package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dolthub/vitess/go/vt/sqlparser"

	"quickdb/internal/qerrors"
)

// pureConstants are the recognized identifiers folded to Const at parse
// time (spec §3 Expression invariants): pi, e, and the radian-per-unit
// conversion factors used throughout astrometric SQL.
var pureConstants = map[string]float64{
	"pi":     math.Pi,
	"e":      math.E,
	"degree": math.Pi / 180,
	"arcmin": math.Pi / 180 / 60,
	"arcsec": math.Pi / 180 / 3600,
}

// Compile converts a parsed sqlparser.Expr into an Expression, rejecting
// constructs quickdb's restricted dialect does not support (spec §4.1,
// §1 Non-goals: no subqueries, no joins, no window functions).
func Compile(raw sqlparser.Expr) (Expression, error) {
	switch n := raw.(type) {
	case *sqlparser.ParenExpr:
		return Compile(n.Expr)

	case *sqlparser.SQLVal:
		return compileSQLVal(n)

	case *sqlparser.NullVal:
		return &Const{Val: nil}, nil

	case sqlparser.BoolVal:
		return &Const{Val: bool(n)}, nil

	case *sqlparser.ColName:
		return compileColName(n)

	case *sqlparser.UnaryExpr:
		arg, err := Compile(n.Expr)
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: n.Operator, Arg: arg}, nil

	case *sqlparser.BinaryExpr:
		a, err := Compile(n.Left)
		if err != nil {
			return nil, err
		}
		b, err := Compile(n.Right)
		if err != nil {
			return nil, err
		}
		return &BinaryOp{Op: n.Operator, A: a, B: b}, nil

	case *sqlparser.ComparisonExpr:
		a, err := Compile(n.Left)
		if err != nil {
			return nil, err
		}
		b, err := Compile(n.Right)
		if err != nil {
			return nil, err
		}
		return &BinaryOp{Op: n.Operator, A: a, B: b}, nil

	case *sqlparser.RangeCond:
		// RangeCond covers both BETWEEN and NOT BETWEEN. NOT BETWEEN is
		// explicitly rejected, matching A_Expr kind 12 in sqlast.py: the
		// user is told to rewrite it, since "NOT (a BETWEEN b AND c)"
		// composes from primitives this engine already has.
		if n.Operator == sqlparser.NotBetweenStr {
			return nil, qerrors.NewSQL("NOT BETWEEN", "rewrite as NOT (a BETWEEN b AND c)")
		}
		a, err := Compile(n.Left)
		if err != nil {
			return nil, err
		}
		from, err := Compile(n.From)
		if err != nil {
			return nil, err
		}
		to, err := Compile(n.To)
		if err != nil {
			return nil, err
		}
		return &Between{A: a, B: from, C: to, Negate: false}, nil

	case *sqlparser.AndExpr:
		left, err := Compile(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := Compile(n.Right)
		if err != nil {
			return nil, err
		}
		return flattenBool(BoolAnd, left, right), nil

	case *sqlparser.OrExpr:
		left, err := Compile(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := Compile(n.Right)
		if err != nil {
			return nil, err
		}
		return flattenBool(BoolOr, left, right), nil

	case *sqlparser.NotExpr:
		arg, err := Compile(n.Expr)
		if err != nil {
			return nil, err
		}
		return &BoolOp{Kind: BoolNot, Args: []Expression{arg}}, nil

	case *sqlparser.FuncExpr:
		return compileFuncExpr(n)

	case sqlparser.ValTuple:
		args := make([]Expression, len(n))
		for i, e := range n {
			c, err := Compile(e)
			if err != nil {
				return nil, err
			}
			args[i] = c
		}
		if len(args) == 0 {
			return nil, qerrors.NewSQL("()", "row expressions require at least one element")
		}
		return &RowExpr{Args: args}, nil

	default:
		return nil, qerrors.NewSQL(fmt.Sprintf("%T", raw), "unsupported expression construct")
	}
}

func compileSQLVal(n *sqlparser.SQLVal) (Expression, error) {
	switch n.Type {
	case sqlparser.IntVal:
		i, err := strconv.ParseInt(string(n.Val), 10, 64)
		if err != nil {
			return nil, qerrors.NewSQL(string(n.Val), "malformed integer literal")
		}
		return &Const{Val: i}, nil
	case sqlparser.FloatVal:
		f, err := strconv.ParseFloat(string(n.Val), 64)
		if err != nil {
			return nil, qerrors.NewSQL(string(n.Val), "malformed float literal")
		}
		return &Const{Val: f}, nil
	case sqlparser.StrVal:
		return &Const{Val: string(n.Val)}, nil
	default:
		return nil, qerrors.NewSQL(string(n.Val), "unsupported literal kind")
	}
}

// compileColName turns a dotted column reference into either a
// ColumnRef (1-3 parts) or a SharedRef (first part "shared"), matching
// sqlast.py's ColumnRef constructor and the shared-value design note in
// spec §9.
func compileColName(n *sqlparser.ColName) (Expression, error) {
	var parts []string
	if !n.Qualifier.Name.IsEmpty() {
		parts = append(parts, n.Qualifier.Name.String())
	}
	if !n.Qualifier.Qualifier.IsEmpty() {
		parts = append([]string{n.Qualifier.Qualifier.String()}, parts...)
	}
	parts = append(parts, n.Name.String())

	if parts[0] == "shared" {
		if len(parts) != 2 {
			return nil, qerrors.NewSQL(strings.Join(parts, "."), "shared references take exactly one name component")
		}
		return &SharedRef{Name: parts[1]}, nil
	}
	if len(parts) == 1 {
		if v, ok := pureConstants[parts[0]]; ok {
			return &Const{Val: v}, nil
		}
	}
	if len(parts) == 0 || len(parts) > 3 {
		return nil, qerrors.NewSQL(strings.Join(parts, "."), "column references must have 1 to 3 components")
	}
	return &ColumnRef{Path: parts}, nil
}

// compileFuncExpr builds a FuncCall, separating named (AS-tagged) from
// positional arguments the way sqlast.py's FuncCall splits
// NamedArgExpr from its positional siblings, and rejects duplicate
// names.
func compileFuncExpr(n *sqlparser.FuncExpr) (Expression, error) {
	name := n.Name.Lowered()

	if n.Distinct {
		return nil, qerrors.NewSQL(name, "DISTINCT is not supported in function arguments")
	}

	if len(n.Exprs) == 1 {
		if _, ok := n.Exprs[0].(*sqlparser.StarExpr); ok {
			if name != "count" {
				return nil, qerrors.NewSQL(name, "* is only permitted as the argument to count(*)")
			}
			return &FuncCall{Name: name, AggStar: true}, nil
		}
	}

	var positional []Expression
	named := map[string]Expression{}
	for _, se := range n.Exprs {
		ae, ok := se.(*sqlparser.AliasedExpr)
		if !ok {
			return nil, qerrors.NewSQL(name, "unsupported function argument form")
		}
		compiled, err := Compile(ae.Expr)
		if err != nil {
			return nil, err
		}
		if !ae.As.IsEmpty() {
			key := ae.As.Lowered()
			if _, dup := named[key]; dup {
				return nil, qerrors.NewSQL(name, fmt.Sprintf("duplicate named argument %q", key))
			}
			named[key] = compiled
		} else {
			positional = append(positional, compiled)
		}
	}
	return &FuncCall{Name: name, Positional: positional, Named: named}, nil
}

// flattenBool merges adjacent same-kind BoolOp nodes into one n-ary
// node, mirroring sqlast.py's BoolExpr which already receives a flat
// arg list from pglast; vitess instead nests AndExpr/OrExpr binarily,
// so Compile re-flattens it here to keep the rest of the engine (which
// walks BoolOp.Args as a flat reduction) uniform.
func flattenBool(kind BoolOpKind, left, right Expression) *BoolOp {
	var args []Expression
	if lb, ok := left.(*BoolOp); ok && lb.Kind == kind {
		args = append(args, lb.Args...)
	} else {
		args = append(args, left)
	}
	if rb, ok := right.(*BoolOp); ok && rb.Kind == kind {
		args = append(args, rb.Args...)
	} else {
		args = append(args, right)
	}
	return &BoolOp{Kind: kind, Args: args}
}
