package expr

import (
	"testing"

	"github.com/dolthub/vitess/go/vt/sqlparser"
)

func parseExpr(t *testing.T, sql string) sqlparser.Expr {
	t.Helper()
	stmt, err := sqlparser.Parse("select " + sql + " from t")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		t.Fatalf("expected *sqlparser.Select, got %T", stmt)
	}
	ae, ok := sel.SelectExprs[0].(*sqlparser.AliasedExpr)
	if !ok {
		t.Fatalf("expected aliased select expr, got %T", sel.SelectExprs[0])
	}
	return ae.Expr
}

func TestCompileColumnRef(t *testing.T) {
	e, err := Compile(parseExpr(t, "object_id"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cr, ok := e.(*ColumnRef)
	if !ok {
		t.Fatalf("expected *ColumnRef, got %T", e)
	}
	if len(cr.Path) != 1 || cr.Path[0] != "object_id" {
		t.Fatalf("unexpected path: %v", cr.Path)
	}
}

func TestCompileSharedRef(t *testing.T) {
	e, err := Compile(parseExpr(t, "shared.radius"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sr, ok := e.(*SharedRef)
	if !ok {
		t.Fatalf("expected *SharedRef, got %T", e)
	}
	if sr.Name != "radius" {
		t.Fatalf("unexpected name: %s", sr.Name)
	}
}

func TestCompileNotBetweenRejected(t *testing.T) {
	_, err := Compile(parseExpr(t, "x not between 1 and 2"))
	if err == nil {
		t.Fatalf("expected NOT BETWEEN to be rejected")
	}
}

func TestCompileBetween(t *testing.T) {
	e, err := Compile(parseExpr(t, "x between 1 and 2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := e.(*Between); !ok {
		t.Fatalf("expected *Between, got %T", e)
	}
}

func TestCompileAndFlattensNested(t *testing.T) {
	e, err := Compile(parseExpr(t, "a = 1 and b = 2 and c = 3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, ok := e.(*BoolOp)
	if !ok {
		t.Fatalf("expected *BoolOp, got %T", e)
	}
	if b.Kind != BoolAnd || len(b.Args) != 3 {
		t.Fatalf("expected flattened 3-arg AND, got kind=%v args=%d", b.Kind, len(b.Args))
	}
}

func TestCompileFuncCallNamedAndPositional(t *testing.T) {
	e, err := Compile(parseExpr(t, "histogram(flux, nbins := 10)"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fc, ok := e.(*FuncCall)
	if !ok {
		t.Fatalf("expected *FuncCall, got %T", e)
	}
	if fc.Name != "histogram" {
		t.Fatalf("unexpected name: %s", fc.Name)
	}
	if len(fc.Positional) != 1 {
		t.Fatalf("expected 1 positional arg, got %d", len(fc.Positional))
	}
	if _, ok := fc.Named["nbins"]; !ok {
		t.Fatalf("expected named arg nbins")
	}
}

func TestCompileFoldsPureConstant(t *testing.T) {
	e, err := Compile(parseExpr(t, "pi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, ok := e.(*Const)
	if !ok {
		t.Fatalf("expected pi to fold to *Const, got %T", e)
	}
	if f, ok := c.Val.(float64); !ok || f < 3.14 || f > 3.15 {
		t.Fatalf("unexpected folded value: %v", c.Val)
	}
}

func TestCompileCountStar(t *testing.T) {
	e, err := Compile(parseExpr(t, "count(*)"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fc, ok := e.(*FuncCall)
	if !ok || !fc.AggStar {
		t.Fatalf("expected count(*) FuncCall with AggStar=true, got %#v", e)
	}
}

func TestCompileStarRejectedOutsideCount(t *testing.T) {
	_, err := Compile(parseExpr(t, "sum(*)"))
	if err == nil {
		t.Fatalf("expected * to be rejected outside count(*)")
	}
}

func TestCompileRowExpr(t *testing.T) {
	e, err := Compile(parseExpr(t, "(1, 2, 3)"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := e.(*RowExpr); !ok {
		t.Fatalf("expected *RowExpr, got %T", e)
	}
}

func TestWalkPostOrderSkipsAggregateArgs(t *testing.T) {
	e, err := Compile(parseExpr(t, "sum(x) + 1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var seen []Expression
	Walk(e, func(n Expression) {
		seen = append(seen, n)
	}, func(n Expression) bool {
		fc, ok := n.(*FuncCall)
		return ok && fc.Name == "sum"
	})
	// sum(x) itself is visited but its child x is not, because breakIf
	// stops descent before the recursive Walk call.
	for _, n := range seen {
		if cr, ok := n.(*ColumnRef); ok {
			t.Fatalf("expected sum's argument not to be walked, found %v", cr.Path)
		}
	}
}
