// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Select model (C2): a validated, immutable view of one SELECT
// statement. Construction parses once, reads each recognized clause
// exactly once, then asserts nothing else was left over — the same
// "parse once, walk every clause, assert no leftover keys" discipline
// canonica-labs' internal/sql/parser.go applies to its LogicalPlan.

package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dolthub/vitess/go/vt/sqlparser"

	"quickdb/internal/expr"
	"quickdb/internal/qerrors"
)

// TargetItem is one projected expression, with its result column name
// (explicit alias, or col0/col1/... when unnamed).
type TargetItem struct {
	Expr expr.Expression
	Name string
}

// OrderItem is one ORDER BY key; Desc reverses its sort sign.
type OrderItem struct {
	Expr expr.Expression
	Desc bool
}

// Select is immutable after Compile returns. It is safe to ship to a
// worker and evaluated repeatedly against different shards.
type Select struct {
	Raw         string
	TargetList  []TargetItem
	From        string
	Where       expr.Expression
	GroupBy     []expr.Expression
	OrderBy     []OrderItem
	LimitCount  *int
	HasLimit    bool
	IsAggregate bool
}

// Compile parses sql, validates it against quickdb's restricted dialect
// (spec §4.2, §3 Select invariants), and returns the resolved Select.
func Compile(sql string) (*Select, error) {
	pieces, err := sqlparser.SplitStatementToPieces(sql)
	if err != nil {
		return nil, qerrors.NewSQL(sql, "malformed SQL")
	}
	if len(pieces) != 1 {
		return nil, qerrors.NewSQL(sql, "exactly one statement is required")
	}

	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, qerrors.NewSQL(sql, err.Error())
	}

	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		return nil, qerrors.NewSQL(sql, "only SELECT statements are supported")
	}

	s := &Select{Raw: sql}

	if err := s.resolveFrom(sel); err != nil {
		return nil, err
	}
	if err := s.resolveTargetList(sel); err != nil {
		return nil, err
	}
	if err := s.resolveWhere(sel); err != nil {
		return nil, err
	}
	if err := s.resolveGroupBy(sel); err != nil {
		return nil, err
	}
	if err := s.resolveOrderBy(sel); err != nil {
		return nil, err
	}
	if err := s.resolveLimit(sel); err != nil {
		return nil, err
	}

	s.IsAggregate = containsAggregate(s)

	if s.IsAggregate {
		if len(s.OrderBy) > 0 {
			return nil, qerrors.NewSQL(sql, "ORDER BY is not supported in aggregate queries")
		}
		if s.HasLimit {
			return nil, qerrors.NewSQL(sql, "LIMIT is not supported in aggregate queries")
		}
	} else if len(s.GroupBy) > 0 {
		return nil, qerrors.NewSQL(sql, "GROUP BY requires an aggregate target list")
	}

	return s, nil
}

func (s *Select) resolveFrom(sel *sqlparser.Select) error {
	if len(sel.From) != 1 {
		return qerrors.NewSQL(s.Raw, "exactly one FROM relation is required")
	}
	ate, ok := sel.From[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return qerrors.NewSQL(s.Raw, "JOIN and subquery FROM clauses are not supported")
	}
	tn, ok := ate.Expr.(sqlparser.TableName)
	if !ok {
		return qerrors.NewSQL(s.Raw, "unsupported FROM relation form")
	}
	s.From = tn.Name.String()
	return nil
}

func (s *Select) resolveTargetList(sel *sqlparser.Select) error {
	for i, se := range sel.SelectExprs {
		ae, ok := se.(*sqlparser.AliasedExpr)
		if !ok {
			return qerrors.NewSQL(s.Raw, "* is only permitted as the argument to count(*)")
		}
		compiled, err := expr.Compile(ae.Expr)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("col%d", i)
		if !ae.As.IsEmpty() {
			name = ae.As.String()
		}
		s.TargetList = append(s.TargetList, TargetItem{Expr: compiled, Name: name})
	}
	if len(s.TargetList) == 0 {
		return qerrors.NewSQL(s.Raw, "target list must not be empty")
	}
	return nil
}

func (s *Select) resolveWhere(sel *sqlparser.Select) error {
	if sel.Where == nil {
		return nil
	}
	compiled, err := expr.Compile(sel.Where.Expr)
	if err != nil {
		return err
	}
	s.Where = compiled
	return nil
}

func (s *Select) resolveGroupBy(sel *sqlparser.Select) error {
	for _, g := range sel.GroupBy {
		compiled, err := expr.Compile(g)
		if err != nil {
			return err
		}
		s.GroupBy = append(s.GroupBy, compiled)
	}
	if sel.Having != nil {
		return qerrors.NewSQL(s.Raw, "HAVING is not supported")
	}
	return nil
}

func (s *Select) resolveOrderBy(sel *sqlparser.Select) error {
	for _, o := range sel.OrderBy {
		if o.Direction == sqlparser.AscScr && o.Order != "" {
			// no-op; vitess has no NULLS FIRST/LAST node today, kept as
			// an explicit guard point should the grammar gain it.
		}
		compiled, err := expr.Compile(o.Expr)
		if err != nil {
			return err
		}
		s.OrderBy = append(s.OrderBy, OrderItem{
			Expr: compiled,
			Desc: o.Direction == sqlparser.DescScr,
		})
	}
	return nil
}

func (s *Select) resolveLimit(sel *sqlparser.Select) error {
	if sel.Limit == nil {
		return nil
	}
	if sel.Limit.Offset != nil {
		off, err := limitIntValue(sel.Limit.Offset)
		if err != nil {
			return err
		}
		if off > 0 {
			return qerrors.NewSQL(s.Raw, "OFFSET > 0 is not supported")
		}
	}
	if sel.Limit.Rowcount == nil {
		return nil
	}
	n, err := limitIntValue(sel.Limit.Rowcount)
	if err != nil {
		return err
	}
	s.LimitCount = &n
	s.HasLimit = true
	return nil
}

func limitIntValue(e sqlparser.Expr) (int, error) {
	sv, ok := e.(*sqlparser.SQLVal)
	if !ok || sv.Type != sqlparser.IntVal {
		return 0, qerrors.NewSQL("", "LIMIT/OFFSET must be an integer literal")
	}
	n, err := strconv.Atoi(string(sv.Val))
	if err != nil {
		return 0, qerrors.NewSQL("", "malformed LIMIT/OFFSET literal")
	}
	return n, nil
}

// containsAggregate reports whether any target-list expression contains
// a FuncCall naming a registered aggregate. The registry itself lives in
// internal/planner/agg to avoid an import cycle; query only needs to
// know the *names*, so it takes them from a small shared list.
func containsAggregate(s *Select) bool {
	for _, t := range s.TargetList {
		found := false
		expr.Walk(t.Expr, func(n expr.Expression) {
			if fc, ok := n.(*expr.FuncCall); ok && IsAggregateName(fc.Name) {
				found = true
			}
		}, nil)
		if found {
			return true
		}
	}
	return false
}

// aggregateNames mirrors the required registry of spec §4.5; kept here
// (rather than importing internal/planner/agg) so Select construction
// never depends on planner internals.
var aggregateNames = map[string]bool{
	"count":      true,
	"sum":        true,
	"min":        true,
	"max":        true,
	"minmax":     true,
	"histogram":  true,
	"histogram2d": true,
	"crossmatch": true,
	"sleep":      true,
}

// IsAggregateName reports whether name is a registered aggregate
// function, case-insensitively (FuncCall.Name is already lowered by
// expr.Compile).
func IsAggregateName(name string) bool {
	return aggregateNames[strings.ToLower(name)]
}
