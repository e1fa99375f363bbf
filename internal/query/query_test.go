package query

import "testing"

func TestCompileSimpleSelect(t *testing.T) {
	s, err := Compile("SELECT object_id FROM test WHERE object_id > 1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.From != "test" {
		t.Fatalf("unexpected from: %s", s.From)
	}
	if len(s.TargetList) != 1 || s.TargetList[0].Name != "col0" {
		t.Fatalf("unexpected target list: %+v", s.TargetList)
	}
	if s.Where == nil {
		t.Fatalf("expected WHERE to be set")
	}
	if s.IsAggregate {
		t.Fatalf("expected non-aggregate query")
	}
}

func TestCompileAggregateQuery(t *testing.T) {
	s, err := Compile("SELECT count(*) FROM test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.IsAggregate {
		t.Fatalf("expected aggregate query")
	}
}

func TestCompileGroupBy(t *testing.T) {
	s, err := Compile("SELECT count(*) FROM test GROUP BY object_id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.GroupBy) != 1 {
		t.Fatalf("expected 1 group-by expression, got %d", len(s.GroupBy))
	}
}

func TestCompileOrderByLimit(t *testing.T) {
	s, err := Compile("SELECT object_id FROM test ORDER BY object_id DESC LIMIT 3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.OrderBy) != 1 || !s.OrderBy[0].Desc {
		t.Fatalf("unexpected order by: %+v", s.OrderBy)
	}
	if s.LimitCount == nil || *s.LimitCount != 3 {
		t.Fatalf("unexpected limit: %v", s.LimitCount)
	}
}

func TestCompileRejectsOrderByInAggregate(t *testing.T) {
	_, err := Compile("SELECT count(*) FROM test ORDER BY object_id")
	if err == nil {
		t.Fatalf("expected ORDER BY to be rejected in an aggregate query")
	}
}

func TestCompileRejectsLimitInAggregate(t *testing.T) {
	_, err := Compile("SELECT count(*) FROM test LIMIT 3")
	if err == nil {
		t.Fatalf("expected LIMIT to be rejected in an aggregate query")
	}
}

func TestCompileRejectsGroupByWithoutAggregate(t *testing.T) {
	_, err := Compile("SELECT object_id FROM test GROUP BY object_id")
	if err == nil {
		t.Fatalf("expected GROUP BY without an aggregate target to be rejected")
	}
}

func TestCompileRejectsOffset(t *testing.T) {
	_, err := Compile("SELECT object_id FROM test LIMIT 3 OFFSET 1")
	if err == nil {
		t.Fatalf("expected OFFSET > 0 to be rejected")
	}
}

func TestCompileRejectsMultipleStatements(t *testing.T) {
	_, err := Compile("SELECT 1 FROM test; SELECT 2 FROM test")
	if err == nil {
		t.Fatalf("expected multi-statement SQL to be rejected")
	}
}

func TestCompileExplicitAlias(t *testing.T) {
	s, err := Compile("SELECT object_id AS oid FROM test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TargetList[0].Name != "oid" {
		t.Fatalf("expected alias oid, got %s", s.TargetList[0].Name)
	}
}

func TestCompileRejectsNonSelect(t *testing.T) {
	_, err := Compile("DELETE FROM test")
	if err == nil {
		t.Fatalf("expected non-SELECT statement to be rejected")
	}
}
