package agg

import (
	"testing"

	"quickdb/internal/query"
	"quickdb/internal/shardstore"
)

func testShards() []shardstore.Shard {
	s1 := shardstore.NewMemShard(4, map[string]shardstore.Vector{
		"object_id": {Kind: shardstore.KindInt, Ints: []int64{1, 2, 3, 4}},
	})
	s2 := shardstore.NewMemShard(4, map[string]shardstore.Vector{
		"object_id": {Kind: shardstore.KindInt, Ints: []int64{5, 6, 7, 8}},
	})
	return []shardstore.Shard{s1, s2}
}

func runSQL(t *testing.T, sql string) *Result {
	t.Helper()
	sel, err := query.Compile(sql)
	if err != nil {
		t.Fatalf("compile %q: %v", sql, err)
	}
	plan, err := Build(sel)
	if err != nil {
		t.Fatalf("build %q: %v", sql, err)
	}
	result, err := plan.Run(testShards(), nil)
	if err != nil {
		t.Fatalf("run %q: %v", sql, err)
	}
	return result
}

// TestCountStar reproduces spec §8 scenario 1: SELECT COUNT(*) FROM
// test -> 8.
func TestCountStar(t *testing.T) {
	result := runSQL(t, "SELECT COUNT(*) FROM test")
	if len(result.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(result.Rows))
	}
	if got := result.Rows[0][0].(int64); got != 8 {
		t.Fatalf("expected 8, got %d", got)
	}
}

// TestCountGroupByParity reproduces spec §8 scenario 2: SELECT
// COUNT(*) FROM test GROUP BY object_id % 2 -> (0,)->4, (1,)->4.
func TestCountGroupByParity(t *testing.T) {
	result := runSQL(t, "SELECT object_id % 2, COUNT(*) FROM test GROUP BY object_id % 2")
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(result.Rows))
	}
	counts := map[int64]int64{}
	for _, row := range result.Rows {
		parity := int64(row[0].(float64))
		counts[parity] = row[1].(int64)
	}
	if counts[0] != 4 || counts[1] != 4 {
		t.Fatalf("expected 4/4 split, got %v", counts)
	}
}

// TestCountWhereGroupBy reproduces spec §8 scenario 3: SELECT COUNT(*)
// FROM test WHERE object_id % 3 = 0 GROUP BY object_id % 2 -> (0,)->1,
// (1,)->1.
func TestCountWhereGroupBy(t *testing.T) {
	result := runSQL(t, "SELECT object_id % 2, COUNT(*) FROM test WHERE object_id % 3 = 0 GROUP BY object_id % 2")
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(result.Rows))
	}
	counts := map[int64]int64{}
	for _, row := range result.Rows {
		parity := int64(row[0].(float64))
		counts[parity] = row[1].(int64)
	}
	if counts[0] != 1 || counts[1] != 1 {
		t.Fatalf("expected 1/1 split, got %v", counts)
	}
}

// TestNestedAggregateReference reproduces spec §8 scenario 4: SELECT 2
// * COUNT(*) FROM test -> 16.
func TestNestedAggregateReference(t *testing.T) {
	result := runSQL(t, "SELECT 2 * COUNT(*) FROM test")
	if len(result.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(result.Rows))
	}
	if got := result.Rows[0][0].(float64); got != 16 {
		t.Fatalf("expected 16, got %v", got)
	}
}

func TestSumAndMinMax(t *testing.T) {
	result := runSQL(t, "SELECT sum(object_id), min(object_id), max(object_id) FROM test")
	row := result.Rows[0]
	if row[0].(float64) != 36 {
		t.Fatalf("expected sum 36, got %v", row[0])
	}
	if row[1].(float64) != 1 {
		t.Fatalf("expected min 1, got %v", row[1])
	}
	if row[2].(float64) != 8 {
		t.Fatalf("expected max 8, got %v", row[2])
	}
}

func TestHistogramUsesImplicitMinMax(t *testing.T) {
	result := runSQL(t, "SELECT histogram(object_id, bins := 2) FROM test")
	hr := result.Rows[0][0].(HistogramResult)
	if hr.Lo != 1 || hr.Hi != 8 {
		t.Fatalf("expected range [1,8], got [%v,%v]", hr.Lo, hr.Hi)
	}
	var total int64
	for _, c := range hr.Counts {
		total += c
	}
	if total != 8 {
		t.Fatalf("expected 8 values binned, got %d", total)
	}
}

func TestPickOneRejectsNonConstantGroup(t *testing.T) {
	sel, err := query.Compile("SELECT object_id, COUNT(*) FROM test GROUP BY object_id % 2")
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	plan, err := Build(sel)
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}
	if _, err := plan.Run(testShards(), nil); err == nil {
		t.Fatalf("expected an error: object_id is not constant within its parity group")
	}
}
