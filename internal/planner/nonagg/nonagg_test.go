package nonagg

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

// TestOrderByDescLimit reproduces spec §8 scenario 5:
// SELECT object_id FROM test WHERE NOT object_id % 2 = 0
// ORDER BY object_id DESC LIMIT 3 -> [7, 5, 3].
func TestOrderByDescLimit(t *testing.T) {
	sel, err := query.Compile("SELECT object_id FROM test WHERE NOT object_id % 2 = 0 ORDER BY object_id DESC LIMIT 3")
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	plan, err := Build(sel, nil, false)
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}

	shards := testShards()
	acc, err := plan.Mapper(shards[0])
	if err != nil {
		t.Fatalf("mapper error: %v", err)
	}
	for _, s := range shards[1:] {
		part, err := plan.Mapper(s)
		if err != nil {
			t.Fatalf("mapper error: %v", err)
		}
		acc, err = plan.Reducer(acc, part)
		if err != nil {
			t.Fatalf("reducer error: %v", err)
		}
	}
	final, err := plan.Finalizer(acc)
	if err != nil {
		t.Fatalf("finalizer error: %v", err)
	}
	col := final[0].(shardstore.Vector)
	want := []int64{7, 5, 3}
	if col.Len() != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), col.Len())
	}
	for i, w := range want {
		if col.Ints[i] != w {
			t.Fatalf("row %d: expected %d, got %d", i, w, col.Ints[i])
		}
	}
}

func TestBuildRequiresLimitWhenNotStreaming(t *testing.T) {
	sel, err := query.Compile("SELECT object_id FROM test")
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	if _, err := Build(sel, nil, false); err == nil {
		t.Fatalf("expected LIMIT to be required outside streaming mode")
	}
}

func TestBuildRejectsOrderByInStreaming(t *testing.T) {
	sel, err := query.Compile("SELECT object_id FROM test ORDER BY object_id")
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	if _, err := Build(sel, nil, true); err == nil {
		t.Fatalf("expected ORDER BY to be rejected in streaming mode")
	}
}

func TestMapperWithoutOrderByConcatTruncates(t *testing.T) {
	sel, err := query.Compile("SELECT object_id FROM test LIMIT 5")
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	plan, err := Build(sel, nil, false)
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}
	shards := testShards()
	acc, _ := plan.Mapper(shards[0])
	part, _ := plan.Mapper(shards[1])
	acc, err = plan.Reducer(acc, part)
	if err != nil {
		t.Fatalf("reducer error: %v", err)
	}
	final, _ := plan.Finalizer(acc)
	col := final[0].(shardstore.Vector)
	if col.Len() != 5 {
		t.Fatalf("expected truncation to LIMIT 5, got %d", col.Len())
	}
}
