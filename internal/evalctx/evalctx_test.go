package evalctx

import (
	"math"
	"testing"

	"quickdb/internal/expr"
	"quickdb/internal/shardstore"
	"quickdb/internal/sharedvalue"
)

func testShard() shardstore.Shard {
	return shardstore.NewMemShard(4, map[string]shardstore.Vector{
		"object_id": {Kind: shardstore.KindInt, Ints: []int64{1, 2, 3, 4}},
	})
}

func TestEvalColumnRef(t *testing.T) {
	ctx := New(testShard(), nil)
	v, err := ctx.EvalColumnRef([]string{"object_id"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vec := v.(shardstore.Vector)
	if vec.Ints[0] != 1 {
		t.Fatalf("unexpected column value: %v", vec.Ints)
	}
}

func TestEvalBinaryOpVectorScalar(t *testing.T) {
	ctx := New(testShard(), nil)
	col, _ := ctx.EvalColumnRef([]string{"object_id"})
	v, err := ctx.EvalBinaryOp(">", col, int64(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vec := v.(shardstore.Vector)
	want := []bool{false, false, true, true}
	for i, b := range want {
		if vec.Bools[i] != b {
			t.Fatalf("unexpected comparison result: %v", vec.Bools)
		}
	}
}

func TestEvalBetween(t *testing.T) {
	ctx := New(testShard(), nil)
	col, _ := ctx.EvalColumnRef([]string{"object_id"})
	v, err := ctx.EvalBetween(col, int64(2), int64(3), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vec := v.(shardstore.Vector)
	want := []bool{false, true, true, false}
	for i, b := range want {
		if vec.Bools[i] != b {
			t.Fatalf("unexpected between result: %v", vec.Bools)
		}
	}
}

func TestEvalSharedRefMissing(t *testing.T) {
	ctx := New(testShard(), sharedvalue.Map{})
	if _, err := ctx.EvalSharedRef("radius"); err == nil {
		t.Fatalf("expected error for missing shared value")
	}
}

func TestFinalizeRejectsColumnRef(t *testing.T) {
	ctx := NewFinalize(nil, AggregateResults{}, "none")
	if _, err := ctx.EvalColumnRef([]string{"object_id"}); err == nil {
		t.Fatalf("expected finalize-phase column reference to fail")
	}
}

func TestScalarFlux2Mag(t *testing.T) {
	v, err := ScalarFunctions["flux2mag"]([]expr.Value{1.0}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f := v.(float64); math.Abs(f-fluxToMagZeroPoint) > 1e-9 {
		t.Fatalf("unexpected flux2mag result: %v", f)
	}
}

func TestScalarIsNaN(t *testing.T) {
	v, err := ScalarFunctions["isnan"]([]expr.Value{math.NaN()}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.(bool) {
		t.Fatalf("expected true for NaN input")
	}
}

func TestScalarLeastGreatest(t *testing.T) {
	least, err := ScalarFunctions["least"]([]expr.Value{3.0, 1.0, 2.0}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if least.(float64) != 1.0 {
		t.Fatalf("expected least=1, got %v", least)
	}
	greatest, err := ScalarFunctions["greatest"]([]expr.Value{3.0, 1.0, 2.0}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if greatest.(float64) != 3.0 {
		t.Fatalf("expected greatest=3, got %v", greatest)
	}
}
