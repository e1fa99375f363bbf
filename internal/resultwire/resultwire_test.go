package resultwire

import (
	"testing"

	"quickdb/internal/expr"
	"quickdb/internal/planner/agg"
	"quickdb/internal/planner/nonagg"
	"quickdb/internal/shardstore"
)

func TestEncodeDecodeValueScalars(t *testing.T) {
	cases := []any{int64(7), 3.5, true, "hi", nil}
	for _, c := range cases {
		got, err := DecodeValue(EncodeValue(c))
		if err != nil {
			t.Fatalf("round trip %v: %v", c, err)
		}
		if got != c {
			t.Fatalf("round trip %v: got %v", c, got)
		}
	}
}

func TestEncodeDecodeVector(t *testing.T) {
	v := shardstore.Vector{Kind: shardstore.KindFloat, Floats: []float64{1, 2, 3}}
	got, err := DecodeValue(EncodeValue(v))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	vec := got.(shardstore.Vector)
	if vec.Kind != shardstore.KindFloat || len(vec.Floats) != 3 || vec.Floats[1] != 2 {
		t.Fatalf("unexpected vector: %+v", vec)
	}
}

func TestEncodeDecodeMinMax(t *testing.T) {
	mm := agg.MinMaxValue{Min: 1, Max: 9}
	got, err := DecodeValue(EncodeValue(mm))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.(agg.MinMaxValue) != mm {
		t.Fatalf("expected %+v, got %+v", mm, got)
	}
}

func TestEncodeDecodeHistogram(t *testing.T) {
	h := agg.HistogramResult{Counts: []int64{1, 2, 3}, Lo: 0, Hi: 10}
	got, err := DecodeValue(EncodeValue(h))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	hr := got.(agg.HistogramResult)
	if hr.Lo != 0 || hr.Hi != 10 || len(hr.Counts) != 3 || hr.Counts[2] != 3 {
		t.Fatalf("unexpected histogram: %+v", hr)
	}
}

func TestEncodeDecodeCrossMatch(t *testing.T) {
	cm := agg.CrossMatchResult{Pairs: []agg.CrossMatchPair{{I: 1, J: 2, SepArcsec: 0.5}}}
	got, err := DecodeValue(EncodeValue(cm))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	res := got.(agg.CrossMatchResult)
	if len(res.Pairs) != 1 || res.Pairs[0].I != 1 || res.Pairs[0].J != 2 || res.Pairs[0].SepArcsec != 0.5 {
		t.Fatalf("unexpected crossmatch: %+v", res)
	}
}

func TestEncodeDecodeAggResultRoundTrip(t *testing.T) {
	res := &agg.Result{
		Names:     []string{"g", "n"},
		GroupKeys: []string{"a", "b"},
		Rows: [][]expr.Value{
			{"a", int64(3)},
			{"b", int64(5)},
		},
	}
	got, err := DecodeAggResult(EncodeAggResult(res))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Rows) != 2 || got.Rows[0][1].(int64) != 3 || got.Rows[1][1].(int64) != 5 {
		t.Fatalf("unexpected rows: %+v", got.Rows)
	}
	if got.GroupKeys[0] != "a" || got.GroupKeys[1] != "b" {
		t.Fatalf("unexpected group keys: %v", got.GroupKeys)
	}
}

func TestEncodeDecodeMapperResultWithSort(t *testing.T) {
	res := &nonagg.MapperResult{
		Targets:  []expr.Value{shardstore.Vector{Kind: shardstore.KindFloat, Floats: []float64{1, 2}}},
		SortKeys: []expr.Value{shardstore.Vector{Kind: shardstore.KindFloat, Floats: []float64{1, 2}}},
		HasSort:  true,
	}
	got, err := DecodeMapperResult(EncodeMapperResult(res))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.HasSort {
		t.Fatalf("expected HasSort=true")
	}
	vec := got.Targets[0].(shardstore.Vector)
	if len(vec.Floats) != 2 || vec.Floats[1] != 2 {
		t.Fatalf("unexpected targets: %+v", vec)
	}
	keyVec := got.SortKeys[0].(shardstore.Vector)
	if len(keyVec.Floats) != 2 {
		t.Fatalf("unexpected sort keys: %+v", keyVec)
	}
}

func TestEncodeDecodeMapperResultWithoutSort(t *testing.T) {
	res := &nonagg.MapperResult{
		Targets: []expr.Value{shardstore.Vector{Kind: shardstore.KindInt, Ints: []int64{7}}},
	}
	got, err := DecodeMapperResult(EncodeMapperResult(res))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.HasSort {
		t.Fatalf("expected HasSort=false")
	}
	if len(got.SortKeys) != 0 {
		t.Fatalf("expected no sort keys, got %+v", got.SortKeys)
	}
}
