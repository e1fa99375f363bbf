package sharedvalue

import "testing"

func TestScalarRoundTrip(t *testing.T) {
	v := ScalarOf(3.5)
	f, err := v.AsFloat64()
	if err != nil || f != 3.5 {
		t.Fatalf("expected 3.5, got %v err=%v", f, err)
	}
}

func TestScalarIntCoercion(t *testing.T) {
	v := ScalarOf(int64(7))
	f, err := v.AsFloat64()
	if err != nil || f != 7 {
		t.Fatalf("expected 7, got %v err=%v", f, err)
	}
}

func TestAsFloat64WrongKind(t *testing.T) {
	v := ListOf(ScalarOf(1.0))
	if _, err := v.AsFloat64(); err == nil {
		t.Fatalf("expected error for non-scalar")
	}
}

func TestArrayOf(t *testing.T) {
	v := ArrayOf(DTypeFloat64, []int{2, 2}, []float64{1, 2, 3, 4})
	if v.Kind != KindArray || len(v.Data) != 4 {
		t.Fatalf("unexpected array value: %+v", v)
	}
}
