package wire

import (
	"bufio"
	"bytes"
	"testing"

	"quickdb/internal/sharedvalue"
)

func TestWriteReadEnvelopeRoundTrip(t *testing.T) {
	values := sharedvalue.Map{
		"zp":    sharedvalue.ScalarOf(25.0),
		"flags": sharedvalue.ListOf(sharedvalue.ScalarOf("a"), sharedvalue.ScalarOf("b")),
		"ids":   sharedvalue.ArrayOf(sharedvalue.DTypeFloat64, []int{3}, []float64{1, 2, 3}),
	}

	var buf bytes.Buffer
	if err := WriteEnvelope(&buf, values); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}

	got, err := ReadEnvelope(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}

	zp, err := got["zp"].AsFloat64()
	if err != nil || zp != 25.0 {
		t.Fatalf("expected zp=25, got %v err=%v", zp, err)
	}
	if len(got["flags"].List) != 2 {
		t.Fatalf("expected 2 list items, got %d", len(got["flags"].List))
	}
	ids := got["ids"]
	if ids.Kind != sharedvalue.KindArray {
		t.Fatalf("expected array kind, got %s", ids.Kind)
	}
	if len(ids.Data) != 3 || ids.Data[0] != 1 || ids.Data[2] != 3 {
		t.Fatalf("expected [1 2 3], got %v", ids.Data)
	}
}

func TestWriteReadEnvelopeNoArrays(t *testing.T) {
	values := sharedvalue.Map{"n": sharedvalue.ScalarOf(1.0)}
	var buf bytes.Buffer
	if err := WriteEnvelope(&buf, values); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}
	got, err := ReadEnvelope(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	n, _ := got["n"].AsFloat64()
	if n != 1.0 {
		t.Fatalf("expected n=1, got %v", n)
	}
}
