package identity

import "testing"

func TestGenerateIDFromStringIsDeterministic(t *testing.T) {
	a := GenerateIDFromString("blood type is O positive")
	b := GenerateIDFromString("blood type is O positive")
	if a != b {
		t.Fatalf("expected deterministic id, got %q != %q", a, b)
	}
	c := GenerateIDFromString("blood type is O negative")
	if a == c {
		t.Fatalf("expected different inputs to hash differently, both got %q", a)
	}
}

func TestGenerateIDFromStringShapeAndValidity(t *testing.T) {
	id := GenerateIDFromString("hello world")
	if len(id) != symbolCount {
		t.Fatalf("expected %d symbols, got %d (%q)", symbolCount, len(id), id)
	}
	if !Validate(id) {
		t.Fatalf("expected generated id %q to validate", id)
	}
}

func TestValidateRejectsBadFirstSymbol(t *testing.T) {
	// G is outside the strict 0-F range required for the first symbol.
	if Validate("G000000000000") {
		t.Fatalf("expected id with leading G to fail strict validation")
	}
}

func TestValidateRejectsWrongLength(t *testing.T) {
	if Validate("0000") {
		t.Fatalf("expected short id to fail validation")
	}
}

func TestDecodeRoundTrips(t *testing.T) {
	id := GenerateID()
	if _, err := Decode(id); err != nil {
		t.Fatalf("decode of generated id failed: %v", err)
	}
}

func TestDecodeRecoversHash(t *testing.T) {
	input := "I live in NYC"
	want := fnv1a64([]byte(input))
	got, err := Decode(GenerateIDFromString(input))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != want {
		t.Fatalf("expected decode to recover %d, got %d", want, got)
	}
}

func TestPartitionKey(t *testing.T) {
	id := "0ABCDEFGHIJKL"
	if got := PartitionKey(id, 4); got != "0ABC" {
		t.Fatalf("expected 0ABC, got %q", got)
	}
	if got := PartitionKey(id, 0); got != id {
		t.Fatalf("expected full id for non-positive length, got %q", got)
	}
}

func TestPartitionNumberInRange(t *testing.T) {
	id := GenerateID()
	for _, count := range []int{1, 2, 7, 64} {
		n, err := PartitionNumber(id, count)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n < 0 || n >= count {
			t.Fatalf("partition number %d out of range [0,%d)", n, count)
		}
	}
}
