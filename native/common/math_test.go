package common

import (
	"errors"
	"math"
	"testing"
)

func TestMulDiv(t *testing.T) {
	cases := []struct {
		a, b, c uint64
		floor   uint64
		ceil    uint64
	}{
		{a: 1_000_000, b: 10_000, c: 9_910, floor: 1_009_081, ceil: 1_009_082},
		{a: 300_000_000, b: 1_000_000, c: 200_000, floor: 1_500_000_000, ceil: 1_500_000_000},
		{a: 10_000_000_000, b: 60, c: 300, floor: 2_000_000_000, ceil: 2_000_000_000},
		{a: math.MaxUint64, b: 2, c: 4, floor: math.MaxUint64 / 2, ceil: math.MaxUint64/2 + 1},
	}
	for _, tc := range cases {
		got, err := MulDiv(tc.a, tc.b, tc.c)
		if err != nil || got != tc.floor {
			t.Fatalf("MulDiv(%d,%d,%d) = %d, %v", tc.a, tc.b, tc.c, got, err)
		}
		got, err = MulDivCeil(tc.a, tc.b, tc.c)
		if err != nil || got != tc.ceil {
			t.Fatalf("MulDivCeil(%d,%d,%d) = %d, %v", tc.a, tc.b, tc.c, got, err)
		}
	}
}

func TestMulDivErrors(t *testing.T) {
	if _, err := MulDiv(1, 1, 0); !errors.Is(err, ErrDivideByZero) {
		t.Fatalf("expected divide by zero, got %v", err)
	}
	if _, err := MulDiv(math.MaxUint64, math.MaxUint64, 1); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := Add(math.MaxUint64, 1); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}
