package units

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestMulDivFloors(t *testing.T) {
	got := MulDiv(decimal.NewFromInt(7), decimal.NewFromInt(3), decimal.NewFromInt(2))
	if !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("got=%s want=10", got)
	}
	if !MulDiv(decimal.NewFromInt(5), decimal.NewFromInt(5), decimal.Zero).IsZero() {
		t.Fatalf("division by zero should yield zero")
	}
}

func TestMinimumBondExample(t *testing.T) {
	finalFee := decimal.New(1, 18)
	burn := decimal.New(5, 17)
	got := MulDiv(finalFee, Scale, burn)
	if !got.Equal(decimal.New(2, 18)) {
		t.Fatalf("min bond=%s want=2e18", got)
	}
}

func TestBps(t *testing.T) {
	if got := Bps(decimal.NewFromInt(1000), 500); !got.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("got=%s want=50", got)
	}
	if got := Bps(decimal.NewFromInt(3), 5000); !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("got=%s want=1", got)
	}
}

func TestParseAmountRejects(t *testing.T) {
	for _, raw := range []string{"-1", "1.5", "abc", "340282366920938463463374607431768211456"} {
		if _, err := ParseAmount(raw); err == nil {
			t.Fatalf("ParseAmount(%q) expected error", raw)
		}
	}
	if _, err := ParseAmount("340282366920938463463374607431768211455"); err != nil {
		t.Fatalf("max u128 rejected: %v", err)
	}
}

func TestInt128LE(t *testing.T) {
	b, err := Int128LE(decimal.NewFromInt(-1))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	for i, v := range b {
		if v != 0xff {
			t.Fatalf("byte %d=%x want=ff", i, v)
		}
	}
	b, _ = Int128LE(decimal.NewFromInt(258))
	if b[0] != 2 || b[1] != 1 || b[2] != 0 {
		t.Fatalf("bytes=%x", b)
	}
}
