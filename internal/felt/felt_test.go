package felt

import (
	"math/big"
	"math/rand"
	"testing"
)

func TestFeltHexCanonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0x0", "0x0"},
		{"0x00abc", "0xabc"},
		{"ABC", "0xabc"},
		{"0X0F", "0xf"},
	}
	for _, tt := range tests {
		f, err := FromHex(tt.in)
		if err != nil {
			t.Fatalf("FromHex(%q): %v", tt.in, err)
		}
		if got := f.Hex(); got != tt.want {
			t.Errorf("FromHex(%q).Hex() = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFeltEqualityByValueNotString(t *testing.T) {
	a, _ := FromHex("0x0abc")
	b, _ := FromHex("0xabc")
	if !a.Equal(b) {
		t.Fatalf("expected felts with same value but different string form to be equal")
	}
}

func TestFeltRejectsOutOfRange(t *testing.T) {
	tooBig := new(big.Int).Lsh(big.NewInt(1), maxFeltBits)
	if _, err := FromBigInt(tooBig); err == nil {
		t.Fatalf("expected error for value >= 2^252")
	}
	if _, err := FromBigInt(big.NewInt(-1)); err == nil {
		t.Fatalf("expected error for negative value")
	}
}

func TestU256RoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	for i := 0; i < 200; i++ {
		v := new(big.Int).Rand(r, max)
		u, err := U256FromBigInt(v)
		if err != nil {
			t.Fatalf("U256FromBigInt(%s): %v", v, err)
		}
		low128 := new(big.Int).Lsh(big.NewInt(1), 128)
		if u.Low.BigInt().Cmp(low128) >= 0 {
			t.Fatalf("low half out of range: %s", u.Low.Hex())
		}
		if u.High.BigInt().Cmp(low128) >= 0 {
			t.Fatalf("high half out of range: %s", u.High.Hex())
		}
		if got := u.BigInt(); got.Cmp(v) != 0 {
			t.Fatalf("round trip mismatch: got %s, want %s", got, v)
		}
	}
}

func TestU256RejectsNegative(t *testing.T) {
	if _, err := U256FromBigInt(big.NewInt(-5)); err == nil {
		t.Fatalf("expected error for negative value")
	}
}

func TestParseUnitsLaw(t *testing.T) {
	cases := []struct {
		text     string
		decimals int
		want     string
	}{
		{"1", 6, "1000000"},
		{"1.5", 6, "1500000"},
		{"0", 6, "0"},
		{"0.000001", 6, "1"},
		{"123.456789", 6, "123456789"},
		{".5", 6, "500000"},
	}
	for _, c := range cases {
		got, err := ParseUnits(c.text, c.decimals)
		if err != nil {
			t.Fatalf("ParseUnits(%q, %d): %v", c.text, c.decimals, err)
		}
		if got.String() != c.want {
			t.Errorf("ParseUnits(%q, %d) = %s, want %s", c.text, c.decimals, got, c.want)
		}
	}
}

func TestParseUnitsRejectsMalformed(t *testing.T) {
	bad := []string{"", ".", "1.5e3", "abc", "1.2345678", "1.2.3"}
	for _, b := range bad {
		if _, err := ParseUnits(b, 6); err == nil {
			t.Errorf("ParseUnits(%q, 6) expected error, got none", b)
		}
	}
}

func TestFormatUnitsRoundTrip(t *testing.T) {
	cases := []struct {
		amount   string
		decimals int
	}{
		{"1000000", 6},
		{"1500000", 6},
		{"0", 6},
		{"1", 6},
		{"123456789", 6},
	}
	for _, c := range cases {
		amt, _ := new(big.Int).SetString(c.amount, 10)
		formatted := FormatUnits(amt, c.decimals)
		back, err := ParseUnits(formatted, c.decimals)
		if err != nil {
			t.Fatalf("ParseUnits(FormatUnits(%s)): %v", c.amount, err)
		}
		if back.String() != c.amount {
			t.Errorf("round trip mismatch: %s -> %q -> %s", c.amount, formatted, back)
		}
	}
}
