package utils

import (
	"math/big"
	"testing"
)

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad big int %q", s)
	}
	return v
}

func TestScaleTokenAmount(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		decimals int
		want     string
	}{
		{"one token", "1000000000000000000", 18, "1.0000"},
		{"truncates fifth decimal", "1234567890000000000", 18, "1.2345"},
		{"dust", "99999999999999", 18, "0.0000"},
		{"smallest unit kept", "100000000000000", 18, "0.0001"},
		{"zero", "0", 18, "0.0000"},
		{"six decimals", "2500000", 6, "2.5000"},
		{"fewer decimals than ledger", "123", 2, "1.2300"},
		{"no decimals", "7", 0, "7.0000"},
		{"beyond uint64", "340282366920938463463374607431768211455", 18, "340282366920938463463.3746"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ScaleTokenAmount(mustBig(t, tc.raw), tc.decimals); got != tc.want {
				t.Fatalf("ScaleTokenAmount(%s, %d) = %s, want %s", tc.raw, tc.decimals, got, tc.want)
			}
		})
	}
}

func TestScaleTokenAmountNil(t *testing.T) {
	if got := ScaleTokenAmount(nil, 18); got != "0.0000" {
		t.Fatalf("nil amount = %s", got)
	}
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount(" 0.123456 ")
	if err != nil {
		t.Fatalf("ParseAmount: %v", err)
	}
	if FormatAmount(amount) != "0.1234" {
		t.Fatalf("got %s, want 0.1234", FormatAmount(amount))
	}
	if _, err := ParseAmount("ten"); err == nil {
		t.Fatal("expected error for non-numeric amount")
	}
}

func TestNormalizeEvmAddress(t *testing.T) {
	got, err := NormalizeEvmAddress("0xAbCdEf0123456789aBcDeF0123456789AbCdEf01")
	if err != nil {
		t.Fatalf("NormalizeEvmAddress: %v", err)
	}
	if got != "0xabcdef0123456789abcdef0123456789abcdef01" {
		t.Fatalf("got %s", got)
	}
	if got, _ := NormalizeEvmAddress("abcdef0123456789abcdef0123456789abcdef01"); got != "0xabcdef0123456789abcdef0123456789abcdef01" {
		t.Fatalf("missing prefix not added: %s", got)
	}
	for _, bad := range []string{"", "0x1234", "0xzzcdef0123456789abcdef0123456789abcdef01"} {
		if _, err := NormalizeEvmAddress(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
	if !SameAddress("0xABCDEF0123456789ABCDEF0123456789ABCDEF01", "abcdef0123456789abcdef0123456789abcdef01") {
		t.Fatal("SameAddress should ignore case and prefix")
	}
}
