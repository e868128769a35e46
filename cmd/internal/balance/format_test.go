package balance

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func rat(t *testing.T, s string) *big.Rat {
	t.Helper()
	r, ok := new(big.Rat).SetString(s)
	require.True(t, ok, "bad rat %q", s)
	return r
}

func TestFormat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		balance *big.Rat
		rates   *Rates
		want    string
	}{
		{name: "rub only", balance: rat(t, "6000.5"), want: "RUB = 6000.50"},
		{name: "nil balance", balance: nil, want: "RUB = 0.00"},
		{name: "negative", balance: rat(t, "-120.456"), want: "RUB = -120.46"},
		{
			name:    "converted",
			balance: rat(t, "1000"),
			rates:   &Rates{RUB: 1, USD: 0.0125, CNY: 0.09, EUR: 0.0111},
			want:    "RUB = 1000.00\nUSD = 12.50\nCNY = 90.00\nEUR = 11.10",
		},
		{
			name:    "missing currency",
			balance: rat(t, "10"),
			rates:   &Rates{RUB: 1, USD: 0.5},
			want:    "RUB = 10.00\nUSD = 5.00\nCNY = 0.00\nEUR = 0.00",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Format(tc.balance, tc.rates))
		})
	}
}
