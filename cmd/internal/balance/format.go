package balance

import (
	"fmt"
	"math/big"
	"strings"
)

// Format renders the balance frame: one "CUR = amount" line per currency.
// Without rates only the RUB line is produced.
func Format(balance *big.Rat, rates *Rates) string {
	if balance == nil {
		balance = new(big.Rat)
	}
	if rates == nil {
		return "RUB = " + balance.FloatString(2)
	}

	var b strings.Builder
	for i, cur := range []struct {
		code string
		rate float64
	}{
		{"RUB", rates.RUB},
		{"USD", rates.USD},
		{"CNY", rates.CNY},
		{"EUR", rates.EUR},
	} {
		if i > 0 {
			b.WriteByte('\n')
		}
		r := new(big.Rat)
		if cur.rate != 0 {
			r.SetFloat64(cur.rate)
		}
		fmt.Fprintf(&b, "%s = %s", cur.code, new(big.Rat).Mul(balance, r).FloatString(2))
	}
	return b.String()
}
