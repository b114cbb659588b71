package notify

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
)

// tokenDecimals both venue tokens use. The display form keeps four
// fractional digits, which is plenty for an operator alert.
const (
	tokenDecimals   = 18
	displayDecimals = 4
)

// FormatOpportunity renders a detected divergence as an alert title and body.
func FormatOpportunity(opp domain.Opportunity) (string, string) {
	title := "Arbitrage opportunity detected"
	if !opp.Profitable {
		title = "Divergence detected (below profit floor)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Direction: %s\n", directionLabel(opp.Direction))
	fmt.Fprintf(&b, "Pair %s at %s, pool oracle at %s\n",
		shortAddress(opp.Pair), FormatPrice(opp.PairPriceUsd), FormatPrice(opp.PoolPriceUsd))
	if opp.BorrowAmount != nil {
		fmt.Fprintf(&b, "Borrow %s, repay %s\n",
			FormatAmount(opp.BorrowAmount), FormatAmount(opp.DebtAmount))
	}
	if opp.ExpectedProfit != nil {
		fmt.Fprintf(&b, "Projected profit: %s collateral", FormatAmount(opp.ExpectedProfit))
	}
	return title, b.String()
}

// FormatSettlement renders a settlement attempt as an alert title and body.
func FormatSettlement(st domain.Settlement) (string, string) {
	title := "Paper settlement " + string(st.State)

	var b strings.Builder
	fmt.Fprintf(&b, "Direction: %s\n", directionLabel(st.Direction))
	fmt.Fprintf(&b, "Borrowed %s, debt %s\n",
		FormatAmount(st.BorrowAmount), FormatAmount(st.DebtAmount))
	if st.State == domain.AttemptSettled {
		fmt.Fprintf(&b, "Proceeds %s, profit %s (token %s)",
			FormatAmount(st.ProceedsOut), FormatAmount(st.Profit), shortAddress(st.ProfitToken))
	} else if st.FailReason != "" {
		fmt.Fprintf(&b, "Aborted: %s", st.FailReason)
	}
	return title, b.String()
}

// FormatAmount renders a raw 18-decimal token amount as a decimal string,
// truncated to a few fractional digits. Nil renders as "-".
func FormatAmount(v *big.Int) string {
	if v == nil {
		return "-"
	}
	return formatFixed(v, tokenDecimals)
}

// FormatPrice renders a PriceScale fixed-point USD price.
func FormatPrice(p *big.Int) string {
	if p == nil {
		return "-"
	}
	return formatFixed(p, 6)
}

func formatFixed(v *big.Int, decimals int) string {
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)

	div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(abs, div, new(big.Int))

	fracStr := frac.String()
	if len(fracStr) < decimals {
		fracStr = strings.Repeat("0", decimals-len(fracStr)) + fracStr
	}
	if decimals > displayDecimals {
		fracStr = fracStr[:displayDecimals]
	}
	fracStr = strings.TrimRight(fracStr, "0")

	out := whole.String()
	if fracStr != "" {
		out += "." + fracStr
	}
	if neg {
		out = "-" + out
	}
	return out
}

func directionLabel(d domain.Direction) string {
	switch d {
	case domain.DirectionFlashFromPair:
		return "flash-borrow dollar from pair, redeem at pool"
	case domain.DirectionMintAndSell:
		return "mint dollar at pool, sell into pair"
	default:
		return string(d)
	}
}

func shortAddress(a fmt.Stringer) string {
	s := a.String()
	if len(s) <= 12 {
		return s
	}
	return s[:8] + ".." + s[len(s)-4:]
}
