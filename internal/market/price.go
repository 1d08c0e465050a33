package market

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const weiDecimals = 18

// FormatEther renders a wei amount as ether with three decimals.
// A nil amount renders as "".
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return ""
	}
	return decimal.NewFromBigInt(wei, -weiDecimals).StringFixed(3)
}
