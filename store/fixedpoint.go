package store

import (
	"math/big"
	"strings"
)

// parseFixedPoint parses a fixed-point token amount string as encoded on the
// wire (integer smallest-unit amounts, e.g. "1000"). An empty or malformed
// string parses as zero rather than failing a vote tally update.
func parseFixedPoint(raw string) (*big.Int, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), true
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return big.NewInt(0), false
	}
	return value, true
}

func formatFixedPoint(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}
