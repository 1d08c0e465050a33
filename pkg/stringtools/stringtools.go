package stringtools

import (
	"strings"
)

// AddressesMatch compares two hex addresses ignoring case.
func AddressesMatch(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// NormalizeAddress lower-cases a hex address for use as a map key.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ShortenHex keeps the 0x prefix plus length chars on each side.
func ShortenHex(hex string, length int) string {
	if length <= 0 {
		length = 4
	}
	if len(hex) <= length*2+2 {
		return hex
	}
	return hex[:length+2] + "…" + hex[len(hex)-length:]
}
