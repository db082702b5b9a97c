package rate

import "strings"

// IsNonceError reports whether a venue rejected a request because its nonce
// or timestamp was stale.
func IsNonceError(exchange, msg string) bool {
	lowerMsg := strings.ToLower(msg)
	switch strings.ToLower(exchange) {
	case "binance":
		// -1021: timestamp outside of recvWindow
		return strings.Contains(lowerMsg, "nonce") ||
			strings.Contains(lowerMsg, "-1021") ||
			strings.Contains(lowerMsg, "recvwindow")
	case "kraken":
		return strings.Contains(lowerMsg, "invalid nonce")
	case "bitstamp":
		return strings.Contains(lowerMsg, "invalid nonce") || strings.Contains(lowerMsg, "nonce")
	default:
		return strings.Contains(lowerMsg, "nonce")
	}
}
