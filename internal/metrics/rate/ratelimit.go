package rate

import (
	"fmt"
	"strings"

	"tradecore/logger"
)

// ReportRateLimitExceeded increments the rate limit exceeded counter for the given
// exchange and operation and emits the metric to CloudWatch. Additional fields such as
// exchange, symbol and operation are attached to the log entry.
func ReportRateLimitExceeded(log *logger.Log, exchange, symbol, operation string) {
	component := component(exchange, operation)
	l := log.WithComponent(component)
	fields := logger.Fields{
		"exchange":  strings.ToLower(exchange),
		"symbol":    symbol,
		"operation": strings.ToLower(operation),
	}
	l.LogMetric(component, "rate_limit_exceeded", int64(1), "counter", fields)
	l.WithFields(fields).Warn("rate limit exceeded")
}

// ReportIPBan increments the IP ban counter for the given exchange and operation and
// emits the metric to CloudWatch.
func ReportIPBan(log *logger.Log, exchange, symbol, operation string) {
	component := component(exchange, operation)
	l := log.WithComponent(component)
	fields := logger.Fields{
		"exchange":  strings.ToLower(exchange),
		"symbol":    symbol,
		"operation": strings.ToLower(operation),
	}
	l.LogMetric(component, "ip_ban", int64(1), "counter", fields)
	l.WithFields(fields).Error("ip banned")
}

// ReportNonceRetry records a request that is re-sent because the venue
// rejected its nonce.
func ReportNonceRetry(log *logger.Log, exchange, operation string, attempt int) {
	component := component(exchange, operation)
	l := log.WithComponent(component)
	fields := logger.Fields{
		"exchange":  strings.ToLower(exchange),
		"operation": strings.ToLower(operation),
		"attempt":   attempt,
	}
	l.LogMetric(component, "nonce_retry", int64(1), "counter", fields)
	l.WithFields(fields).Warn("nonce rejected, retrying request")
}

func component(exchange, operation string) string {
	return fmt.Sprintf("%s_%s", strings.ToLower(exchange), strings.ToLower(operation))
}

// DetectLimit inspects the message returned from an exchange and determines whether
// it signals a rate limit exceed or an IP ban. The detection logic is customised per
// exchange as each one uses different wording.
func DetectLimit(exchange, msg string) (rateLimit bool, ipBan bool) {
	lowerMsg := strings.ToLower(msg)
	switch strings.ToLower(exchange) {
	case "binance":
		rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "rate limit")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	case "kraken":
		rateLimit = strings.Contains(lowerMsg, "rate limit exceeded") || strings.Contains(lowerMsg, "too many requests")
		ipBan = strings.Contains(lowerMsg, "temporary lockout")
	case "bitstamp":
		rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "request limit")
		ipBan = strings.Contains(lowerMsg, "ip") && (strings.Contains(lowerMsg, "banned") || strings.Contains(lowerMsg, "blocked"))
	default:
		rateLimit = strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	}
	return
}

// ReportLimitFromMessage checks the provided message for rate limit or IP ban events
// based on exchange-specific keywords and records the appropriate metrics. No action
// is taken if the message does not match any known patterns.
func ReportLimitFromMessage(log *logger.Log, exchange, symbol, operation, msg string) {
	rateLimit, ipBan := DetectLimit(exchange, msg)
	if rateLimit {
		ReportRateLimitExceeded(log, exchange, symbol, operation)
	}
	if ipBan {
		ReportIPBan(log, exchange, symbol, operation)
	}
}
