package rate

import (
	"context"
	"net/http"
	"strconv"

	"github.com/adshao/go-binance/v2"

	"tradecore/logger"
)

// FetchRequestWeightLimit queries Binance exchangeInfo endpoint to retrieve the
// REQUEST_WEIGHT per minute limit. It returns 0 if the limit cannot be
// determined.
func FetchRequestWeightLimit(ctx context.Context, client *binance.Client) (int64, error) {
	info, err := client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, rl := range info.RateLimits {
		if rl.RateLimitType == "REQUEST_WEIGHT" && rl.Interval == "MINUTE" {
			return rl.Limit, nil
		}
	}
	return 0, nil
}

// ReportUsedWeight parses the used weight from Binance response headers and
// emits a `used_weight` gauge, plus the remaining ratio when limit is known.
func ReportUsedWeight(log *logger.Log, header http.Header, limit int64) int64 {
	usedStr := header.Get("X-MBX-USED-WEIGHT-1m")
	used, _ := strconv.ParseInt(usedStr, 10, 64)

	l := log.WithComponent("binance_client")
	l.LogMetric("binance_client", "used_weight", used, "gauge", nil)
	if limit > 0 {
		l.LogMetric("binance_client", "remaining_ratio", float64(limit-used)/float64(limit), "gauge", nil)
	}
	return used
}
