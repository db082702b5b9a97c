package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradecore/internal/exchange"
	ratemetrics "tradecore/internal/metrics/rate"
	"tradecore/logger"
)

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// signed performs a request signed with HMAC-SHA256 over the query string.
// Every attempt carries a fresh timestamp.
func (b *Binance) signed(ctx context.Context, method, path string, params url.Values, out interface{}) error {
	if b.apiKey == "" {
		return fmt.Errorf("%s %s: missing credentials", Name, path)
	}
	return b.session.Call(ctx, path, func(int) error {
		q := url.Values{}
		for key, vals := range params {
			q[key] = append([]string(nil), vals...)
		}
		q.Set("timestamp", strconv.FormatInt(b.nonces.Next(), 10))
		query := q.Encode()
		query += "&signature=" + b.signer.Sign(query)

		req, err := http.NewRequestWithContext(ctx, method, b.restURL+path+"?"+query, nil)
		if err != nil {
			return fmt.Errorf("build %s request: %w", path, err)
		}
		req.Header.Set("X-MBX-APIKEY", b.apiKey)
		return b.do(req, path, out)
	})
}

func (b *Binance) do(req *http.Request, path string, out interface{}) error {
	log := b.session.Log().WithFields(logger.Fields{"path": path, "method": req.Method})
	start := time.Now()
	body, resp, err := exchange.Send(b.http, req)
	if err != nil {
		return err
	}
	logger.LogPerformanceEntry(log, Name+"_client", "api_request", time.Since(start), logger.Fields{"status": resp.StatusCode})
	if b.usedWeight {
		ratemetrics.ReportUsedWeight(b.session.Logger(), resp.Header, b.weightLimit.Load())
	}

	if resp.StatusCode != http.StatusOK {
		var e apiError
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Msg != "" {
			msg = fmt.Sprintf("%d %s", e.Code, e.Msg)
		}
		return &exchange.VenueError{Venue: Name, Path: path, Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
