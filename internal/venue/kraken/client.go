package kraken

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradecore/internal/exchange"
	"tradecore/logger"
)

type response struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// public performs GET public/<method>.
func (k *Kraken) public(ctx context.Context, method string, params url.Values, out interface{}) error {
	endpoint := k.restURL + "public/" + method
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	return k.do(req, "public/"+method, out)
}

// private performs a signed POST private/<method>. Each attempt carries a
// fresh nonce so a stale nonce rejection can be retried.
func (k *Kraken) private(ctx context.Context, method string, params url.Values, out interface{}) error {
	if k.signer == nil {
		return fmt.Errorf("%s %s: missing credentials", Name, method)
	}
	path := k.basePath + "private/" + method
	return k.session.Call(ctx, method, func(int) error {
		form := url.Values{}
		for key, vals := range params {
			form[key] = append([]string(nil), vals...)
		}
		nonce := strconv.FormatInt(k.nonces.Next(), 10)
		form.Set("nonce", nonce)
		body := form.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.restURL+"private/"+method, bytes.NewBufferString(body))
		if err != nil {
			return fmt.Errorf("build %s request: %w", method, err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("API-Key", k.apiKey)
		req.Header.Set("API-Sign", k.signer.SignRequest(path, nonce, body))
		return k.do(req, "private/"+method, out)
	})
}

func (k *Kraken) do(req *http.Request, path string, out interface{}) error {
	log := k.session.Log().WithFields(logger.Fields{"path": path})
	start := time.Now()
	body, resp, err := exchange.Send(k.client, req)
	if err != nil {
		return err
	}
	logger.LogPerformanceEntry(log, Name+"_client", "api_request", time.Since(start), logger.Fields{"status": resp.StatusCode})

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &exchange.VenueError{Venue: Name, Path: path, Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	if len(r.Error) > 0 {
		return &exchange.VenueError{Venue: Name, Path: path, Status: resp.StatusCode, Message: strings.Join(r.Error, ", ")}
	}
	if resp.StatusCode != http.StatusOK {
		return &exchange.VenueError{Venue: Name, Path: path, Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	if out == nil || len(r.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", path, err)
	}
	return nil
}
