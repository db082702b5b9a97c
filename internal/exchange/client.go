package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	ratemetrics "tradecore/internal/metrics/rate"
)

// ClientConfig configures the HTTP client of a venue.
type ClientConfig struct {
	Timeout           time.Duration
	UserAgent         string
	SourceIP          string
	RequestsPerSecond int
	Burst             int
	MaxIdleConns      int
	MaxConnsPerHost   int
	IdleConnTimeout   time.Duration
}

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}

// limitTransport waits for the limiter before every request.
type limitTransport struct {
	limiter *rate.Limiter
	base    http.RoundTripper
}

func (t limitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// LocalDialer returns a dialer bound to sourceIP, or a default dialer when
// sourceIP is empty or invalid.
func LocalDialer(sourceIP string) *net.Dialer {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if sourceIP != "" {
		if ip := net.ParseIP(sourceIP); ip != nil {
			dialer.LocalAddr = &net.TCPAddr{IP: ip}
		}
	}
	return dialer
}

// NewHTTPClient builds a pooled client with optional source IP, user agent
// and request rate limit.
func NewHTTPClient(cfg ClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		DialContext:     LocalDialer(cfg.SourceIP).DialContext,
		MaxIdleConns:    cfg.MaxIdleConns,
		MaxConnsPerHost: cfg.MaxConnsPerHost,
		IdleConnTimeout: cfg.IdleConnTimeout,
	}

	var rt http.RoundTripper = transport
	if cfg.UserAgent != "" {
		rt = userAgentTransport{agent: cfg.UserAgent, base: rt}
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.RequestsPerSecond
		}
		rt = limitTransport{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst), base: rt}
	}
	return &http.Client{Transport: rt, Timeout: cfg.Timeout}
}

// Send performs req and reads the whole body. Only transport failures are
// returned as errors; status handling is left to the caller.
func Send(client *http.Client, req *http.Request) ([]byte, *http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp, fmt.Errorf("read %s response: %w", req.URL.Path, err)
	}
	return body, resp, nil
}

// Call runs one signed request through fn, re-running it with a fresh nonce
// when the venue rejects the nonce. Rate limit and ban messages are reported
// as metrics.
func (s *Session) Call(ctx context.Context, operation string, fn func(attempt int) error) error {
	maxRetries := s.settings.MaxNonceRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	isNonce := IsVenueMessage(func(msg string) bool {
		return ratemetrics.IsNonceError(s.name, msg)
	})

	err := WithNonceRetry(ctx, maxRetries, isNonce, func(attempt int) error {
		if attempt > 0 {
			ratemetrics.ReportNonceRetry(s.log, s.name, operation, attempt)
		}
		return fn(attempt)
	})

	var ve *VenueError
	if errors.As(err, &ve) {
		ratemetrics.ReportLimitFromMessage(s.log, s.name, "", operation, ve.Message)
	}
	return err
}
