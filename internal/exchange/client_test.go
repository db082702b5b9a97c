package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	client := NewHTTPClient(ClientConfig{Timeout: time.Second, UserAgent: "tradecore/test"})
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	body, resp, err := Send(client, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "tradecore/test", string(body))
}

func TestHTTPClientRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client := NewHTTPClient(ClientConfig{Timeout: time.Second, RequestsPerSecond: 1, Burst: 1})

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, _, err = Send(client, req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, _, err = Send(client, req)
	assert.Error(t, err)
}

func TestLocalDialer(t *testing.T) {
	assert.Nil(t, LocalDialer("").LocalAddr)
	assert.Nil(t, LocalDialer("not-an-ip").LocalAddr)
	assert.NotNil(t, LocalDialer("127.0.0.1").LocalAddr)
}
