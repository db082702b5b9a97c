package bitstamp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/exchange"
	"tradecore/internal/market"
	"tradecore/internal/order"
)

type handler func(form url.Values) interface{}

// fakeBitstamp serves the signed REST API under /api/v2/, the public order
// book over GET and the websocket under /ws.
type fakeBitstamp struct {
	mu       sync.Mutex
	handlers map[string]handler
	forms    map[string]url.Values
	channels []string
	conns    int
	// onConnect runs once the subscriptions of a connection are read.
	onConnect func(n int, conn *websocket.Conn)
}

func newFakeBitstamp(t *testing.T) (*fakeBitstamp, *httptest.Server) {
	f := &fakeBitstamp{handlers: map[string]handler{}, forms: map[string]url.Values{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeBitstamp) on(path string, h handler) {
	f.mu.Lock()
	f.handlers[path] = h
	f.mu.Unlock()
}

func (f *fakeBitstamp) form(path string) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[path]
}

func (f *fakeBitstamp) subscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.channels...)
}

func (f *fakeBitstamp) connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns
}

func (f *fakeBitstamp) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/ws" {
		f.serveWS(w, r)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v2/")
	if r.Method == http.MethodGet {
		f.servePublic(w, path)
		return
	}
	_ = r.ParseForm()
	want := exchange.HMACSHA256UpperHex{Secret: []byte("secret")}.Sign(r.PostForm.Get("nonce") + "cust" + "key")
	if r.PostForm.Get("key") != "key" || r.PostForm.Get("signature") != want {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "error", "reason": "Invalid signature", "code": "API0005"})
		return
	}

	f.mu.Lock()
	f.forms[path] = r.PostForm
	h := f.handlers[path]
	f.mu.Unlock()

	if h == nil {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "error", "reason": "Not found"})
		return
	}
	_ = json.NewEncoder(w).Encode(h(r.PostForm))
}

// servePublic answers unsigned GETs. Order books are empty unless a handler
// is registered.
func (f *fakeBitstamp) servePublic(w http.ResponseWriter, path string) {
	f.mu.Lock()
	h := f.handlers[path]
	f.mu.Unlock()
	if h == nil {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"microtimestamp": "0", "bids": [][]string{}, "asks": [][]string{}})
		return
	}
	_ = json.NewEncoder(w).Encode(h(nil))
}

func (f *fakeBitstamp) serveWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	f.mu.Lock()
	f.conns++
	n := f.conns
	f.channels = nil
	onConnect := f.onConnect
	f.mu.Unlock()

	for i := 0; i < 2; i++ {
		var sub subscribeMessage
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		f.mu.Lock()
		f.channels = append(f.channels, sub.Data.Channel)
		f.mu.Unlock()
		_ = conn.WriteJSON(map[string]interface{}{"event": "bts:subscription_succeeded", "channel": sub.Data.Channel, "data": map[string]interface{}{}})
	}
	if onConnect != nil {
		onConnect(n, conn)
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testSettings() exchange.Settings {
	return exchange.Settings{
		Step:         1e-8,
		Quotes:       []string{"btc", "eur", "usd"},
		Accounts:     map[string]string{"eth": "eth", "btc": "btc"},
		Markets:      map[string]string{"ethbtc": "ethbtc"},
		Minimum:      map[string]float64{"btc": 0.001},
		StaggerDelay: time.Millisecond,
	}
}

func newTestExchange(t *testing.T, srv *httptest.Server) (*exchange.Exchange, *Bitstamp) {
	t.Helper()
	s := exchange.NewSession(Name, testSettings(), nil)
	t.Cleanup(func() { _ = s.Close() })
	b := New(s, Config{
		RestURL:    srv.URL + "/api/v2",
		WsURL:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		APIKey:     "key",
		APISecret:  "secret",
		CustomerID: "cust",
		HTTPClient: srv.Client(),
	})
	b.retryDelay = 10 * time.Millisecond
	return exchange.New(s, b), b
}

func initTestExchange(t *testing.T, srv *httptest.Server, opts exchange.Options) (*exchange.Exchange, *Bitstamp, *market.Market) {
	t.Helper()
	e, b := newTestExchange(t, srv)
	markets, err := e.Init(context.Background(), []string{"ethbtc"}, opts)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	return e, b, markets[0]
}

func TestStreamSubscribesAndAppliesDiff(t *testing.T) {
	f, srv := newFakeBitstamp(t)
	f.onConnect = func(_ int, conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]interface{}{
			"event":   "data",
			"channel": "diff_order_book_ethbtc",
			"data": map[string]interface{}{
				"bids": [][]string{{"0.05000000", "2.00000000"}},
				"asks": [][]string{{"0.05010000", "1.00000000"}},
			},
		})
	}
	e, _, m := initTestExchange(t, srv, exchange.Options{})

	assert.Eventually(t, func() bool { return e.GetRate(m) > 0 }, 2*time.Second, 10*time.Millisecond)
	assert.InDelta(t, 0.05005, e.GetRate(m), 1e-12)
	assert.Equal(t, []string{"diff_order_book_ethbtc", "live_orders_ethbtc"}, f.subscribed())
	assert.InDelta(t, 0.001/0.05005, e.GetMinimum(m), 1e-12)
	assert.Equal(t, 1e-8, e.GetStep("ethbtc"))
}

func TestStreamReconnectsOnRequest(t *testing.T) {
	f, srv := newFakeBitstamp(t)
	f.onConnect = func(n int, conn *websocket.Conn) {
		if n == 1 {
			_ = conn.WriteJSON(map[string]interface{}{"event": "bts:request_reconnect", "channel": "", "data": ""})
		}
	}
	initTestExchange(t, srv, exchange.Options{})

	assert.Eventually(t, func() bool { return f.connections() >= 2 }, 3*time.Second, 20*time.Millisecond)
}

func TestStreamResnapshotsOnReconnect(t *testing.T) {
	f, srv := newFakeBitstamp(t)
	f.on("order_book/ethbtc/", func(url.Values) interface{} {
		if f.connections() == 1 {
			return map[string]interface{}{
				"microtimestamp": "100",
				"bids":           [][]string{{"0.05000000", "2.00000000"}},
				"asks":           [][]string{{"0.05100000", "1.00000000"}},
			}
		}
		return map[string]interface{}{
			"microtimestamp": "200",
			"bids":           [][]string{{"0.04800000", "1.00000000"}},
			"asks":           [][]string{{"0.05200000", "1.00000000"}},
		}
	})
	drop := make(chan struct{})
	f.onConnect = func(n int, conn *websocket.Conn) {
		switch n {
		case 1:
			_ = conn.WriteJSON(map[string]interface{}{
				"event":   "data",
				"channel": "diff_order_book_ethbtc",
				"data":    map[string]interface{}{"microtimestamp": "150", "bids": [][]string{{"0.05050000", "1.00000000"}}, "asks": [][]string{}},
			})
			<-drop
			_ = conn.Close()
		case 2:
			_ = conn.WriteJSON(map[string]interface{}{
				"event":   "data",
				"channel": "diff_order_book_ethbtc",
				"data":    map[string]interface{}{"microtimestamp": "250", "bids": [][]string{{"0.04900000", "1.00000000"}}, "asks": [][]string{}},
			})
		}
	}
	_, _, m := initTestExchange(t, srv, exchange.Options{})
	bids := m.Book(market.Buy)

	assert.Eventually(t, func() bool {
		top, ok := bids.Top()
		return ok && top.Rate == 0.0505
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, bids.Len())

	close(drop)
	assert.Eventually(t, func() bool {
		top, ok := bids.Top()
		return f.connections() == 2 && ok && top.Rate == 0.049 && bids.Len() == 2
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []market.BookOrder{{Rate: 0.049, Amount: 1}, {Rate: 0.048, Amount: 1}}, bids.Orders())
	top, ok := m.Book(market.Sell).Top()
	require.True(t, ok)
	assert.Equal(t, 0.052, top.Rate)
}

func TestSnapshotDropsDiffsItAlreadyContains(t *testing.T) {
	_, b, m := newHandlerFixture(t)
	syncs := b.resetBooks([]string{"ethbtc"})

	b.handleMessage([]byte(`{"event":"data","channel":"diff_order_book_ethbtc","data":{"microtimestamp":"90","bids":[["0.047","5"]],"asks":[]}}`))
	b.handleMessage([]byte(`{"event":"data","channel":"diff_order_book_ethbtc","data":{"microtimestamp":"110","bids":[["0.05","0"]],"asks":[]}}`))
	assert.Equal(t, 0, m.Book(market.Buy).Len(), "diffs wait for the snapshot")

	b.applyBookSnapshot("ethbtc", syncs["ethbtc"], bookDiff{
		Microtimestamp: "100",
		Bids:           [][]string{{"0.05", "2"}, {"0.048", "1"}},
	})
	assert.Equal(t, []market.BookOrder{{Rate: 0.048, Amount: 1}}, m.Book(market.Buy).Orders())

	b.handleMessage([]byte(`{"event":"data","channel":"diff_order_book_ethbtc","data":{"microtimestamp":"120","bids":[["0.049","1"]],"asks":[]}}`))
	assert.Equal(t, 2, m.Book(market.Buy).Len())

	stale := syncs["ethbtc"]
	b.resetBooks([]string{"ethbtc"})
	assert.Equal(t, 0, m.Book(market.Buy).Len())
	b.applyBookSnapshot("ethbtc", stale, bookDiff{Bids: [][]string{{"0.05", "2"}}})
	assert.Equal(t, 0, m.Book(market.Buy).Len(), "snapshot of a closed connection is ignored")
}

func TestBuySignsForm(t *testing.T) {
	f, srv := newFakeBitstamp(t)
	f.on("buy/ethbtc/", func(url.Values) interface{} {
		return map[string]interface{}{"id": 1234, "price": "0.05", "amount": "1.5", "type": "0"}
	})
	e, _, _ := initTestExchange(t, srv, exchange.Options{})

	o, err := e.Buy(context.Background(), "ethbtc", 0.05, 1.5)
	require.NoError(t, err)
	assert.Equal(t, "1234", o.OriginID())
	assert.True(t, o.IsOpen())

	form := f.form("buy/ethbtc/")
	assert.Equal(t, "0.05000000", form.Get("price"))
	assert.Equal(t, "1.50000000", form.Get("amount"))
	assert.NotEmpty(t, form.Get("nonce"))
}

func TestSellErrorStatusFailsOrder(t *testing.T) {
	f, srv := newFakeBitstamp(t)
	f.on("sell/ethbtc/", func(url.Values) interface{} {
		return map[string]interface{}{"status": "error", "reason": map[string][]string{"__all__": {"Minimum order size is 0.001 BTC."}}}
	})
	e, _, _ := initTestExchange(t, srv, exchange.Options{})

	o, err := e.Sell(context.Background(), "ethbtc", 0.05, 0.001)
	require.Error(t, err)
	var verr *exchange.VenueError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Message, "Minimum order size")
	assert.Equal(t, order.Failed, o.Status())
}

func TestCancelAndMove(t *testing.T) {
	f, srv := newFakeBitstamp(t)
	var next int
	f.on("buy/ethbtc/", func(url.Values) interface{} {
		next++
		return map[string]interface{}{"id": json.Number(strings.Repeat("9", next))}
	})
	f.on("cancel_order/", func(form url.Values) interface{} {
		return map[string]interface{}{"id": form.Get("id"), "amount": 1, "price": 0.05, "type": 0}
	})
	e, _, _ := initTestExchange(t, srv, exchange.Options{})

	o, err := e.Buy(context.Background(), "ethbtc", 0.05, 1)
	require.NoError(t, err)
	moved, err := e.Move(context.Background(), "ethbtc", o, 0.051, 0)
	require.NoError(t, err)

	assert.Equal(t, order.Canceled, o.Status())
	assert.Equal(t, "9", f.form("cancel_order/").Get("id"))
	assert.Equal(t, "99", moved.OriginID())
	assert.Equal(t, "0.05100000", f.form("buy/ethbtc/").Get("price"))
}

func TestBalanceAndAddress(t *testing.T) {
	f, srv := newFakeBitstamp(t)
	f.on("balance/", func(url.Values) interface{} {
		return map[string]interface{}{"eth_available": "1.25000000", "eth_balance": "2.00000000", "btc_available": "0.10000000"}
	})
	f.on("eth_address/", func(url.Values) interface{} {
		return map[string]interface{}{"address": "0xabc"}
	})
	f.on("btc_address/", func(url.Values) interface{} {
		return map[string]interface{}{"address": "bc1q"}
	})
	e, _, _ := initTestExchange(t, srv, exchange.Options{Trade: true})

	acc, err := e.Balance(context.Background(), "eth")
	require.NoError(t, err)
	assert.Equal(t, 1.25, acc.Amount())

	acc, err = e.Address(context.Background(), "eth")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", acc.Address())
}

func TestMissingCredentials(t *testing.T) {
	s := exchange.NewSession(Name, testSettings(), nil)
	t.Cleanup(func() { _ = s.Close() })
	b := New(s, Config{})
	m, err := s.AddMarket("ethbtc")
	require.NoError(t, err)

	err = b.Buy(context.Background(), m, order.New(market.Buy, 0.05, 1))
	assert.ErrorContains(t, err, "missing credentials")
}

func TestTransferNotImplemented(t *testing.T) {
	s := exchange.NewSession(Name, testSettings(), nil)
	t.Cleanup(func() { _ = s.Close() })
	b := New(s, Config{})
	assert.ErrorIs(t, b.Transfer(context.Background(), nil), exchange.ErrNotImplemented)
}

func newHandlerFixture(t *testing.T) (*exchange.Session, *Bitstamp, *market.Market) {
	t.Helper()
	s := exchange.NewSession(Name, testSettings(), nil)
	t.Cleanup(func() { _ = s.Close() })
	m, err := s.AddMarket("ethbtc")
	require.NoError(t, err)
	return s, New(s, Config{}), m
}

func openOrder(t *testing.T, s *exchange.Session, side market.Side, rate, amount float64, originID string) *order.Order {
	t.Helper()
	o := order.New(side, rate, amount)
	require.NoError(t, o.Update(order.WithOriginID(originID)))
	s.ObserveOrder(o)
	return o
}

func TestHandleMessageDiffRemovesAndFiltersOwnOrders(t *testing.T) {
	s, b, m := newHandlerFixture(t)
	openOrder(t, s, market.Buy, 0.049, 3, "1")

	assert.False(t, b.handleMessage([]byte(`{"event":"data","channel":"diff_order_book_ethbtc","data":{"bids":[["0.05","2"],["0.049","3"]],"asks":[["0.051","1"]]}}`)))
	assert.Equal(t, 1, m.Book(market.Buy).Len())
	assert.Equal(t, 1, m.Book(market.Sell).Len())

	b.handleMessage([]byte(`{"event":"data","channel":"diff_order_book_ethbtc","data":{"bids":[["0.05","0"]],"asks":[]}}`))
	assert.Equal(t, 0, m.Book(market.Buy).Len())
}

func TestHandleMessageIgnoresUnknown(t *testing.T) {
	_, b, m := newHandlerFixture(t)

	assert.False(t, b.handleMessage([]byte(`not json`)))
	assert.False(t, b.handleMessage([]byte(`{"event":"data","channel":"diff_order_book_xrpbtc","data":{"bids":[["1","1"]]}}`)))
	assert.False(t, b.handleMessage([]byte(`{"event":"trade","channel":"live_trades_ethbtc","data":{}}`)))
	assert.Equal(t, 0, m.Book(market.Buy).Len())
	assert.True(t, b.handleMessage([]byte(`{"event":"bts:request_reconnect","channel":"","data":""}`)))
}

func TestOrderDeleted(t *testing.T) {
	tests := []struct {
		name       string
		remaining  string
		wantStatus order.Status
		wantFilled float64
	}{
		{name: "filled", remaining: "0", wantStatus: order.Filled, wantFilled: 1},
		{name: "partially filled then canceled", remaining: "0.4", wantStatus: order.Filled, wantFilled: 0.6},
		{name: "canceled untouched", remaining: "1", wantStatus: order.Canceled, wantFilled: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, b, _ := newHandlerFixture(t)
			o := openOrder(t, s, market.Sell, 0.05, 1, "42")

			b.handleMessage([]byte(`{"event":"order_deleted","channel":"live_orders_ethbtc","data":{"id":42,"amount":` + tt.remaining + `,"price":0.05,"order_type":1}}`))

			assert.Equal(t, tt.wantStatus, o.Status())
			assert.InDelta(t, tt.wantFilled, o.AmountFilled(), 1e-12)
		})
	}
}

func TestOrderDeletedUnknownOrder(t *testing.T) {
	s, b, _ := newHandlerFixture(t)
	o := openOrder(t, s, market.Buy, 0.05, 1, "42")

	b.handleMessage([]byte(`{"event":"order_deleted","channel":"live_orders_ethbtc","data":{"id":7,"amount":0}}`))
	assert.True(t, o.IsOpen())
	assert.Equal(t, 1, s.PendingReports())
}

func TestOrderDeletedBeforeSubmitReturns(t *testing.T) {
	f, srv := newFakeBitstamp(t)
	e, b, _ := initTestExchange(t, srv, exchange.Options{})
	f.on("buy/ethbtc/", func(url.Values) interface{} {
		// the deletion reaches the stream before the REST response
		b.handleMessage([]byte(`{"event":"order_deleted","channel":"live_orders_ethbtc","data":{"id":1234,"amount":0}}`))
		return map[string]interface{}{"id": 1234}
	})

	o, err := e.Buy(context.Background(), "ethbtc", 0.05, 1)
	require.NoError(t, err)
	assert.Equal(t, order.Filled, o.Status())
	assert.Equal(t, 1.0, o.AmountFilled())
	assert.Empty(t, e.Orders())
}

func TestReasonFormats(t *testing.T) {
	assert.Equal(t, "Invalid nonce", reason(json.RawMessage(`"Invalid nonce"`)))
	assert.Equal(t, "amount: too small", reason(json.RawMessage(`{"amount":["too","small"]}`)))
	assert.Equal(t, "42", reason(json.RawMessage(`42`)))
}
