package bitstamp

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tradecore/internal/exchange"
	"tradecore/internal/market"
	ratemetrics "tradecore/internal/metrics/rate"
	"tradecore/internal/order"
	"tradecore/logger"
)

const (
	bookChannel   = "diff_order_book_"
	ordersChannel = "live_orders_"

	maxBufferedDiffs = 1000
)

type subscribeData struct {
	Channel string `json:"channel"`
}

type subscribeMessage struct {
	Event string        `json:"event"`
	Data  subscribeData `json:"data"`
}

type wsMessage struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// bookDiff is both a diff_order_book message and the order_book snapshot.
type bookDiff struct {
	Microtimestamp string     `json:"microtimestamp"`
	Bids           [][]string `json:"bids"`
	Asks           [][]string `json:"asks"`
}

// bookSync holds the diffs of one pair until the snapshot of the current
// connection is applied.
type bookSync struct {
	ready  bool
	buffer []bookDiff
}

type liveOrder struct {
	ID     json.Number `json:"id"`
	Amount json.Number `json:"amount"`
}

// stream keeps one websocket subscribed to channels until ctx is done.
func (b *Bitstamp) stream(ctx context.Context, channels []string) error {
	log := b.session.Log().WithFields(logger.Fields{"worker": "ws_stream", "channels": len(channels)})
	var pairs []string
	for _, ch := range channels {
		if pair, ok := strings.CutPrefix(ch, bookChannel); ok {
			pairs = append(pairs, pair)
		}
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		if b.sourceIP != "" {
			dialer.NetDialContext = exchange.LocalDialer(b.sourceIP).DialContext
		}

		b.weights.RegisterConnectionAttempt()
		log.WithField("url", b.wsURL).Debug("connecting to websocket")
		conn, _, err := dialer.DialContext(ctx, b.wsURL, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect websocket, retrying")
			logger.IncrementRetryCount()
			select {
			case <-time.After(b.retryDelay):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		log.Info("websocket connected")

		syncs := b.resetBooks(pairs)
		if err := b.subscribe(ctx, conn, channels); err != nil {
			log.WithError(err).Warn("failed to subscribe")
			conn.Close()
			logger.IncrementRetryCount()
			continue
		}
		ratemetrics.ReportWSWeight(b.session.Logger(), b.weights, Name+"_ws")

		connCtx, cancelConn := context.WithCancel(ctx)
		b.session.Go(func(context.Context) error {
			b.syncBooks(connCtx, log, syncs)
			return nil
		})
		b.read(ctx, log, conn)
		cancelConn()

		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *Bitstamp) subscribe(ctx context.Context, conn *websocket.Conn, channels []string) error {
	var werr error
	err := exchange.Stagger(ctx, len(channels), b.session.Settings().StaggerDelay, func(i int) {
		if werr != nil {
			return
		}
		werr = conn.WriteJSON(subscribeMessage{Event: "bts:subscribe", Data: subscribeData{Channel: channels[i]}})
		b.weights.RegisterOutgoing(1)
	})
	if werr != nil {
		return werr
	}
	return err
}

// read pumps messages until the connection fails, the venue asks for a
// reconnect or ctx is done.
func (b *Bitstamp) read(ctx context.Context, log *logger.Entry, conn *websocket.Conn) {
	pingTicker := time.NewTicker(b.pingInterval)
	done := make(chan struct{})
	go func() {
		defer pingTicker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-pingTicker.C:
				if conn.WriteJSON(map[string]string{"event": "bts:heartbeat"}) == nil {
					b.weights.RegisterOutgoing(1)
				}
			}
		}
	}()
	defer func() {
		close(done)
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Warn("websocket read error, reconnecting")
				logger.IncrementRetryCount()
			}
			return
		}
		if b.handleMessage(msg) {
			log.Info("reconnect requested")
			return
		}
	}
}

// handleMessage dispatches one websocket message and reports whether the
// connection should be reopened.
func (b *Bitstamp) handleMessage(msg []byte) bool {
	var m wsMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		b.session.Log().WithError(err).Debug("failed to decode message")
		return false
	}
	switch m.Event {
	case "bts:request_reconnect":
		return true
	case "bts:subscription_succeeded", "bts:heartbeat":
		b.session.Log().WithFields(logger.Fields{"event": m.Event, "channel": m.Channel}).Debug("received event message")
	case "data":
		if pair, ok := strings.CutPrefix(m.Channel, bookChannel); ok {
			var diff bookDiff
			if err := json.Unmarshal(m.Data, &diff); err != nil {
				b.session.Log().WithError(err).Debug("failed to decode book diff")
				return false
			}
			b.onBookDiff(pair, diff)
		}
	case "order_deleted":
		if strings.HasPrefix(m.Channel, ordersChannel) {
			var lo liveOrder
			if err := json.Unmarshal(m.Data, &lo); err != nil {
				b.session.Log().WithError(err).Debug("failed to decode live order")
				return false
			}
			b.orderDeleted(lo)
		}
	}
	return false
}

// resetBooks empties the books of pairs and starts buffering their diffs.
// Levels seen on a previous connection never survive a reconnect.
func (b *Bitstamp) resetBooks(pairs []string) map[string]*bookSync {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.books = make(map[string]*bookSync, len(pairs))
	for _, pair := range pairs {
		b.books[pair] = &bookSync{}
		if m, ok := b.market(pair); ok {
			b.session.ApplySnapshot(m, exchange.Snapshot{})
		}
	}
	return b.books
}

// syncBooks fetches the REST snapshot of every pair, retrying until it lands
// or the connection ends.
func (b *Bitstamp) syncBooks(ctx context.Context, log *logger.Entry, syncs map[string]*bookSync) {
	pairs := make([]string, 0, len(syncs))
	for pair := range syncs {
		pairs = append(pairs, pair)
	}
	_ = exchange.Stagger(ctx, len(pairs), b.session.Settings().StaggerDelay, func(i int) {
		pair := pairs[i]
		for {
			var snap bookDiff
			err := b.public(ctx, "order_book/"+pair+"/", &snap)
			if err == nil {
				b.applyBookSnapshot(pair, syncs[pair], snap)
				return
			}
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).WithFields(logger.Fields{"pair": pair}).Warn("failed to fetch order book, retrying")
			logger.IncrementRetryCount()
			select {
			case <-time.After(b.retryDelay):
			case <-ctx.Done():
				return
			}
		}
	})
}

// applyBookSnapshot resets the book of pair and replays the buffered diffs
// newer than the snapshot. A snapshot of a superseded connection is dropped.
func (b *Bitstamp) applyBookSnapshot(pair string, st *bookSync, snap bookDiff) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.books[pair] != st {
		return
	}
	m, ok := b.market(pair)
	if !ok {
		return
	}
	b.session.ApplySnapshot(m, exchange.Snapshot{Bids: levels(snap.Bids), Asks: levels(snap.Asks)})
	at := microtime(snap.Microtimestamp)
	applied := 0
	for _, diff := range st.buffer {
		if ts := microtime(diff.Microtimestamp); at > 0 && ts > 0 && ts <= at {
			continue
		}
		b.applyDiff(m, diff)
		applied++
	}
	st.buffer = nil
	st.ready = true
	b.session.Log().WithFields(logger.Fields{"pair": pair, "replayed": applied}).Debug("order book synchronised")
}

// onBookDiff applies diff to the book of pair, or buffers it while the
// snapshot of the current connection is pending.
func (b *Bitstamp) onBookDiff(pair string, diff bookDiff) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.books[pair]; ok && !st.ready {
		if len(st.buffer) >= maxBufferedDiffs {
			st.buffer = st.buffer[1:]
		}
		st.buffer = append(st.buffer, diff)
		return
	}
	if m, ok := b.market(pair); ok {
		b.applyDiff(m, diff)
	}
}

func (b *Bitstamp) market(pair string) (*market.Market, bool) {
	typ, ok := b.session.MarketType(pair)
	if !ok {
		return nil, false
	}
	return b.session.FindMarket(typ)
}

// applyDiff merges a book diff; a zero amount removes the level.
func (b *Bitstamp) applyDiff(m *market.Market, diff bookDiff) {
	apply := func(side market.Side, levels [][]string) int {
		n := 0
		for _, level := range levels {
			if len(level) < 2 {
				continue
			}
			b.session.ApplyBookOrder(m, side, market.BookOrder{
				Rate:   exchange.ParseDecimal(level[0]),
				Amount: exchange.ParseDecimal(level[1]),
			})
			n++
		}
		return n
	}
	n := apply(market.Buy, diff.Bids) + apply(market.Sell, diff.Asks)
	logger.IncrementBookUpdate(Name+"_depth", n)
}

func levels(raw [][]string) []market.BookOrder {
	out := make([]market.BookOrder, 0, len(raw))
	for _, level := range raw {
		if len(level) < 2 {
			continue
		}
		out = append(out, market.BookOrder{Rate: exchange.ParseDecimal(level[0]), Amount: exchange.ParseDecimal(level[1])})
	}
	return out
}

func microtime(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

// orderDeleted settles an order that left the book. A remaining amount means
// the order was canceled after a partial fill, none means it filled.
func (b *Bitstamp) orderDeleted(lo liveOrder) {
	b.session.ApplyOrderReport(lo.ID.String(), func(o *order.Order) { b.settleDeleted(o, lo) })
}

func (b *Bitstamp) settleDeleted(o *order.Order, lo liveOrder) {
	if !o.IsOpen() {
		return
	}
	remaining := exchange.ParseDecimal(lo.Amount.String())
	log := b.session.Log().WithFields(logger.Fields{"order_id": o.ID(), "origin_id": lo.ID.String(), "remaining": remaining})

	if remaining > 0 {
		filled := o.Amount() - remaining
		if filled > 0 {
			if err := o.Update(order.WithAmountFilled(filled)); err != nil {
				log.WithError(err).Debug("order update ignored")
			}
		}
		if o.IsOpen() {
			_ = o.Close(order.Canceled)
		}
	} else if err := o.Update(order.WithAmountFilled(o.Amount())); err != nil {
		log.WithError(err).Debug("order update ignored")
	}
	log.Info("order closed")
}
