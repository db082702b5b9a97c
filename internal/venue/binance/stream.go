package binance

import (
	"context"
	"strconv"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"

	"tradecore/internal/exchange"
	"tradecore/internal/market"
	"tradecore/internal/order"
	"tradecore/logger"
)

// serve keeps a go-binance stream open until ctx is done. onOpen runs after
// each successful connect; the stream is reopened after retryDelay when it
// ends or onOpen fails.
func (b *Binance) serve(ctx context.Context, log *logger.Entry, open func() (chan struct{}, chan struct{}, error), onOpen func(ctx context.Context) error) error {
	for {
		doneC, stopC, err := open()
		if err != nil {
			log.WithError(err).Warn("failed to open stream")
		} else {
			if onOpen != nil {
				if err := onOpen(ctx); err != nil {
					log.WithError(err).Warn("stream setup failed")
					close(stopC)
					<-doneC
					doneC = nil
				}
			}
			if doneC != nil {
				select {
				case <-ctx.Done():
					close(stopC)
					<-doneC
					return nil
				case <-doneC:
					log.Warn("stream closed")
				}
			}
		}

		logger.IncrementRetryCount()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.retryDelay):
		}
	}
}

// depthSync buffers diff events until the REST snapshot is applied and drops
// events the snapshot already covers.
type depthSync struct {
	mu      sync.Mutex
	ready   bool
	lastID  int64
	pending []*gobinance.WsDepthEvent
}

func (b *Binance) streamDepth(ctx context.Context, m *market.Market) error {
	pair, err := b.session.PairSymbol(m.Type)
	if err != nil {
		return err
	}
	log := b.session.Log().WithFields(logger.Fields{"market": m.Type, "worker": "depth_stream"})

	var current *depthSync
	errHandler := func(err error) {
		if err != nil {
			log.WithError(err).Warn("websocket error")
		}
	}
	open := func() (chan struct{}, chan struct{}, error) {
		st := &depthSync{}
		current = st
		return b.depthServe(pair, func(event *gobinance.WsDepthEvent) {
			b.onDepthEvent(m, st, event)
		}, errHandler)
	}
	snapshot := func(ctx context.Context) error {
		res, err := b.client.NewDepthService().Symbol(pair).Limit(b.session.Settings().Depth).Do(ctx)
		if err != nil {
			return err
		}
		snap := exchange.Snapshot{
			Bids: make([]market.BookOrder, 0, len(res.Bids)),
			Asks: make([]market.BookOrder, 0, len(res.Asks)),
		}
		for _, bid := range res.Bids {
			snap.Bids = append(snap.Bids, market.BookOrder{Rate: exchange.ParseDecimal(bid.Price), Amount: exchange.ParseDecimal(bid.Quantity)})
		}
		for _, ask := range res.Asks {
			snap.Asks = append(snap.Asks, market.BookOrder{Rate: exchange.ParseDecimal(ask.Price), Amount: exchange.ParseDecimal(ask.Quantity)})
		}
		b.loadSnapshot(m, current, res.LastUpdateID, snap)
		return nil
	}
	return b.serve(ctx, log, open, snapshot)
}

func (b *Binance) loadSnapshot(m *market.Market, st *depthSync, lastUpdateID int64, snap exchange.Snapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()
	b.session.ApplySnapshot(m, snap)
	logger.IncrementBookUpdate(Name+"_depth", len(snap.Bids)+len(snap.Asks))
	st.lastID = lastUpdateID
	st.ready = true
	for _, event := range st.pending {
		if event.LastUpdateID > st.lastID {
			st.lastID = event.LastUpdateID
			b.applyDepthEvent(m, event)
		}
	}
	st.pending = nil
}

func (b *Binance) onDepthEvent(m *market.Market, st *depthSync, event *gobinance.WsDepthEvent) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.ready {
		st.pending = append(st.pending, event)
		return
	}
	if event.LastUpdateID <= st.lastID {
		return
	}
	st.lastID = event.LastUpdateID
	b.applyDepthEvent(m, event)
}

func (b *Binance) applyDepthEvent(m *market.Market, event *gobinance.WsDepthEvent) {
	for _, bid := range event.Bids {
		b.session.ApplyBookOrder(m, market.Buy, market.BookOrder{Rate: exchange.ParseDecimal(bid.Price), Amount: exchange.ParseDecimal(bid.Quantity)})
	}
	for _, ask := range event.Asks {
		b.session.ApplyBookOrder(m, market.Sell, market.BookOrder{Rate: exchange.ParseDecimal(ask.Price), Amount: exchange.ParseDecimal(ask.Quantity)})
	}
	logger.IncrementBookUpdate(Name+"_depth", len(event.Bids)+len(event.Asks))
}

func (b *Binance) keepalive(ctx context.Context, listenKey string) error {
	poller := exchange.Poller{Name: Name + "_user_stream", Interval: keepaliveInterval, Log: b.session.Logger()}
	return poller.Run(ctx, func(ctx context.Context) error {
		return b.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx)
	})
}

func (b *Binance) streamUserData(ctx context.Context, listenKey string) error {
	log := b.session.Log().WithFields(logger.Fields{"worker": "user_stream"})
	handler := func(event *gobinance.WsUserDataEvent) {
		if string(event.Event) != "executionReport" {
			return
		}
		u := event.OrderUpdate
		b.handleExecutionReport(executionReport{
			Symbol:             u.Symbol,
			ExecutionType:      string(u.ExecutionType),
			Status:             string(u.Status),
			OrderID:            strconv.FormatInt(u.Id, 10),
			LastQuantity:       u.LatestVolume,
			CumulativeQuantity: u.FilledVolume,
			FeeAsset:           u.FeeAsset,
			FeeAmount:          u.FeeCost,
		})
	}
	errHandler := func(err error) {
		if err != nil {
			log.WithError(err).Warn("websocket error")
		}
	}
	return b.serve(ctx, log, func() (chan struct{}, chan struct{}, error) {
		return b.userDataServe(listenKey, handler, errHandler)
	}, nil)
}

// executionReport is the part of an order update the session consumes.
type executionReport struct {
	Symbol             string
	ExecutionType      string
	Status             string
	OrderID            string
	LastQuantity       string
	CumulativeQuantity string
	FeeAsset           string
	FeeAmount          string
}

// handleExecutionReport applies a trade to the matching open order and
// closes it on a terminal status. Reports for an order whose submit has not
// returned yet are replayed once its origin id is bound.
func (b *Binance) handleExecutionReport(r executionReport) {
	b.session.ApplyOrderReport(r.OrderID, func(o *order.Order) { b.applyExecutionReport(o, r) })
}

// applyExecutionReport counts the fee only when it is charged in the asset
// the order receives.
func (b *Binance) applyExecutionReport(o *order.Order, r executionReport) {
	log := b.session.Log().WithFields(logger.Fields{
		"order_id":  o.ID(),
		"origin_id": r.OrderID,
		"execution": r.ExecutionType,
		"status":    r.Status,
	})

	if r.ExecutionType == "TRADE" {
		target := ""
		if typ, ok := b.session.MarketType(r.Symbol); ok {
			if m, ok := b.session.FindMarket(typ); ok {
				target = m.AssetTarget(o.Side())
			}
		}
		assetFee, _ := b.session.AccountType(r.FeeAsset)
		fee := 0.0
		if assetFee != "" && assetFee == target {
			fee = exchange.ParseDecimal(r.FeeAmount)
		}
		last := exchange.ParseDecimal(r.LastQuantity)
		funded := last
		if o.Side() == market.Sell {
			funded = last - fee
		}

		err := o.Update(
			order.WithAmountFilled(exchange.ParseDecimal(r.CumulativeQuantity)),
			order.WithAmountFunded(o.AmountFunded()+funded),
			order.WithAmountFee(o.AmountFee()+fee),
			order.WithAssetFee(assetFee),
		)
		if err != nil {
			log.WithError(err).Debug("order update ignored")
			return
		}
	}

	if !o.IsOpen() {
		return
	}
	switch r.Status {
	case "FILLED", "REJECTED":
		_ = o.Close("")
	case "EXPIRED", "CANCELED":
		_ = o.Close(order.Canceled)
	default:
		return
	}
	log.Info("order closed")
}
