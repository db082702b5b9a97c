package exchange

import (
	"time"

	"tradecore/internal/order"
	"tradecore/logger"
)

// Venue reports can beat the submit response that carries the origin id.
// They are held per origin id until the order is bound or they expire.
const (
	pendingReportTTL  = time.Minute
	maxPendingReports = 256
)

type pendingReport struct {
	apply func(*order.Order)
	at    time.Time
}

// ApplyOrderReport runs apply on the open order with originID. When no order
// carries that id yet the report is held for BindOrigin.
func (s *Session) ApplyOrderReport(originID string, apply func(*order.Order)) {
	s.pendingMu.Lock()
	o, ok := s.FindOrder(originID)
	if !ok {
		s.deferReportLocked(originID, apply)
		s.pendingMu.Unlock()
		return
	}
	s.pendingMu.Unlock()
	apply(o)
}

// BindOrigin records the venue ids of o, then replays the reports that
// arrived for originID before it was known.
func (s *Session) BindOrigin(o *order.Order, originID string, opts ...order.Option) error {
	s.pendingMu.Lock()
	err := o.Update(append([]order.Option{order.WithOriginID(originID)}, opts...)...)
	reports := s.pending[originID]
	delete(s.pending, originID)
	s.pendingCount -= len(reports)
	s.pendingMu.Unlock()
	if err != nil {
		return err
	}
	if len(reports) > 0 {
		s.Log().WithFields(logger.Fields{"order_id": o.ID(), "origin_id": originID, "reports": len(reports)}).Debug("replaying early order reports")
	}
	for _, r := range reports {
		r.apply(o)
	}
	return nil
}

func (s *Session) deferReportLocked(originID string, apply func(*order.Order)) {
	if originID == "" {
		return
	}
	now := time.Now()
	s.expireReportsLocked(now)
	if s.pendingCount >= maxPendingReports {
		s.Log().WithFields(logger.Fields{"origin_id": originID}).Warn("pending order reports full, dropping report")
		return
	}
	if s.pending == nil {
		s.pending = map[string][]pendingReport{}
	}
	s.pending[originID] = append(s.pending[originID], pendingReport{apply: apply, at: now})
	s.pendingCount++
}

func (s *Session) expireReportsLocked(now time.Time) {
	for id, reports := range s.pending {
		if now.Sub(reports[0].at) > pendingReportTTL {
			s.pendingCount -= len(reports)
			delete(s.pending, id)
		}
	}
}

// PendingReports counts the reports held for unknown origin ids.
func (s *Session) PendingReports() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return s.pendingCount
}
