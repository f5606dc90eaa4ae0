package execution

import (
	"context"
	"log/slog"

	"trading-engine/internal/logger"
	"trading-engine/internal/model"

	"github.com/shopspring/decimal"
)

// BracketRequest is an entry with a protective stop and an optional
// profit target. A zero Target means no target leg.
type BracketRequest struct {
	Symbol   string          `json:"symbol"`
	Side     model.Side      `json:"side"`
	Quantity int64           `json:"quantity"`
	Entry    decimal.Decimal `json:"entry"`
	Stop     decimal.Decimal `json:"stop"`
	Target   decimal.Decimal `json:"target"`
}

// BracketResult holds the legs that were placed. Stop and Target are nil
// when the entry did not fill.
type BracketResult struct {
	Entry  model.Order  `json:"entry"`
	Stop   *model.Order `json:"stop,omitempty"`
	Target *model.Order `json:"target,omitempty"`
}

// PlaceBracketOrder places the entry as a gated limit order. Only once it has
// filled are the stop and target placed, on the opposite side, directly on
// the venue.
func (m *Manager) PlaceBracketOrder(ctx context.Context, req BracketRequest) (BracketResult, error) {
	if err := m.validateBracket(req); err != nil {
		return BracketResult{}, m.reject(ctx, OrderRequest{Symbol: req.Symbol, Side: req.Side, Quantity: req.Quantity}, err)
	}

	entry, err := m.PlaceOrder(ctx, OrderRequest{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Type:       model.OrderLimit,
		LimitPrice: req.Entry,
	})
	if err != nil {
		return BracketResult{}, err
	}
	res := BracketResult{Entry: entry}
	if entry.Status != model.StatusFilled {
		return res, nil
	}

	ctx = logger.EnsureTraceID(ctx, entry.Symbol, m.now())
	exit := req.Side.Opposite()

	stop, err := m.venue.PlaceStopOrder(ctx, entry.Symbol, entry.FilledQuantity, exit, req.Stop)
	if err != nil {
		m.log.Error("bracket stop leg failed",
			append(logger.Attrs(ctx), slog.String("entry_id", entry.ID), slog.Any("error", err))...)
		return res, err
	}
	res.Stop = &stop

	if req.Target.IsPositive() {
		target, err := m.venue.PlaceLimitOrder(ctx, entry.Symbol, entry.FilledQuantity, exit, req.Target)
		if err != nil {
			m.log.Error("bracket target leg failed",
				append(logger.Attrs(ctx), slog.String("entry_id", entry.ID), slog.Any("error", err))...)
			return res, err
		}
		res.Target = &target
	}
	return res, nil
}

func (m *Manager) validateBracket(req BracketRequest) error {
	if !req.Entry.IsPositive() || !req.Stop.IsPositive() || req.Target.IsNegative() {
		return model.Reject(model.ErrInvalidBracket, "Bracket prices must be positive")
	}
	hasTarget := req.Target.IsPositive()

	switch req.Side {
	case model.SideBuy:
		if !req.Stop.LessThan(req.Entry) || (hasTarget && !req.Entry.LessThan(req.Target)) {
			return model.Reject(model.ErrInvalidBracket, "BUY bracket requires stop < entry < target")
		}
	case model.SideSell:
		if !req.Stop.GreaterThan(req.Entry) || (hasTarget && !req.Target.LessThan(req.Entry)) {
			return model.Reject(model.ErrInvalidBracket, "SELL bracket requires target < entry < stop")
		}
	default:
		return model.Reject(model.ErrInvalidInput, "Invalid side %q: must be BUY or SELL", string(req.Side))
	}

	if hasTarget {
		rr, _ := req.Target.Sub(req.Entry).Abs().Div(req.Entry.Sub(req.Stop).Abs()).Float64()
		if rr < m.cfg.MinRewardRisk {
			return model.Reject(model.ErrInvalidBracket, "Reward:risk %.2f is below minimum %.2f", rr, m.cfg.MinRewardRisk)
		}
	}
	return nil
}
