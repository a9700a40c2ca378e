package monitor

import (
	"context"
	"fmt"
	"time"

	"feedwatch/internal/config"
	"feedwatch/internal/credentials"
	"feedwatch/internal/notify"
	logx "feedwatch/pkg/logx"
)

type priceTicker struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// pollPrices fetches the spot price and alerts when it crosses the entity's
// threshold. Alerts fire on the transition only; staying on one side of the
// line across consecutive slots is quiet. One alert per direction per UTC day.
func (m *Monitor) pollPrices(ctx context.Context, ent config.EntityConfig, cred *credentials.Credential, log logx.Logger) error {
	var tick priceTicker
	if err := m.getJSON(ctx, cred, ent.Feed, &tick); err != nil {
		return err
	}
	if tick.Price <= 0 {
		return fmt.Errorf("feed %s: non-positive price %v", ent.Feed, tick.Price)
	}

	m.pmu.Lock()
	prev, hadPrev := m.lastPrice[ent.ID]
	m.lastPrice[ent.ID] = tick.Price
	m.pmu.Unlock()

	log.Debug("price observed",
		logx.String("symbol", tick.Symbol), logx.Float64("price", tick.Price))

	if ent.Threshold <= 0 || !hadPrev {
		return nil
	}

	var dir string
	switch {
	case prev < ent.Threshold && tick.Price >= ent.Threshold:
		dir = "above"
	case prev > ent.Threshold && tick.Price <= ent.Threshold:
		dir = "below"
	default:
		return nil
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("price:%s:%s:%s", ent.ID, dir, now.Format("2006-01-02"))
	if m.wasSeen(ctx, key) {
		return nil
	}
	m.relay(ctx, notify.Message{
		EntityID: ent.ID,
		Kind:     config.KindPrices,
		Title:    fmt.Sprintf("%s crossed %s %.2f", symbolOr(tick.Symbol, ent.ID), dir, ent.Threshold),
		Text:     fmt.Sprintf("now %.2f (was %.2f)", tick.Price, prev),
	})
	endOfDay := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	m.markSeen(ctx, key, time.Until(endOfDay))
	log.Info("price alert relayed",
		logx.String("direction", dir), logx.Float64("price", tick.Price))
	return nil
}

func symbolOr(symbol, fallback string) string {
	if symbol != "" {
		return symbol
	}
	return fallback
}
