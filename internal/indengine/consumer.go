package indengine

import (
	"context"
	"time"

	"fxindicators/internal/indicator"
	"fxindicators/internal/markethours"
)

// consumeQuotes applies feed quotes to the holder until ctx is cancelled.
func (svc *Service) consumeQuotes(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-svc.quotes:
			svc.holder.OnQuote(q)
			svc.prom.QuotesTotal.Inc()
			svc.health.SetLastQuoteTime(q.TS)
		}
	}
}

// scheduleJobs registers the auxiliary cron jobs next to the boundary job.
func (svc *Service) scheduleJobs(ctx context.Context) error {
	every := "@every " + svc.cfg.Engine.DeferCheckEvery.String()
	if err := svc.sched.AddFunc(every, "defer-expiry", func() {
		svc.holder.ExpireDeferred(time.Now())
	}); err != nil {
		return err
	}
	if err := svc.sched.AddFunc(svc.cfg.Engine.PruneCron, "retention", func() {
		svc.prune(ctx, svc.cfg.Engine.HoldDays)
	}); err != nil {
		return err
	}
	if err := svc.sched.AddFunc("@every 15s", "gauges", svc.sampleGauges); err != nil {
		return err
	}
	if svc.chClient != nil {
		if err := svc.sched.AddFunc("@every 30s", "clickhouse-check", func() {
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			start := time.Now()
			err := svc.chClient.Health(pctx)
			svc.health.Record("clickhouse", err, time.Since(start))
		}); err != nil {
			return err
		}
	}
	return nil
}

// prune trims in-memory series and the bar archive to holdDays. Daily
// periods are kept in both.
func (svc *Service) prune(ctx context.Context, holdDays int) indicator.PruneStats {
	stats := svc.holder.Prune(holdDays)
	svc.prom.PrunedRows.Add(float64(stats.Rows))
	svc.prom.PruneDur.Observe(stats.Elapsed.Seconds())

	if svc.sqlWriter != nil {
		var daily []string
		for _, p := range svc.holder.WallPeriods() {
			if p.IsDaily() {
				daily = append(daily, p.Name)
			}
		}
		cutoff := indicator.PruneCutoff(time.Now(), holdDays)
		n, err := svc.sqlWriter.DeleteBefore(ctx, cutoff, daily...)
		if err != nil {
			svc.log.Error().Err(err).Msg("archive retention failed")
		} else if n > 0 {
			svc.log.Info().Int64("bars", n).Time("cutoff", cutoff).Msg("archive trimmed")
		}
	}
	return stats
}

func (svc *Service) sampleGauges() {
	for _, st := range svc.bus.ChannelStats() {
		svc.prom.SetSaturation(st.Name, st.Len, st.Cap)
	}
	svc.prom.SetSaturation("quotes", len(svc.quotes), cap(svc.quotes))
	if markethours.IsMarketOpen(time.Now()) {
		svc.prom.MarketState.Set(1)
	} else {
		svc.prom.MarketState.Set(0)
	}
}
