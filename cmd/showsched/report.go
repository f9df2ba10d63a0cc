package main

import (
	"context"

	appLog "showsched/internal/log"
	"showsched/internal/model"
	"showsched/internal/schedule"
	"showsched/internal/store"
)

// reportStats logs inventory for every root event that has not ended yet.
// Occurrences are reported under their own IDs by the listing endpoints,
// not here.
func reportStats(ctx context.Context, svc *schedule.Service) []model.EventStats {
	events, err := svc.FindEvents(ctx, store.EventFilter{From: svc.Today(), RootsOnly: true})
	if err != nil {
		appLog.Error("stats report: list events failed", err)
		return nil
	}

	out := make([]model.EventStats, 0, len(events))
	for _, ev := range events {
		stats, err := svc.EventStats(ctx, ev.ID)
		if err != nil {
			appLog.Error("stats report: event stats failed", err, "event_id", ev.ID)
			continue
		}
		appLog.Info("stats report",
			"event_id", ev.ID,
			"title", ev.Title,
			"showtimes", stats.ShowtimeCount,
			"available", stats.TotalTicketsAvailable,
			"sold", stats.TotalTicketsSold,
			"sold_pct", stats.SoldPercentage,
		)
		out = append(out, stats)
	}
	return out
}
