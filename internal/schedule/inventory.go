package schedule

import (
	"context"
	"errors"
	"fmt"
	"math"

	appLog "showsched/internal/log"
	"showsched/internal/model"
	"showsched/internal/notify"
	"showsched/internal/store"
)

const maxSwapAttempts = 8

type InventoryInput struct {
	ShowtimeID       string
	TicketsAvailable int
	// TicketsSold is left unchanged when nil.
	TicketsSold *int
}

// UpdateInventory sets ticketsAvailable and, if supplied, ticketsSold. The
// write is a compare-and-swap on the showtime version and is rejected when
// it would leave more tickets sold than available.
func (s *Service) UpdateInventory(ctx context.Context, in InventoryInput) (model.Showtime, error) {
	if in.ShowtimeID == "" {
		return model.Showtime{}, invalid("showtime_id", "is required")
	}
	if in.TicketsAvailable < 0 {
		return model.Showtime{}, invalid("tickets_available", "must not be negative")
	}
	if in.TicketsSold != nil && *in.TicketsSold < 0 {
		return model.Showtime{}, invalid("tickets_sold", "must not be negative")
	}

	return s.swapInventory(ctx, in.ShowtimeID, func(cur model.Showtime) (int, int, error) {
		sold := cur.TicketsSold
		if in.TicketsSold != nil {
			sold = *in.TicketsSold
		}
		return in.TicketsAvailable, sold, nil
	})
}

// SellTickets atomically adds qty to ticketsSold. A negative qty refunds;
// ticketsSold never drops below zero.
func (s *Service) SellTickets(ctx context.Context, showtimeID string, qty int) (model.Showtime, error) {
	if showtimeID == "" {
		return model.Showtime{}, invalid("showtime_id", "is required")
	}
	if qty == 0 {
		return model.Showtime{}, invalid("quantity", "must not be zero")
	}

	return s.swapInventory(ctx, showtimeID, func(cur model.Showtime) (int, int, error) {
		sold := cur.TicketsSold + qty
		if sold < 0 {
			return 0, 0, invalid("quantity", fmt.Sprintf("cannot refund %d tickets, only %d sold", -qty, cur.TicketsSold))
		}
		return cur.TicketsAvailable, sold, nil
	})
}

// swapInventory runs a read / compute / compare-and-swap loop. next maps
// the current row to the desired (available, sold) pair.
func (s *Service) swapInventory(ctx context.Context, showtimeID string, next func(model.Showtime) (int, int, error)) (model.Showtime, error) {
	for attempt := 1; attempt <= maxSwapAttempts; attempt++ {
		cur, err := s.store.FindShowtime(ctx, showtimeID)
		if err != nil {
			return model.Showtime{}, err
		}

		available, sold, err := next(cur)
		if err != nil {
			return model.Showtime{}, err
		}
		if sold > available {
			return model.Showtime{}, fmt.Errorf("%w: tickets_sold %d > tickets_available %d",
				ErrInventoryInvariant, sold, available)
		}

		updated, err := s.store.SwapInventory(ctx, showtimeID, cur.Version, available, sold)
		if errors.Is(err, store.ErrVersionConflict) {
			appLog.Debug("schedule: inventory swap conflict, retrying",
				"showtime_id", showtimeID,
				"attempt", attempt,
			)
			continue
		}
		if err != nil {
			return model.Showtime{}, err
		}

		s.publish(ctx, notify.InventoryUpdated, map[string]any{
			"showtime_id":       updated.ID,
			"event_id":          updated.EventID,
			"tickets_available": updated.TicketsAvailable,
			"tickets_sold":      updated.TicketsSold,
		})
		return updated, nil
	}
	return model.Showtime{}, ErrConcurrentUpdate
}

// EventStats rolls up the inventory of every showtime of an event.
func (s *Service) EventStats(ctx context.Context, eventID string) (model.EventStats, error) {
	if _, err := s.store.FindEvent(ctx, eventID); err != nil {
		return model.EventStats{}, err
	}
	showtimes, err := s.store.FindShowtimesByEvent(ctx, eventID)
	if err != nil {
		return model.EventStats{}, err
	}
	stats := ComputeStats(showtimes)
	stats.EventID = eventID
	return stats, nil
}

// ComputeStats sums counters over showtimes. SoldPercentage is rounded to
// the nearest integer and is 0 when nothing is available.
func ComputeStats(showtimes []model.Showtime) model.EventStats {
	var stats model.EventStats
	stats.ShowtimeCount = len(showtimes)
	for _, st := range showtimes {
		stats.TotalTicketsAvailable += st.TicketsAvailable
		stats.TotalTicketsSold += st.TicketsSold
	}
	stats.RemainingTickets = stats.TotalTicketsAvailable - stats.TotalTicketsSold
	if stats.TotalTicketsAvailable > 0 {
		stats.SoldPercentage = int(math.Round(float64(stats.TotalTicketsSold) / float64(stats.TotalTicketsAvailable) * 100))
	}
	return stats
}
