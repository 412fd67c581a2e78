package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/Lynt445/ticket-system/internal/logger"
	"github.com/Lynt445/ticket-system/internal/models"
	"github.com/Lynt445/ticket-system/internal/monitoring"
)

type ReaperDB interface {
	FindExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Ticket, error)
	ExpireHold(ctx context.Context, ticket models.Ticket) (bool, error)
}

// Reaper periodically releases abandoned reservation holds back into the
// inventory ledger. Each ticket is reclaimed under a conditional update, so
// concurrent reaper instances (or a racing payment activation) cannot
// double-release a unit.
type Reaper struct {
	DB       ReaperDB
	Logger   *logger.Logger
	Interval time.Duration
	Batch    int
}

func NewReaper(db ReaperDB, log *logger.Logger, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{DB: db, Logger: log, Interval: interval, Batch: 500}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && r.Logger != nil {
				r.Logger.Error("REAPER", fmt.Sprintf("sweep failed: %v", err))
			}
		}
	}
}

// Sweep performs one pass and returns how many holds were reclaimed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	expired, err := r.DB.FindExpiredHolds(ctx, time.Now(), r.Batch)
	if err != nil {
		return 0, fmt.Errorf("find expired holds: %w", err)
	}

	reclaimed := 0
	for _, ticket := range expired {
		ok, err := r.DB.ExpireHold(ctx, ticket)
		if err != nil {
			// Keep going; the next sweep retries this ticket.
			if r.Logger != nil {
				r.Logger.Error("REAPER", fmt.Sprintf("ticket %s: %v", ticket.ID, err))
			}
			continue
		}
		if ok {
			reclaimed++
		}
	}

	if reclaimed > 0 {
		monitoring.RecordReaperReclaim(reclaimed)
		if r.Logger != nil {
			r.Logger.LogReaper(fmt.Sprintf("reclaimed %d expired holds", reclaimed))
		}
	}

	return reclaimed, nil
}
