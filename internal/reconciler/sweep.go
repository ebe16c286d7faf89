package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Sweeper periodically force-syncs every instance on a cron schedule.
// It is a safety net for transitions both reconciliation paths missed
// (webhook outage plus an instance that never entered a transient
// state). Disabled unless a schedule is configured.
type Sweeper struct {
	r    *Reconciler
	expr string
	gron *gronx.Gronx
}

// NewSweeper validates the cron expression and returns the sweeper, or
// nil when expr is empty.
func NewSweeper(r *Reconciler, expr string) (*Sweeper, error) {
	if expr == "" {
		return nil, nil
	}
	g := gronx.New()
	if !g.IsValid(expr) {
		return nil, errInvalidCron(expr)
	}
	return &Sweeper{r: r, expr: expr, gron: g}, nil
}

// Run blocks until ctx is cancelled, checking the schedule once a minute.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("reconcile sweep scheduled", "cron", s.expr)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := s.gron.IsDue(s.expr, time.Now())
			if err != nil || !due {
				continue
			}
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	all, err := s.r.instances.ListAll(ctx)
	if err != nil {
		slog.Error("sweep: list instances", "error", err)
		return
	}
	for i := range all {
		if _, err := s.r.ForceSync(ctx, all[i].ID); err != nil {
			slog.Warn("sweep: force sync failed", "instance", all[i].Name, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
	slog.Debug("reconcile sweep complete", "instances", len(all))
}

type errInvalidCron string

func (e errInvalidCron) Error() string {
	return "invalid sweep cron expression: " + string(e)
}
