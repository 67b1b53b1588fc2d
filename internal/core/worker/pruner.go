package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/streamchat/internal/infra/storage"
)

// Pruner deletes old transcripts and attempts based on retention policy.
type Pruner struct {
	retention time.Duration
	targets   map[string]storage.Pruner
	now       func() time.Time
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker. targets maps a label used in
// logs to the repository being pruned.
func NewPruner(retention time.Duration, targets map[string]storage.Pruner) *Pruner {
	return &Pruner{
		retention: retention,
		targets:   targets,
		now:       time.Now,
		log:       slog.Default().With("component", "pruner"),
	}
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 || len(p.targets) == 0 {
		return // Retention disabled
	}

	// Check every 10% of the retention period, between 1 minute and 1 hour.
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs one pass over every target and returns the total removed.
func (p *Pruner) Prune(ctx context.Context) int64 {
	cutoff := p.now().Add(-p.retention)

	var total int64
	for name, target := range p.targets {
		n, err := target.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			p.log.Error("Prune failed", "target", name, "error", err)
			continue
		}
		if n > 0 {
			p.log.Info("Pruned old data", "target", name, "deleted", n, "cutoff", cutoff)
		}
		total += n
	}
	return total
}
