package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/streamchat/internal/infra/storage"
)

type stubTarget struct {
	cutoff time.Time
	n      int64
	err    error
}

func (s *stubTarget) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return s.n, s.err
}

func TestPruner_Prune(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	transcripts := &stubTarget{n: 3}
	attempts := &stubTarget{n: 5}
	broken := &stubTarget{err: errors.New("db gone")}

	p := NewPruner(24*time.Hour, map[string]storage.Pruner{
		"transcripts": transcripts,
		"attempts":    attempts,
		"broken":      broken,
	})
	p.now = func() time.Time { return now }

	if got := p.Prune(context.Background()); got != 8 {
		t.Errorf("Prune() = %d, want 8", got)
	}
	want := now.Add(-24 * time.Hour)
	if !transcripts.cutoff.Equal(want) || !attempts.cutoff.Equal(want) {
		t.Errorf("cutoff = %v / %v, want %v", transcripts.cutoff, attempts.cutoff, want)
	}
}

func TestPruner_StartDisabled(t *testing.T) {
	target := &stubTarget{}
	p := NewPruner(0, map[string]storage.Pruner{"t": target})

	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start should return immediately when retention is disabled")
	}
	if !target.cutoff.IsZero() {
		t.Error("target should not be pruned")
	}
}

func TestPruner_StartStopsOnCancel(t *testing.T) {
	target := &stubTarget{}
	p := NewPruner(time.Hour, map[string]storage.Pruner{"t": target})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
