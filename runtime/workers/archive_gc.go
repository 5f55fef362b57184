package workers

import (
	"context"
	"log/slog"
	"time"
)

// GarbageCollector reclaims space from an on-disk store.
type GarbageCollector interface {
	CollectGarbage(discardRatio float64) (int, error)
}

// ArchiveGCWorker periodically runs value log GC on the message archive.
// An error makes the supervisor restart it.
type ArchiveGCWorker struct {
	log          *slog.Logger
	collector    GarbageCollector
	interval     time.Duration
	discardRatio float64
}

func NewArchiveGCWorker(log *slog.Logger, collector GarbageCollector, interval time.Duration, discardRatio float64) *ArchiveGCWorker {
	return &ArchiveGCWorker{log: log, collector: collector, interval: interval, discardRatio: discardRatio}
}

func (w *ArchiveGCWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rewritten, err := w.collector.CollectGarbage(w.discardRatio)
			if err != nil {
				return err
			}
			if rewritten > 0 {
				w.log.Debug("Archive value log compacted", "files", rewritten)
			}
		}
	}
}
