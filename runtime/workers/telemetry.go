package workers

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/process"
)

// ConnectionStats reports how many keys and sockets are currently registered.
type ConnectionStats func() (keys int, sockets int)

// Sample is one telemetry reading of the running process.
type Sample struct {
	At         time.Time
	CPUPercent float64
	RSSBytes   uint64
	Goroutines int
	Keys       int
	Sockets    int
}

// TelemetryWorker samples process health at a fixed interval and logs it.
type TelemetryWorker struct {
	mu             sync.RWMutex
	log            *slog.Logger
	metricInterval time.Duration
	stats          ConnectionStats
	last           Sample
}

func NewTelemetryWorker(log *slog.Logger, metricInterval time.Duration, stats ConnectionStats) *TelemetryWorker {
	return &TelemetryWorker{log: log, metricInterval: metricInterval, stats: stats}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sample := w.sample(proc)
			w.mu.Lock()
			w.last = sample
			w.mu.Unlock()
			w.log.Info("Telemetry",
				"cpu_percent", sample.CPUPercent,
				"rss_bytes", sample.RSSBytes,
				"goroutines", sample.Goroutines,
				"keys", sample.Keys,
				"sockets", sample.Sockets,
			)
		}
	}
}

// Last returns the most recent sample, zero before the first tick.
func (w *TelemetryWorker) Last() Sample {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last
}

func (w *TelemetryWorker) sample(proc *process.Process) Sample {
	s := Sample{At: time.Now().UTC(), Goroutines: runtime.NumGoroutine()}
	if cpu, err := proc.CPUPercent(); err == nil {
		s.CPUPercent = cpu
	} else {
		w.log.Debug("Error while finding process cpu usage", "err", err)
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		s.RSSBytes = mem.RSS
	} else {
		w.log.Debug("Error while finding process memory usage", "err", err)
	}
	if w.stats != nil {
		s.Keys, s.Sockets = w.stats()
	}
	return s
}
