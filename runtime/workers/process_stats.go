package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"hire-chat/observability"
)

// ProcessStats samples the memory and CPU usage of the server into gauges.
type ProcessStats struct {
	log      *slog.Logger
	interval time.Duration
}

func NewProcessStats(log *slog.Logger, interval time.Duration) *ProcessStats {
	return &ProcessStats{log: log, interval: interval}
}

func (w *ProcessStats) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rss, cpu, err := selfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "error", err)
				continue
			}
			observability.ProcessResidentBytes.Set(float64(rss))
			observability.ProcessCPUPercent.Set(cpu)
		}
	}
}

func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
