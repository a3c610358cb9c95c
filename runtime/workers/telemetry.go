package workers

import (
	"chat-relay/contract"
	"chat-relay/observability"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// TelemetryWorker refreshes the monitoring snapshot every metric interval.
type TelemetryWorker struct {
	log            *slog.Logger
	metricInterval time.Duration
	registry       contract.IRegistry
	monitoring     *observability.MonitoringManager
}

func NewTelemetryWorker(log *slog.Logger,
	metricInterval time.Duration,
	registry contract.IRegistry,
	monitoring *observability.MonitoringManager) *TelemetryWorker {
	return &TelemetryWorker{
		log:            log,
		metricInterval: metricInterval,
		registry:       registry,
		monitoring:     monitoring,
	}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()

	w.refresh(p)
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping telemetry")
			return nil
		case <-ticker.C:
			w.refresh(p)
		}
	}
}

func (w *TelemetryWorker) refresh(p *process.Process) {
	stats, err := selfStats(p)
	if err != nil {
		w.log.Debug("Failed to collect self stats", "error", err)
	}
	w.monitoring.Update(w.registry.Count(), len(w.registry.Online()), stats)
}

// selfStats retrieves memory, CPU and OS status for the given process.
func selfStats(p *process.Process) (observability.ProcessStats, error) {
	stats := observability.ProcessStats{Pid: p.Pid}

	memInfo, err := p.MemoryInfo()
	if err != nil {
		return stats, err
	}
	stats.RamBytes = memInfo.RSS

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return stats, err
	}
	stats.CpuPercent = cpuPercent

	status, err := p.Status()
	if err != nil {
		return stats, err
	}
	stats.Status = status
	return stats, nil
}
