package observability

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ProcessStats is what the OS reports about this process.
type ProcessStats struct {
	Pid        int32   `json:"pid"`
	Status     string  `json:"status"`
	CpuPercent float64 `json:"cpu_percent"`
	RamBytes   uint64  `json:"ram_bytes"`
}

// MonitoringStats aggregates every metric served on /stats.
type MonitoringStats struct {
	// --- CONNECTIONS ---
	Connections int `json:"connections"`
	OnlineUsers int `json:"online_users"`

	// --- RELAY ---
	Relayed uint64 `json:"relayed"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`

	// --- WORKERS ---
	WorkerRestarts uint64 `json:"worker_restarts"`

	// --- SYSTEM ---
	Process    ProcessStats `json:"process"`
	AllocMemMb uint64       `json:"alloc_mem_mb"`
	NumGC      uint32       `json:"num_gc"`
	Goroutines int          `json:"goroutines"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// MonitoringManager keeps relay counters and the last computed snapshot.
// It satisfies contract.RelayMetrics.
type MonitoringManager struct {
	log         *slog.Logger
	mu          sync.RWMutex
	latestStats MonitoringStats

	relayed uint64
	dropped uint64
	failed  uint64

	restarts uint64
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{log: log}
}

func (mm *MonitoringManager) IncrRelayed() {
	atomic.AddUint64(&mm.relayed, 1)
}

func (mm *MonitoringManager) IncrDropped() {
	atomic.AddUint64(&mm.dropped, 1)
}

func (mm *MonitoringManager) IncrFailed() {
	atomic.AddUint64(&mm.failed, 1)
}

// IncrRestarted counts supervisor restarts of crashed workers.
func (mm *MonitoringManager) IncrRestarted(worker string, err error) {
	atomic.AddUint64(&mm.restarts, 1)
	mm.log.Debug("Worker restart recorded", "name", worker, "error", err)
}

// Update recomputes the snapshot from the counters, the Go runtime and the given gauges.
func (mm *MonitoringManager) Update(connections, onlineUsers int, process ProcessStats) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mm.mu.Lock()
	defer mm.mu.Unlock()

	mm.latestStats = MonitoringStats{
		Connections:    connections,
		OnlineUsers:    onlineUsers,
		Relayed:        atomic.LoadUint64(&mm.relayed),
		Dropped:        atomic.LoadUint64(&mm.dropped),
		Failed:         atomic.LoadUint64(&mm.failed),
		WorkerRestarts: atomic.LoadUint64(&mm.restarts),
		Process:        process,
		AllocMemMb:     m.Alloc / 1024 / 1024,
		NumGC:          m.NumGC,
		Goroutines:     runtime.NumGoroutine(),
		UpdatedAt:      time.Now().UTC(),
	}

	mm.log.Debug("Stats updated",
		"connections", connections,
		"online_users", onlineUsers,
		"relayed", mm.latestStats.Relayed,
		"mem_mb", mm.latestStats.AllocMemMb,
	)
}

func (mm *MonitoringManager) GetLatest() MonitoringStats {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.latestStats
}
