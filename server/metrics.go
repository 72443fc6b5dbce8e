package server

import (
	"expvar"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemCollector periodically samples CPU, memory and the usage of the
// disk holding the local store into an expvar map.
type SystemCollector struct {
	vars     *expvar.Map
	diskPath string
	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewSystemCollector creates a new collector writing into vars.
// diskPath should be the directory of the local store.
func NewSystemCollector(vars *expvar.Map, diskPath string, interval time.Duration, logger *slog.Logger) *SystemCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &SystemCollector{
		vars:     vars,
		diskPath: diskPath,
		interval: interval,
		stopChan: make(chan struct{}),
		logger:   logger.With("component", "SystemCollector"),
	}
}

// Start begins the background collection loop.
func (sc *SystemCollector) Start() {
	sc.logger.Info("Starting system metrics collector", "interval", sc.interval)
	sc.wg.Add(1)
	go sc.collectLoop()
}

// Stop signals the collection loop to terminate and waits for it to finish.
func (sc *SystemCollector) Stop() {
	sc.logger.Info("Stopping system metrics collector")
	close(sc.stopChan)
	sc.wg.Wait()
}

func (sc *SystemCollector) setFloat(name string, v float64) {
	f := new(expvar.Float)
	f.Set(v)
	sc.vars.Set(name, f)
}

// Collect takes one sample.
func (sc *SystemCollector) Collect() {
	// cpu.Percent blocks for the sampling window, keep it inside one tick.
	window := sc.interval / 2
	if pct, err := cpu.Percent(window, false); err == nil && len(pct) > 0 {
		sc.setFloat("system_cpu_usage_percent", pct[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		sc.setFloat("system_mem_usage_percent", vm.UsedPercent)
	}
	if sc.diskPath != "" {
		if du, err := disk.Usage(sc.diskPath); err == nil {
			sc.setFloat("system_disk_usage_percent", du.UsedPercent)
		}
	}
}

func (sc *SystemCollector) collectLoop() {
	defer sc.wg.Done()
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sc.Collect()
		case <-sc.stopChan:
			return
		}
	}
}
