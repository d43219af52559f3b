// Package cpu wires internal/cpuload's tick-loop worker and
// internal/generator's registry together into the CPU generator module,
// grounded on _examples/original_source/src/modules/cpu (generator.hpp,
// generator_stack.hpp, task_cpu.hpp) and on the teacher's per-service
// package layout (one small package gluing a domain engine to the shared
// registry/server machinery).
package cpu

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/openperf/openperf/internal/cpuload"
	"github.com/openperf/openperf/internal/generator"
	"github.com/openperf/openperf/internal/modsrv"
)

// Config is the CPU generator's wire configuration. The default
// method ("" or "core", per spec §4.3.1) drives a fixed set of per-core
// worker configs directly. Method "system" (§4.3.2) instead steers a
// PID-governed pool of workers toward System.Utilization using real host
// CPU measurements, and Cores is unused. "load_scale" (spec §3.5)
// multiplies every core's Utilization, or System.Utilization in system
// mode.
type Config struct {
	Method string           `json:"method,omitempty"`
	Cores  []cpuload.Config `json:"cores,omitempty"`
	System *SystemConfig    `json:"system,omitempty"`
}

// SystemConfig configures the CPU module's closed-loop system-wide mode
// (spec §4.3.2): Utilization is the target expressed as a percentage
// (0-100, matching the wire examples' "utilization":50 shape, not the
// (0,1] fraction cpuload.Config.Utilization uses elsewhere). Workers is
// how many PID-governed worker goroutines to run; it defaults to 1.
type SystemConfig struct {
	Utilization float64 `json:"utilization"`
	Workers     int     `json:"workers,omitempty"`
}

func (c Config) isSystem() bool {
	return c.System != nil
}

// Scale multiplies every core's utilization by factor, implementing the
// generator model's load_scale field (§3.5). In system mode it scales
// the percentage target instead of per-core configs.
func (c Config) Scale(factor float64) Config {
	if c.isSystem() {
		scaled := c
		sys := *c.System
		sys.Utilization *= factor
		if sys.Utilization > 100 {
			sys.Utilization = 100
		}
		scaled.System = &sys
		return scaled
	}

	scaled := Config{Method: c.Method, Cores: make([]cpuload.Config, len(c.Cores))}
	for i, core := range c.Cores {
		core.Utilization *= factor
		if core.Utilization > 1.0 {
			core.Utilization = 1.0
		}
		scaled.Cores[i] = core
	}
	return scaled
}

// handle runs one CPU generator's per-core Task goroutines and publishes
// aggregated Stats, matching the spec's "one goroutine per CPU worker"
// concurrency model (§5).
type handle struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	stats []cpuload.Stat
}

func (h *handle) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]cpuload.Stat, len(h.stats))
	copy(out, h.stats)
	return Stats{Cores: out}
}

func (h *handle) Stop() Stats {
	h.cancel()
	h.wg.Wait()
	return h.Stats()
}

func (h *handle) setStat(idx int, stat cpuload.Stat) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for len(h.stats) <= idx {
		h.stats = append(h.stats, cpuload.Stat{})
	}
	h.stats[idx] = stat
}

func (h *handle) runTask(idx int, task *cpuload.Task, ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		h.setStat(idx, task.Spin())
	}
}

// runSystemWorker drives one SystemWorker's Run loop in the background and
// republishes its latest Stat on the same cadence the per-core path uses,
// so Stats() reports live numbers for system mode too instead of only the
// final tick.
func (h *handle) runSystemWorker(idx int, w *cpuload.SystemWorker, ctx context.Context) {
	defer h.wg.Done()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			if s := w.Stat(); s != nil {
				h.setStat(idx, *s)
			}
			return
		case <-ticker.C:
			if s := w.Stat(); s != nil {
				h.setStat(idx, *s)
			}
		}
	}
}

// Runner implements generator.Runner[Config, Stats] by spawning one
// cpuload.Task goroutine per configured core in the default mode, or a
// pool of PID-governed cpuload.SystemWorker goroutines in system mode
// (spec §4.3.2).
type Runner struct{}

func (Runner) Start(id string, cfg Config) (generator.Handle[Stats], error) {
	if cfg.isSystem() {
		return startSystem(cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, stats: make([]cpuload.Stat, len(cfg.Cores))}

	for i, coreCfg := range cfg.Cores {
		task, err := cpuload.NewTask(coreCfg)
		if err != nil {
			cancel()
			h.wg.Wait()
			return nil, err
		}
		h.wg.Add(1)
		go h.runTask(i, task, ctx)
	}

	return h, nil
}

// defaultSystemTargets gives system-mode workers a plain scalar int64
// workload, matching the default core used by the teacher's own
// task_cpu_system reference when no explicit target mix is configured.
func defaultSystemTargets() []cpuload.TargetConfig {
	return []cpuload.TargetConfig{
		{Set: cpuload.InstructionSetScalar, DataType: cpuload.DataTypeInt64, Weight: 1},
	}
}

// startSystem builds the closed-loop worker pool for system mode: each
// worker wraps its own cpuload.Task and cpuload.SystemWorker, all steered
// toward the same setpoint derived from System.Utilization (a percentage,
// converted here to the (0,1] fraction the PID controller and Task expect).
func startSystem(cfg Config) (generator.Handle[Stats], error) {
	workers := cfg.System.Workers
	if workers <= 0 {
		workers = 1
	}

	setpoint := cfg.System.Utilization / 100.0
	switch {
	case setpoint <= 0:
		setpoint = 0.01
	case setpoint > 1.0:
		setpoint = 1.0
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, stats: make([]cpuload.Stat, workers)}

	for i := 0; i < workers; i++ {
		task, err := cpuload.NewTask(cpuload.Config{
			Core:        i,
			Utilization: setpoint,
			Targets:     defaultSystemTargets(),
		})
		if err != nil {
			cancel()
			h.wg.Wait()
			return nil, err
		}
		w := cpuload.NewSystemWorker(task, setpoint)
		h.wg.Add(1)
		go h.runSystemWorker(i, w, ctx)
	}

	return h, nil
}

// NewRegistry builds the CPU module's registry.
func NewRegistry() *generator.Registry[Config, Stats] {
	return generator.NewRegistry[Config, Stats](Runner{})
}

// NewCodec builds the modsrv codec for the CPU module: plain JSON
// marshal/unmarshal, since Config/Stats are already the wire shape.
func NewCodec() modsrv.Codec[Config, Stats] {
	return modsrv.Codec[Config, Stats]{
		MarshalConfig: func(c Config) (json.RawMessage, error) { return json.Marshal(c) },
		UnmarshalConfig: func(raw json.RawMessage) (Config, error) {
			var c Config
			err := json.Unmarshal(raw, &c)
			return c, err
		},
		MarshalStats: func(s Stats) (json.RawMessage, error) { return json.Marshal(s) },
	}
}
