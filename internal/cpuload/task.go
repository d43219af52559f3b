// Package cpuload implements the CPU generator's per-core worker task: a
// tick loop that spends a configured fraction of wall-clock time running
// synthetic operations and sleeps the rest, converging on a target
// utilization. It is a direct port of openperf's task_cpu::spin(), grounded
// on _examples/original_source/src/modules/cpu/task_cpu.cpp.
package cpuload

import (
	"fmt"
	"time"
)

// Quanta is the base time slice spin() plans against, matching the
// original's QUANTA = 100ms constant.
const Quanta = 100 * time.Millisecond

// Config is one CPU worker's configuration: which logical core it is
// conceptually pinned to (recorded as metadata; see SPEC_FULL.md §5) and the
// set of weighted targets it cycles through each tick.
type Config struct {
	Core    int            `json:"core"`
	Utilization float64    `json:"utilization"` // fraction in (0, 1]
	Targets []TargetConfig `json:"targets"`
}

// TargetStat is the accumulated operation count and measured runtime for one
// configured target across the worker's lifetime.
type TargetStat struct {
	Operations uint64        `json:"operations"`
	Runtime    time.Duration `json:"runtime"`
}

// Stat is a single tick's measurement, matching task_cpu_stat's field set.
// Available and Utilization are reported in wall-clock time rather than raw
// CPU-time counters, and there is no system/user/steal breakdown, since Go
// has no direct equivalent of
// the original's getrusage-based thread-time sampling in portable form.
type Stat struct {
	Core        int           `json:"core"`
	Available   time.Duration `json:"available"`
	Utilization time.Duration `json:"utilization"`
	Target      time.Duration `json:"target"`
	Error       time.Duration `json:"error"`
	Load        float64       `json:"load"`
	Targets     []TargetStat  `json:"targets"`
}

// Task runs one configured CPU worker's tick loop. It is not safe for
// concurrent use from more than one goroutine; the owning worker goroutine
// calls Spin in a loop and publishes the resulting Stat (SystemWorker via an
// atomic.Pointer, the cpu module's per-core goroutine under a mutex).
type Task struct {
	config      Config
	utilization float64
	targets     []*target
	weightSum   uint64
	weightMin   uint64

	time    time.Duration // planned per-tick time budget, recomputed each Spin
	errAcc  time.Duration // accumulated scheduling error
	lastRun time.Time
	started bool

	now func() time.Time
	sleep func(time.Duration)
}

// NewTask builds a Task from conf, measuring each target's baseline runtime
// the way the original's config() does (a handful of warm-up calls).
func NewTask(conf Config) (*Task, error) {
	t := &Task{now: time.Now, sleep: time.Sleep}
	if err := t.Configure(conf); err != nil {
		return nil, err
	}
	return t, nil
}

// Configure replaces the task's target set and utilization target, matching
// task_cpu::config(): it measures each target's runtime and resets planning
// state. conf.Utilization must be in (0, 1].
func (t *Task) Configure(conf Config) error {
	if conf.Utilization <= 0.0 || conf.Utilization > 1.0 {
		return fmt.Errorf("cpuload: utilization must be in (0, 1], got %v", conf.Utilization)
	}

	targets := make([]*target, 0, len(conf.Targets))
	var weightSum uint64
	weightMin := ^uint64(0)
	var totalTime time.Duration

	const warmupCalls = 5
	for _, tc := range conf.Targets {
		op, err := makeOperation(tc.Set, tc.DataType)
		if err != nil {
			return err
		}
		tgt := &target{weight: tc.Weight, op: op}
		runtime := measure(func() {
			for i := 0; i < warmupCalls; i++ {
				op()
			}
		}) / warmupCalls
		tgt.runtime = runtime

		totalTime += runtime
		weightSum += uint64(tc.Weight)
		if uint64(tc.Weight) < weightMin {
			weightMin = uint64(tc.Weight)
		}
		targets = append(targets, tgt)
	}

	t.config = conf
	t.utilization = conf.Utilization
	t.targets = targets
	t.weightSum = weightSum
	t.weightMin = weightMin
	t.time = totalTime
	t.errAcc = 0
	t.lastRun = time.Time{}
	t.started = false
	return nil
}

func (t *Task) Config() Config { return t.config }

// Spin runs one tick: it budgets a time_frame proportional to the configured
// weights, runs each target for its planned share, then sleeps to bring
// measured utilization back toward the target, exactly as
// task_cpu::spin() does using wall-clock deltas in place of the original's
// getrusage thread-time sampling.
func (t *Task) Spin() Stat {
	now := t.now()
	if !t.started {
		t.lastRun = now
		t.started = true
	}

	timeFrame := t.time
	if t.weightMin > 0 {
		scaled := time.Duration(float64(t.time) * float64(t.weightSum) / float64(t.weightMin))
		minFrame := time.Duration(float64(Quanta) * t.utilization)
		if scaled > minFrame {
			timeFrame = scaled
		} else {
			timeFrame = minFrame
		}
	}

	stats := make([]TargetStat, len(t.targets))
	t.time = 0
	tickStart := t.now()

	for i, tgt := range t.targets {
		if tgt.runtime <= 0 || t.weightSum == 0 {
			continue
		}
		calls := uint64(timeFrame) / t.weightSum * uint64(tgt.weight) / uint64(tgt.runtime)
		if calls == 0 {
			calls = 1
		}

		var operations uint64
		runtime := measure(func() {
			for c := uint64(0); c < calls; c++ {
				operations += tgt.op()
			}
		})

		tgt.runtime = (tgt.runtime + runtime/time.Duration(calls)) / 2
		t.time += tgt.runtime

		stats[i] = TargetStat{Operations: operations, Runtime: runtime}
	}

	busy := t.now().Sub(tickStart)

	// Sleep enough that, together with the time already spent running
	// targets, the tick's active fraction converges on the configured
	// utilization, adjusting for the accumulated scheduling error.
	sleepFor := time.Duration(float64(busy)*(1.0/t.utilization-1.0)) - t.errAcc
	if sleepFor > 0 {
		t.sleep(sleepFor)
	}

	runOf := t.now()
	available := runOf.Sub(t.lastRun)
	target := time.Duration(float64(available) * t.utilization)
	t.errAcc = target - busy + t.errAcc

	load := 0.0
	if available > 0 {
		load = float64(busy) / float64(available)
	}

	t.lastRun = runOf

	return Stat{
		Core:        t.config.Core,
		Available:   available,
		Utilization: busy,
		Target:      target,
		Error:       target - busy,
		Load:        load,
		Targets:     stats,
	}
}
