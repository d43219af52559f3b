package cpuload

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/openperf/openperf/internal/pid"
)

// SystemWorker runs a Task under closed-loop PID control driven by real host
// CPU utilization, grounded on task_cpu_system.cpp's system-wide mode and on
// the teacher's own use of github.com/shirou/gopsutil/v3/cpu in
// cmd/agent/main.go for host CPU sampling. Rather than a fixed utilization
// target, the worker measures actual system CPU usage each tick and feeds it
// to a pid.Controller, whose output adjusts the Task's utilization field for
// the next tick.
type SystemWorker struct {
	task *Task
	ctrl *pid.Controller

	stat atomic.Pointer[Stat]

	sampleHostCPU func() (float64, error)
}

// NewSystemWorker builds a worker that steers task toward setpoint (a
// fraction in (0, 1]) using gains matching the original's PID defaults
// (Kp=0.9, Ki=5e-4, Kd=0, reused across the codebase's system-wide targets).
func NewSystemWorker(task *Task, setpoint float64) *SystemWorker {
	ctrl := pid.New(0.9, 5e-4, 0)
	ctrl.SetMax(1.0)
	ctrl.SetMin(0.0)
	ctrl.Reset(setpoint)

	return &SystemWorker{
		task:          task,
		ctrl:          ctrl,
		sampleHostCPU: sampleHostCPU,
	}
}

func sampleHostCPU() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0] / 100.0, nil
}

// Stat returns the most recently published tick statistics, or nil before
// the first tick completes.
func (w *SystemWorker) Stat() *Stat { return w.stat.Load() }

// Run drives the worker's tick loop until ctx is canceled. Each iteration
// samples real host CPU utilization, runs one PID control interval around
// it, applies the resulting setpoint as the task's utilization for the next
// Spin, and publishes the tick's Stat.
func (w *SystemWorker) Run(ctx context.Context) error {
	w.ctrl.Start()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		stat := w.task.Spin()
		w.stat.Store(&stat)

		measured, err := w.sampleHostCPU()
		if err != nil {
			measured = stat.Load
		}

		u := w.ctrl.Stop(measured)
		next := w.task.config.Utilization + u
		if next <= 0 {
			next = 0.01
		}
		if next > 1.0 {
			next = 1.0
		}
		cfg := w.task.Config()
		cfg.Utilization = next
		if err := w.task.Configure(cfg); err != nil {
			return err
		}

		w.ctrl.Start()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(0):
		}
	}
}
