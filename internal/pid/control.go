// Package pid implements the anti-windup PID controller used to steer a CPU
// worker's target runtime toward a requested utilization. The algorithm is
// ported from openperf's C++ framework::generator::pid_control, which in
// turn follows the pseudocode in chapter 10 of Astrom & Murray's "Feedback
// Systems: An Introduction for Scientists and Engineers".
package pid

import (
	"fmt"
	"math"
	"time"
)

type state uint8

const (
	stateNone state = iota
	stateInit
	stateReady
	stateControl
)

// Controller is not safe for concurrent use; each CPU worker owns one.
type Controller struct {
	kt    float64
	n     float64
	beta  float64
	min   float64
	max   float64
	state state

	kp, ki, kd float64

	accumulator float64
	integral    float64
	derivative  float64
	lastY       float64
	setpoint    float64

	startTS  time.Time
	updateTS time.Time

	now func() time.Time
}

// New builds a controller with the given gains and the defaults the original
// carries: anti-windup gain kt=1, derivative filter order n=10, setpoint
// range [0, +Inf).
func New(kp, ki, kd float64) *Controller {
	now := time.Now()
	return &Controller{
		kt:       1.0,
		n:        10.0,
		beta:     1.0,
		min:      0.0,
		max:      math.MaxFloat64,
		state:    stateInit,
		kp:       kp,
		ki:       ki,
		kd:       kd,
		startTS:  now,
		updateTS: now,
		now:      time.Now,
	}
}

func (c *Controller) Min() float64    { return c.min }
func (c *Controller) Max() float64    { return c.max }
func (c *Controller) N() float64      { return c.n }
func (c *Controller) Kt() float64     { return c.kt }
func (c *Controller) Beta() float64   { return c.beta }

func (c *Controller) SetMin(m float64)  { c.min = m }
func (c *Controller) SetMax(m float64)  { c.max = m }
func (c *Controller) SetN(n float64)    { c.n = n }
func (c *Controller) SetKt(kt float64)  { c.kt = kt }
func (c *Controller) SetBeta(b float64) { c.beta = b }

// Reset reinitializes the controller at a new setpoint and moves it to the
// ready state; a subsequent Start is required before Stop will accept
// measurements.
func (c *Controller) Reset(setpoint float64) {
	c.integral = 0
	c.derivative = 0
	c.accumulator = 0
	c.lastY = setpoint
	c.setpoint = setpoint
	c.startTS = c.now()
	c.updateTS = c.startTS
	c.state = stateReady
}

// Start begins a control interval. It panics if the controller is not in the
// ready state, mirroring the original's assert(m_state == state_t::READY):
// callers are expected to Reset before the first Start.
func (c *Controller) Start() {
	if c.state != stateReady {
		panic(fmt.Sprintf("pid: Start called in state %d, want ready", c.state))
	}
	c.accumulator = 0.0
	c.startTS = c.now()
	c.updateTS = c.startTS
	c.state = stateControl
}

// Stop ends the current control interval given the measured output y and
// returns the next control signal u, saturated to [min, max] relative to the
// setpoint. It panics if the controller is not in the control state.
func (c *Controller) Stop(y float64) float64 {
	if c.state != stateControl {
		panic(fmt.Sprintf("pid: Stop called in state %d, want control", c.state))
	}
	now := c.now()
	c.accumulator += now.Sub(c.updateTS).Seconds() * c.setpoint
	dtime := now.Sub(c.startTS).Seconds()

	var tf float64
	if c.kp != 0 {
		tf = (c.kd / c.kp) / c.n
	}
	bi := c.ki * dtime
	ad := tf / (tf + dtime)
	bd := c.kd / (tf + dtime)

	p := c.kp * (c.beta*c.accumulator - y)
	c.derivative = ad*c.derivative - bd*(y-c.lastY)
	v := p + c.derivative + c.integral
	u := c.saturate(v)
	c.integral = c.integral + bi*(c.accumulator-y) + c.kt*(u-v)
	c.lastY = y

	c.state = stateReady
	return u
}

// Update adjusts the setpoint mid-interval without ending it; a no-op unless
// the controller is currently in the control state.
func (c *Controller) Update(setpoint float64) {
	if c.state != stateControl {
		return
	}
	now := c.now()
	c.accumulator += now.Sub(c.updateTS).Seconds() * c.setpoint
	c.updateTS = now
	c.lastY = setpoint
	c.setpoint = setpoint
}

// saturate clamps v so that setpoint+v stays within [min, max], returning the
// clamped delta rather than the clamped absolute value.
func (c *Controller) saturate(v float64) float64 {
	if c.setpoint+v > c.max {
		return c.max - c.setpoint
	}
	if c.setpoint+v < c.min {
		return c.min - c.setpoint
	}
	return v
}
