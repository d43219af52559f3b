package pid

import (
	"testing"
	"time"
)

// fakeClock lets tests advance time deterministically instead of sleeping.
func fakeClock(start time.Time) (*time.Time, func() time.Time) {
	t := start
	return &t, func() time.Time { return t }
}

func TestControllerConvergesTowardSetpoint(t *testing.T) {
	c := New(0.9, 5e-4, 0)
	cur, clock := fakeClock(time.Unix(0, 0))
	c.now = clock

	c.Reset(0.5)

	u := 0.0
	y := 0.0
	for i := 0; i < 500; i++ {
		c.Start()
		*cur = cur.Add(100 * time.Millisecond)
		// Plant: measured utilization tracks the previous control signal
		// with first-order lag, a stand-in for the CPU worker's actual
		// utilization feedback.
		y = y + 0.3*(u-y)
		u = c.Stop(y)
	}

	if diff := y - 0.5; diff > 0.02 || diff < -0.02 {
		t.Fatalf("controller did not converge: y=%v, want close to 0.5", y)
	}
}

func TestControllerSaturatesToMax(t *testing.T) {
	c := New(10, 10, 0)
	cur, clock := fakeClock(time.Unix(0, 0))
	c.now = clock
	c.SetMax(1.0)
	c.SetMin(0.0)

	c.Reset(0.9)
	c.Start()
	*cur = cur.Add(100 * time.Millisecond)
	u := c.Stop(0.0)

	if c.setpoint+u > c.max+1e-9 {
		t.Fatalf("control signal exceeded max: setpoint+u=%v, max=%v", c.setpoint+u, c.max)
	}
}

func TestControllerSaturatesToMin(t *testing.T) {
	c := New(10, 10, 0)
	cur, clock := fakeClock(time.Unix(0, 0))
	c.now = clock
	c.SetMax(1.0)
	c.SetMin(0.0)

	c.Reset(0.1)
	c.Start()
	*cur = cur.Add(100 * time.Millisecond)
	u := c.Stop(2.0)

	if c.setpoint+u < c.min-1e-9 {
		t.Fatalf("control signal went below min: setpoint+u=%v, min=%v", c.setpoint+u, c.min)
	}
}

func TestStopPanicsWithoutStart(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic calling Stop before Start")
		}
	}()
	c := New(0.9, 5e-4, 0)
	c.Reset(0.5) // ready, not control
	c.Stop(0.0)
}

func TestUpdateIsNoopOutsideControlState(t *testing.T) {
	c := New(0.9, 5e-4, 0)
	c.Reset(0.5)
	c.Update(0.8) // not in control state yet
	if c.setpoint != 0.5 {
		t.Fatalf("Update outside control state changed setpoint to %v", c.setpoint)
	}
}
