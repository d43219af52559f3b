package tvlp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Profile is one module's TVLP entry series plus the ModuleClient that drives
// it, matching model::tvlp_module_profile_t. Entries are stored unscaled: the
// worker stretches each length by the time scale when it runs, and sends each
// entry's config to the module as given, without applying the load scale.
type Profile struct {
	Client ModuleClient
	Series []Entry
}

// Config is a TVLP configuration: up to one profile per supported module,
// grounded on model::tvlp_configuration_t / tvlp_profile_t.
type Config struct {
	ID        string
	TimeScale float64
	LoadScale float64

	Block   *Profile
	Memory  *Profile
	CPU     *Profile
	Network *Profile
	Packet  *Profile
}

// Controller owns one worker per module present in its Config and aggregates
// their state, grounded line for line on tvlp/controller.cpp's
// controller_t.
type Controller struct {
	id         string
	timeScale  float64
	loadScale  float64
	totalLen   time.Duration

	mu       sync.Mutex
	state    State
	errText  string
	offset   time.Duration
	startAt  time.Time

	workers map[string]*Worker
	order   []string
}

// NewController validates cfg and builds one Worker per present module
// profile. It returns an error if any profile entry has a non-positive
// length, or if no module profile was supplied at all, matching the
// original constructor's two invariant checks.
func NewController(cfg Config) (*Controller, error) {
	c := &Controller{
		id:        cfg.ID,
		timeScale: cfg.TimeScale,
		loadScale: cfg.LoadScale,
		workers:   make(map[string]*Worker),
	}
	if c.timeScale <= 0 {
		c.timeScale = 1.0
	}
	if c.loadScale <= 0 {
		c.loadScale = 1.0
	}

	add := func(name string, p *Profile) error {
		if p == nil {
			return nil
		}
		length, err := scaleLength(p.Series, c.timeScale)
		if err != nil {
			return fmt.Errorf("tvlp: %s profile: %w", name, err)
		}
		if length > c.totalLen {
			c.totalLen = length
		}
		c.workers[name] = NewWorker(p.Client, p.Series)
		c.order = append(c.order, name)
		return nil
	}

	if err := add("block", cfg.Block); err != nil {
		return nil, err
	}
	if err := add("memory", cfg.Memory); err != nil {
		return nil, err
	}
	if err := add("cpu", cfg.CPU); err != nil {
		return nil, err
	}
	if err := add("network", cfg.Network); err != nil {
		return nil, err
	}
	if err := add("packet", cfg.Packet); err != nil {
		return nil, err
	}

	if c.totalLen == 0 {
		return nil, fmt.Errorf("tvlp: invalid field value: no profile entries found")
	}

	c.state = StateReady
	return c, nil
}

func scaleLength(series []Entry, timeScale float64) (time.Duration, error) {
	var total time.Duration
	for _, e := range series {
		if e.Length <= 0 {
			return 0, fmt.Errorf("invalid field value: profile length cannot be less than or equal to zero")
		}
		total += time.Duration(float64(e.Length) * timeScale)
	}
	return total, nil
}

// ID returns the controller's identifier.
func (c *Controller) ID() string { return c.id }

// TotalLength returns the scaled length of the longest module profile.
func (c *Controller) TotalLength() time.Duration { return c.totalLen }

// IsRunning reports whether the controller is counting down or running,
// matching controller_t::is_running.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateCountdown || c.state == StateRunning
}

// Start launches every present module's worker at startTime. It is a no-op
// returning nil if the controller is already running, matching
// controller_t::start's early return on is_running().
func (c *Controller) Start(ctx context.Context, startTime time.Time, dynamic json.RawMessage) error {
	c.mu.Lock()
	if c.state == StateCountdown || c.state == StateRunning {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	for _, name := range c.order {
		w := c.workers[name]
		if err := w.Start(ctx, startTime, StartConfig{
			TimeScale:      c.timeScale,
			LoadScale:      c.loadScale,
			DynamicResults: dynamic,
		}); err != nil {
			c.stopStarted(name)
			return fmt.Errorf("tvlp: starting %s worker: %w", name, err)
		}
	}

	c.mu.Lock()
	c.startAt = startTime
	if startTime.After(time.Now()) {
		c.state = StateCountdown
	} else {
		c.state = StateRunning
	}
	c.mu.Unlock()
	return nil
}

// stopStarted stops every worker in c.order up to (but not including) name,
// used to unwind a partially-started controller after a Start failure.
func (c *Controller) stopStarted(failedAt string) {
	for _, name := range c.order {
		if name == failedAt {
			return
		}
		c.workers[name].Stop()
	}
}

// Stop requests every module worker stop, matching controller_t::stop.
func (c *Controller) Stop() {
	for _, name := range c.order {
		c.workers[name].Stop()
	}
	c.mu.Lock()
	c.state = StateReady
	c.mu.Unlock()
}

// ModuleResult is one module's accumulated result list as of the last
// Update call.
type ModuleResult struct {
	Module  string
	Results []json.RawMessage
}

// Update polls every worker's state/offset/results and aggregates them into
// the controller's own state, matching controller_t::update's
// READY < COUNTDOWN < RUNNING < ERROR precedence (ERROR always wins, and any
// worker still running holds the aggregate at RUNNING).
func (c *Controller) Update() (State, time.Duration, string, []ModuleResult) {
	state := StateReady
	var offset time.Duration
	var errText string
	var results []ModuleResult

	for _, name := range c.order {
		w := c.workers[name]
		switch w.State() {
		case StateReady:
		case StateCountdown:
			if state == StateReady {
				state = StateCountdown
			}
		case StateRunning:
			if state != StateError {
				state = StateRunning
			}
		case StateError:
			if err := w.Error(); err != nil {
				errText += err.Error() + ";"
			}
			state = StateError
		}
		if w.Offset() > offset {
			offset = w.Offset()
		}
		results = append(results, ModuleResult{Module: name, Results: w.Results()})
	}

	c.mu.Lock()
	c.state = state
	c.offset = offset
	c.errText = errText
	c.mu.Unlock()

	return state, offset, errText, results
}

// State returns the controller's last-computed aggregate state without
// polling workers; call Update first to refresh it.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
