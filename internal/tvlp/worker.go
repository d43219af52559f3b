// Package tvlp implements the Time-Varying Load Profile worker and
// controller: a scripted timeline of generator configurations driven
// against the REST façade, grounded line for line on
// _examples/original_source/src/modules/tvlp/{worker.cpp,controller.cpp}.
package tvlp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Threshold bounds how long the scheduling loop sleeps between checks,
// matching the original's THRESHOLD = 100ms: it is the loop's responsiveness
// to Stop() and to cascading into the next profile entry, not a rate limit
// on generator updates.
const Threshold = 100 * time.Millisecond

// State is the worker's externally observable state machine.
type State int

const (
	StateReady State = iota
	StateCountdown
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateCountdown:
		return "countdown"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is one scripted step of a module's profile: how long it runs and
// the generator configuration active during that step.
type Entry struct {
	Length time.Duration
	Config json.RawMessage
}

// StartConfig carries the parameters common to every module's worker for a
// single TVLP run, matching model::tvlp_start_t::start_t.
type StartConfig struct {
	TimeScale      float64
	LoadScale      float64
	DynamicResults json.RawMessage
}

// ModuleClient is the subset of REST calls a worker needs against one
// module's generator endpoints. The real implementation
// (internal/restclient-backed, see NewHTTPModuleClient) speaks the routes
// named in SPEC_FULL.md §6.2; tests substitute a fake.
type ModuleClient interface {
	Create(ctx context.Context, cfg json.RawMessage) (id string, err error)
	Start(ctx context.Context, id string, dynamic json.RawMessage) (startTime time.Time, err error)
	Stats(ctx context.Context, id string) (json.RawMessage, error)
	Stop(ctx context.Context, id string) (finalStats json.RawMessage, err error)
	Delete(ctx context.Context, id string) error
	SupportsToggle() bool
	Toggle(ctx context.Context, oldID, newID string, dynamic json.RawMessage) (startTime time.Time, previousStats json.RawMessage, err error)
}

// entryState tracks the currently active profile entry, mirroring
// tvlp_worker_t::entry_state_t.
type entryState struct {
	active    bool
	entryIdx  int
	genID     string
	startTime time.Time
}

// resultOp names whether a stats update appends a new element or replaces
// the most recent one, matching result_store_operation.
type resultOp int

const (
	resultAdd resultOp = iota
	resultUpdate
)

// Worker runs one module's scripted profile against a ModuleClient. It is
// safe for concurrent use of Start/Stop/State/Offset/Results from any
// goroutine; exactly one scheduling goroutine runs at a time.
type Worker struct {
	client ModuleClient
	series []Entry

	state  atomic.Int32 // State
	offset atomic.Int64 // time.Duration
	errMu  sync.Mutex
	errVal error

	resultsMu sync.Mutex
	results   []json.RawMessage

	mu      sync.Mutex
	stopped atomic.Bool
	done    chan struct{}

	now func() time.Time
}

// NewWorker builds a worker over the given profile series.
func NewWorker(client ModuleClient, series []Entry) *Worker {
	w := &Worker{client: client, series: series, now: time.Now}
	w.state.Store(int32(StateReady))
	return w
}

func (w *Worker) State() State           { return State(w.state.Load()) }
func (w *Worker) Offset() time.Duration  { return time.Duration(w.offset.Load()) }

// Error returns the failure that moved the worker into StateError, if any.
func (w *Worker) Error() error {
	if w.State() != StateError {
		return nil
	}
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.errVal
}

// Results returns a snapshot of the accumulated per-entry result list.
func (w *Worker) Results() []json.RawMessage {
	w.resultsMu.Lock()
	defer w.resultsMu.Unlock()
	out := make([]json.RawMessage, len(w.results))
	copy(out, w.results)
	return out
}

// Start begins the worker's schedule, either immediately or after a
// countdown to startTime, matching tvlp_worker_t::start. It fails if the
// worker is already counting down or running.
func (w *Worker) Start(ctx context.Context, startTime time.Time, cfg StartConfig) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.State() {
	case StateRunning, StateCountdown:
		return fmt.Errorf("tvlp: worker is already in running state")
	}

	w.offset.Store(0)
	w.stopped.Store(false)
	if startTime.After(w.now()) {
		w.state.Store(int32(StateCountdown))
	} else {
		w.state.Store(int32(StateRunning))
	}
	w.resultsMu.Lock()
	w.results = nil
	w.resultsMu.Unlock()

	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		w.schedule(ctx, startTime, cfg)
	}()
	return nil
}

// Stop requests the schedule loop end at its next Threshold-bounded check
// and waits for it to do so.
func (w *Worker) Stop() {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()

	if done == nil {
		return
	}
	w.stopped.Store(true)
	<-done
	w.state.Store(int32(StateReady))
}

func (w *Worker) storeResult(raw json.RawMessage, op resultOp) {
	w.resultsMu.Lock()
	defer w.resultsMu.Unlock()
	switch op {
	case resultAdd:
		w.results = append(w.results, raw)
	case resultUpdate:
		if len(w.results) == 0 {
			w.results = append(w.results, raw)
		} else {
			w.results[len(w.results)-1] = raw
		}
	}
}

func (w *Worker) fail(err error) error {
	w.errMu.Lock()
	w.errVal = err
	w.errMu.Unlock()
	w.state.Store(int32(StateError))
	return err
}

// schedule is the worker's main loop: wait for start_time, then walk the
// profile series, running each entry for its scaled length and polling
// stats every Threshold until the entry ends, exactly as
// tvlp_worker_t::schedule does.
func (w *Worker) schedule(ctx context.Context, startTime time.Time, cfg StartConfig) {
	for now := w.now(); now.Before(startTime); now = w.now() {
		if w.stopped.Load() {
			w.state.Store(int32(StateReady))
			return
		}
		sleepFor := startTime.Sub(now)
		if sleepFor > Threshold {
			sleepFor = Threshold
		}
		time.Sleep(sleepFor)
	}

	w.state.Store(int32(StateRunning))
	var state entryState
	var totalOffset time.Duration

	for i, entry := range w.series {
		lastEntry := i == len(w.series)-1

		if w.stopped.Load() {
			if state.active {
				w.doEntryStop(ctx, &state)
			}
			w.state.Store(int32(StateReady))
			return
		}

		if err := w.doEntryStart(ctx, &state, i, entry, cfg); err != nil {
			if state.active {
				w.doEntryStop(ctx, &state)
			}
			w.fail(err)
			return
		}

		entryDuration := time.Duration(float64(entry.Length) * cfg.TimeScale)
		endTime := state.startTime.Add(entryDuration)

		for now := state.startTime; now.Before(endTime); now = w.now() {
			w.offset.Store(int64(totalOffset + now.Sub(state.startTime)))

			if w.stopped.Load() {
				w.doEntryStop(ctx, &state)
				w.state.Store(int32(StateReady))
				return
			}

			if err := w.doEntryStats(ctx, &state); err != nil {
				w.doEntryStop(ctx, &state)
				w.fail(err)
				return
			}

			sleepFor := endTime.Sub(now)
			if sleepFor > Threshold {
				sleepFor = Threshold
			}
			if sleepFor > 0 {
				time.Sleep(sleepFor)
			} else {
				break
			}
		}

		totalOffset += entryDuration
		w.offset.Store(int64(totalOffset))

		if !w.client.SupportsToggle() || lastEntry {
			if err := w.doEntryStop(ctx, &state); err != nil {
				w.fail(err)
				return
			}
		}
	}

	w.state.Store(int32(StateReady))
}

func (w *Worker) doEntryStart(ctx context.Context, state *entryState, idx int, entry Entry, cfg StartConfig) error {
	genID, err := w.client.Create(ctx, entry.Config)
	if err != nil {
		return err
	}

	if !state.active {
		startTime, err := w.client.Start(ctx, genID, cfg.DynamicResults)
		if err != nil {
			w.client.Delete(ctx, genID)
			return err
		}
		state.active = true
		state.entryIdx = idx
		state.genID = genID
		state.startTime = startTime

		initial, err := w.client.Stats(ctx, genID)
		if err == nil {
			w.storeResult(initial, resultAdd)
		}
		return nil
	}

	startTime, prevStats, err := w.client.Toggle(ctx, state.genID, genID, cfg.DynamicResults)
	if err != nil {
		w.client.Delete(ctx, genID)
		return err
	}
	prevGenID := state.genID
	state.entryIdx = idx
	state.genID = genID
	state.startTime = startTime

	if prevStats != nil {
		w.storeResult(prevStats, resultUpdate)
	}

	initial, err := w.client.Stats(ctx, genID)
	if err == nil {
		w.storeResult(initial, resultAdd)
	}

	return w.client.Delete(ctx, prevGenID)
}

func (w *Worker) doEntryStop(ctx context.Context, state *entryState) error {
	if !state.active {
		return nil
	}
	finalStats, err := w.client.Stop(ctx, state.genID)
	if err != nil {
		return err
	}
	if finalStats != nil {
		w.storeResult(finalStats, resultUpdate)
	}
	if err := w.client.Delete(ctx, state.genID); err != nil {
		return err
	}

	state.active = false
	state.genID = ""
	return nil
}

func (w *Worker) doEntryStats(ctx context.Context, state *entryState) error {
	raw, err := w.client.Stats(ctx, state.genID)
	if err != nil {
		return err
	}
	w.storeResult(raw, resultUpdate)
	return nil
}
