package generator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle is a live, running generator instance returned by a Runner. Stats
// reads the generator's current statistics without stopping it; Stop halts
// it and returns its final statistics, mirroring generator::stop()'s
// post-condition that statistics() remains valid after the generator stops.
type Handle[Stats any] interface {
	Stats() Stats
	Stop() Stats
}

// Runner starts a generator instance for a module. Each module
// (internal/modules/cpu, .../memory, ...) supplies its own Runner backed by
// its worker-task implementation.
type Runner[Config, Stats any] interface {
	Start(id string, cfg Config) (Handle[Stats], error)
}

type entry[Config, Stats any] struct {
	gen    Generator[Config, Stats]
	handle Handle[Stats]
}

// Registry is the generic, single-writer generator stack shared by every
// module server, grounded on generator_stack.hpp's map-based design: one
// mutex-guarded map of generators plus a separate map of retained results so
// that a result can outlive the generator that produced it.
type Registry[Config, Stats any] struct {
	runner Runner[Config, Stats]
	newID  func() string

	mu         sync.Mutex
	generators map[string]*entry[Config, Stats]
	results    map[string]*Result[Stats]
}

// NewRegistry builds an empty registry backed by runner. IDs are generated
// with uuid.New() unless newID is overridden (tests pass a deterministic
// generator).
func NewRegistry[Config, Stats any](runner Runner[Config, Stats]) *Registry[Config, Stats] {
	return &Registry[Config, Stats]{
		runner:     runner,
		newID:      func() string { return uuid.NewString() },
		generators: make(map[string]*entry[Config, Stats]),
		results:    make(map[string]*Result[Stats]),
	}
}

// List returns every configured generator, running or not, in unspecified
// order.
func (r *Registry[Config, Stats]) List() []Generator[Config, Stats] {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Generator[Config, Stats], 0, len(r.generators))
	for _, e := range r.generators {
		out = append(out, r.snapshot(e))
	}
	return out
}

// Get returns the named generator, or a not-found *Error.
func (r *Registry[Config, Stats]) Get(id string) (Generator[Config, Stats], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.generators[id]
	if !ok {
		return Generator[Config, Stats]{}, NewNotFoundError(id)
	}
	return r.snapshot(e), nil
}

// Create registers a new, stopped generator under a freshly assigned random
// id. Callers that need a specific id use CreateWithID.
func (r *Registry[Config, Stats]) Create(cfg Config) (Generator[Config, Stats], error) {
	return r.CreateWithID("", cfg)
}

// CreateWithID registers a new, stopped generator under id, per §4.2's
// create(cfg): an empty id assigns a fresh random one; a non-empty id is
// validated against [a-z0-9-]+ and must not already be in use, failing with
// an "exists" error otherwise.
func (r *Registry[Config, Stats]) CreateWithID(id string, cfg Config) (Generator[Config, Stats], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		id = r.newID()
	} else if err := ValidateID(id); err != nil {
		return Generator[Config, Stats]{}, err
	}
	if _, ok := r.generators[id]; ok {
		return Generator[Config, Stats]{}, NewExistsError(id)
	}

	e := &entry[Config, Stats]{gen: Generator[Config, Stats]{ID: id, Config: cfg, createdAt: time.Now()}}
	r.generators[id] = e
	return r.snapshot(e), nil
}

// BulkCreate registers every config in cfgs under freshly assigned random
// ids, all-or-nothing. It exists to match §4.2's bulk operation pair;
// callers that need specific ids use BulkCreateWithIDs.
func (r *Registry[Config, Stats]) BulkCreate(cfgs []Config) ([]Generator[Config, Stats], error) {
	return r.BulkCreateWithIDs(cfgs, make([]string, len(cfgs)))
}

// BulkCreateWithIDs registers every config in cfgs under the id at the same
// index in ids (an empty entry assigns a fresh random id), all-or-nothing:
// if any id is malformed, already in use, or duplicated within the batch
// itself, none of the batch is applied.
func (r *Registry[Config, Stats]) BulkCreateWithIDs(cfgs []Config, ids []string) ([]Generator[Config, Stats], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resolved := make([]string, len(cfgs))
	seen := make(map[string]bool, len(cfgs))
	for i, id := range ids {
		if id == "" {
			id = r.newID()
		} else if err := ValidateID(id); err != nil {
			return nil, err
		}
		if _, ok := r.generators[id]; ok || seen[id] {
			return nil, NewExistsError(id)
		}
		seen[id] = true
		resolved[i] = id
	}

	created := make([]Generator[Config, Stats], 0, len(cfgs))
	for i, cfg := range cfgs {
		e := &entry[Config, Stats]{gen: Generator[Config, Stats]{ID: resolved[i], Config: cfg, createdAt: time.Now()}}
		r.generators[resolved[i]] = e
		created = append(created, r.snapshot(e))
	}
	return created, nil
}

// Erase removes a stopped generator and every result retained for it, per
// §3.3 ("deleting the parent generator first drops all its inactive
// results"). Erasing a running generator fails with a busy error, per §7's
// taxonomy — callers must Stop first.
func (r *Registry[Config, Stats]) Erase(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.generators[id]
	if !ok {
		return NewNotFoundError(id)
	}
	if e.gen.Running {
		return NewBusyError(id, "erase")
	}
	delete(r.generators, id)
	r.eraseResultsFor(id)
	return nil
}

// eraseResultsFor deletes every retained result whose GeneratorID is id. The
// caller must hold r.mu.
func (r *Registry[Config, Stats]) eraseResultsFor(id string) {
	for resultID, res := range r.results {
		if res.GeneratorID == id {
			delete(r.results, resultID)
		}
	}
}

// BulkErase removes every named generator on a best-effort basis (§9 design
// notes): unknown ids are skipped, and a currently-running generator is
// skipped and reported back as a per-id failure rather than aborting the
// rest of the batch. Each erased generator's retained results are dropped
// along with it, per §3.3, same as a single Erase.
func (r *Registry[Config, Stats]) BulkErase(ids []string) []BulkFailure {
	r.mu.Lock()
	defer r.mu.Unlock()

	var failures []BulkFailure
	for _, id := range ids {
		e, ok := r.generators[id]
		if !ok {
			continue // unknown ids are ignored, not reported
		}
		if e.gen.Running {
			failures = append(failures, BulkFailure{ID: id, Message: "generator is running"})
			continue
		}
		delete(r.generators, id)
		r.eraseResultsFor(id)
	}
	return failures
}

// BulkFailure names one id a best-effort bulk operation could not apply.
type BulkFailure struct {
	ID      string
	Message string
}

// Start begins running the named generator via the registry's Runner. It
// fails if the generator is unknown or already running.
func (r *Registry[Config, Stats]) Start(id string) (Generator[Config, Stats], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.generators[id]
	if !ok {
		return Generator[Config, Stats]{}, NewNotFoundError(id)
	}
	if e.gen.Running {
		return Generator[Config, Stats]{}, NewBusyError(id, "start")
	}

	handle, err := r.runner.Start(id, e.gen.Config)
	if err != nil {
		return Generator[Config, Stats]{}, NewCustomError(id, "failed to start generator", err)
	}

	e.handle = handle
	e.gen.Running = true
	e.gen.StartedAt = time.Now()
	return r.snapshot(e), nil
}

// Stop halts the named generator, retaining its final statistics as a
// standalone Result that survives the generator's own later erasure —
// mirroring generator_stack::stop_generator's "statistics[result.id()] =
// result" step. The returned *Stats is the generator's final statistics, or
// nil if it was not running (stopping an already-stopped generator is a
// no-op).
func (r *Registry[Config, Stats]) Stop(id string) (Generator[Config, Stats], *Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.generators[id]
	if !ok {
		return Generator[Config, Stats]{}, nil, NewNotFoundError(id)
	}
	if !e.gen.Running {
		return r.snapshot(e), nil, nil
	}

	stats := e.handle.Stop()
	resultID := r.newID()
	r.results[resultID] = &Result[Stats]{
		ID:          resultID,
		GeneratorID: id,
		Stats:       stats,
		Timestamp:   time.Now(),
		Active:      false,
	}

	e.handle = nil
	e.gen.Running = false
	return r.snapshot(e), &stats, nil
}

// Toggle atomically starts the already-created generator newID and stops
// oldID, so that a control loop can hand off load without a gap, per §4.2/§4.6's toggle operation used by network and packet
// generators. Preconditions: oldID must name a currently running generator,
// and newID must name a currently stopped one — toggling from an id that is
// not running fails rather than silently degrading to a plain start.
func (r *Registry[Config, Stats]) Toggle(oldID, newID string) (Generator[Config, Stats], *Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldEntry, ok := r.generators[oldID]
	if !ok {
		return Generator[Config, Stats]{}, nil, NewNotFoundError(oldID)
	}
	if !oldEntry.gen.Running {
		return Generator[Config, Stats]{}, nil, NewInvalidArgumentError(oldID, fmt.Sprintf("toggle: %s is not running", oldID))
	}

	newEntry, ok := r.generators[newID]
	if !ok {
		return Generator[Config, Stats]{}, nil, NewNotFoundError(newID)
	}
	if newEntry.gen.Running {
		return Generator[Config, Stats]{}, nil, NewBusyError(newID, "toggle into")
	}

	handle, err := r.runner.Start(newID, newEntry.gen.Config)
	if err != nil {
		return Generator[Config, Stats]{}, nil, NewCustomError(newID, "failed to start replacement generator", err)
	}
	newEntry.handle = handle
	newEntry.gen.Running = true
	newEntry.gen.StartedAt = time.Now()

	stats := oldEntry.handle.Stop()
	resultID := r.newID()
	r.results[resultID] = &Result[Stats]{
		ID: resultID, GeneratorID: oldID, Stats: stats, Timestamp: time.Now(),
	}
	oldEntry.handle = nil
	oldEntry.gen.Running = false

	return r.snapshot(newEntry), &stats, nil
}

// ResultList returns every retained result, both from generators still
// running (a live snapshot) and from generators already stopped.
func (r *Registry[Config, Stats]) ResultList() []Result[Stats] {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Result[Stats], 0, len(r.results)+len(r.generators))
	for _, res := range r.results {
		out = append(out, *res)
	}
	for id, e := range r.generators {
		if e.gen.Running {
			out = append(out, Result[Stats]{ID: id, GeneratorID: id, Stats: e.handle.Stats(), Timestamp: time.Now(), Active: true})
		}
	}
	return out
}

// ResultGet returns the named result: a retained, stopped result, or a live
// snapshot if id names a currently running generator (mirroring
// generator_stack::statistics's std::visit over the stored variant).
func (r *Registry[Config, Stats]) ResultGet(id string) (Result[Stats], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.results[id]; ok {
		return *res, nil
	}
	if e, ok := r.generators[id]; ok && e.gen.Running {
		return Result[Stats]{ID: id, GeneratorID: id, Stats: e.handle.Stats(), Timestamp: time.Now(), Active: true}, nil
	}
	return Result[Stats]{}, NewNotFoundError(id)
}

// ResultErase removes a retained, stopped result. It cannot remove a live
// generator's in-progress statistics (erase_statistics returns false for
// those in the original), so it returns a busy error in that case.
func (r *Registry[Config, Stats]) ResultErase(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.results[id]; ok {
		delete(r.results, id)
		return nil
	}
	if e, ok := r.generators[id]; ok && e.gen.Running {
		return NewBusyError(id, "erase results for")
	}
	return NewNotFoundError(id)
}

func (r *Registry[Config, Stats]) snapshot(e *entry[Config, Stats]) Generator[Config, Stats] {
	return e.gen
}
