// Package generator implements the module-agnostic generator lifecycle: the
// model types shared by every generator module and the generic registry that
// each module server (internal/modsrv) wraps around its own Config/Stats
// types. It is grounded on
// _examples/original_source/src/modules/cpu/{generator.hpp,generator_stack.hpp}
// and on the teacher's runmanager package for the Go-idiomatic state-machine
// and error shapes.
package generator

import (
	"encoding/json"
	"time"
)

// Generator is one configured, possibly-running load generator instance.
// Config and Stats are type parameters holding the module's own concrete
// types, which the registry never inspects; each module server marshals/
// unmarshals them at its boundary.
type Generator[Config, Stats any] struct {
	ID      string `json:"id"`
	Config  Config `json:"config"`
	Running bool   `json:"running"`

	// StartedAt is the time of the most recent Start/Toggle-in, zero if the
	// generator has never run. It rides the wire as RawGenerator.StartTime.
	StartedAt time.Time

	createdAt time.Time
}

// Result is a snapshot of a generator's statistics at a point in time,
// identified independently of the generator that produced it so that it can
// outlive generator deletion — mirroring generator_result's own id distinct
// from generator_id.
type Result[Stats any] struct {
	ID          string    `json:"id"`
	GeneratorID string    `json:"generator_id"`
	Stats       Stats     `json:"stats"`
	Timestamp   time.Time `json:"timestamp"`
	Active      bool      `json:"active"` // true while the source generator is still running
}

// RawGenerator and RawResult are the JSON-RawMessage-keyed shapes carried
// across internal/bus, where config/stats payloads must stay opaque to the
// codec.
type RawGenerator struct {
	ID      string          `json:"id"`
	Config  json.RawMessage `json:"config"`
	Running bool            `json:"running"`

	// StartTime, FinalStats and PreviousStats are populated only on the
	// replies where they apply (start/toggle set StartTime; stop sets
	// FinalStats; toggle additionally sets PreviousStats for the generator
	// it replaced) — never persisted, just carried on that one response.
	StartTime     *time.Time      `json:"start_time,omitempty"`
	FinalStats    json.RawMessage `json:"final_stats,omitempty"`
	PreviousStats json.RawMessage `json:"previous_stats,omitempty"`
}

type RawResult struct {
	ID          string          `json:"id"`
	GeneratorID string          `json:"generator_id"`
	Stats       json.RawMessage `json:"stats"`
	Timestamp   time.Time       `json:"timestamp"`
	Active      bool            `json:"active"`
}
