// Package memory implements the memory generator module: a read/write
// worker over an in-process buffer, grounded on
// _examples/original_source/src/modules/memory/generator/worker.cpp's
// read/write traits and generator_collection.hpp's per-generator
// bookkeeping, rendered as a single ticked worker instead of the original's
// reader/writer thread-pair finite state machine.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openperf/openperf/internal/generator"
	"github.com/openperf/openperf/internal/modsrv"
)

// Pattern names the access pattern a worker cycles through its buffer with.
type Pattern string

const (
	PatternSequential Pattern = "sequential"
	PatternRandom     Pattern = "random"
)

// Config is the memory generator's wire configuration.
type Config struct {
	BufferSize   int     `json:"buffer_size"`
	ReadsPerSec  float64 `json:"reads_per_sec"`
	WritesPerSec float64 `json:"writes_per_sec"`
	ReadSize     int     `json:"read_size"`
	WriteSize    int     `json:"write_size"`
	Pattern      Pattern `json:"pattern"`
}

// Scale multiplies the load-like fields (§3.5): reads/writes per second.
func (c Config) Scale(factor float64) Config {
	c.ReadsPerSec *= factor
	c.WritesPerSec *= factor
	return c
}

// Stats is the memory generator's reported statistics.
type Stats struct {
	ReadOps    uint64        `json:"read_ops"`
	WriteOps   uint64        `json:"write_ops"`
	ReadBytes  uint64        `json:"read_bytes"`
	WriteBytes uint64        `json:"write_bytes"`
	Runtime    time.Duration `json:"runtime"`
}

type handle struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup

	readOps, writeOps     atomic.Uint64
	readBytes, writeBytes atomic.Uint64
	start                 time.Time
}

func (h *handle) Stats() Stats {
	return Stats{
		ReadOps:    h.readOps.Load(),
		WriteOps:   h.writeOps.Load(),
		ReadBytes:  h.readBytes.Load(),
		WriteBytes: h.writeBytes.Load(),
		Runtime:    time.Since(h.start),
	}
}

func (h *handle) Stop() Stats {
	h.cancel()
	h.wg.Wait()
	return h.Stats()
}

// Runner implements generator.Runner[Config, Stats]: it spins a single
// worker goroutine that cycles a scratch buffer at the configured read/write
// rates, using time.Ticker-gated bursts rather than the original's
// clock-masked busy loop (io_clock_mask), since Go's scheduler makes a tight
// busy-spin across many generators wasteful.
type Runner struct{}

func (Runner) Start(id string, cfg Config) (generator.Handle[Stats], error) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, start: time.Now()}

	buf := make([]byte, maxInt(cfg.BufferSize, 1))
	scratch := make([]byte, maxInt(maxInt(cfg.ReadSize, cfg.WriteSize), 1))

	h.wg.Add(1)
	go h.run(ctx, cfg, buf, scratch)
	return h, nil
}

func (h *handle) run(ctx context.Context, cfg Config, buf, scratch []byte) {
	defer h.wg.Done()

	readInterval := rateInterval(cfg.ReadsPerSec)
	writeInterval := rateInterval(cfg.WritesPerSec)

	readTicker := newOptionalTicker(readInterval)
	writeTicker := newOptionalTicker(writeInterval)
	defer readTicker.Stop()
	defer writeTicker.Stop()

	var offset int
	for {
		select {
		case <-ctx.Done():
			return
		case <-readTicker.C():
			n := copySize(cfg.ReadSize, len(buf))
			if n > 0 {
				copy(scratch[:n], buf[offset%len(buf):])
				h.readOps.Add(1)
				h.readBytes.Add(uint64(n))
			}
		case <-writeTicker.C():
			n := copySize(cfg.WriteSize, len(buf))
			if n > 0 {
				copy(buf[offset%len(buf):], scratch[:n])
				h.writeOps.Add(1)
				h.writeBytes.Add(uint64(n))
			}
		}
		offset = nextOffset(cfg.Pattern, offset, len(buf))
	}
}

func nextOffset(p Pattern, offset, size int) int {
	if size == 0 {
		return 0
	}
	if p == PatternRandom {
		// A small LCG keeps this deterministic and dependency-free; true
		// randomness is not a load-shape requirement here.
		return (offset*1103515245 + 12345) % size
	}
	return (offset + 1) % size
}

func copySize(requested, bufSize int) int {
	if requested <= 0 {
		return 0
	}
	if requested > bufSize {
		return bufSize
	}
	return requested
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func rateInterval(perSec float64) time.Duration {
	if perSec <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / perSec)
}

// optionalTicker wraps a time.Ticker that may be disabled (interval <= 0),
// in which case its channel never fires.
type optionalTicker struct {
	t *time.Ticker
	c <-chan time.Time
}

func newOptionalTicker(d time.Duration) *optionalTicker {
	if d <= 0 {
		return &optionalTicker{c: make(chan time.Time)}
	}
	t := time.NewTicker(d)
	return &optionalTicker{t: t, c: t.C}
}

func (o *optionalTicker) C() <-chan time.Time { return o.c }
func (o *optionalTicker) Stop() {
	if o.t != nil {
		o.t.Stop()
	}
}

// NewRegistry builds the memory module's registry.
func NewRegistry() *generator.Registry[Config, Stats] {
	return generator.NewRegistry[Config, Stats](Runner{})
}

// NewCodec builds the modsrv codec for the memory module.
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
