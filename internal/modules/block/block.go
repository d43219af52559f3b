// Package block implements the block-device generator module: synthetic
// read/write I/O against a target resource (a file path or a stub device in
// this rewrite, since no real block layer is wired in). Grounded on
// _examples/original_source/src/modules/block/handler.cpp's route and
// generator-config shape (queue_depth, start/stop/bulk-start/bulk-stop).
package block

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openperf/openperf/internal/generator"
	"github.com/openperf/openperf/internal/modsrv"
)

// Pattern names the block-offset access pattern.
type Pattern string

const (
	PatternSequential Pattern = "sequential"
	PatternRandom     Pattern = "random"
)

// Config is the block generator's wire configuration. TargetID names the
// block-file resource this generator drives against; resolving it to a real
// device is a concern of internal/bootstrap-managed resources, out of scope
// for the generator core itself.
type Config struct {
	TargetID     string  `json:"target_id"`
	QueueDepth   int     `json:"queue_depth"`
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

// Stats is the block generator's reported statistics.
type Stats struct {
	ReadOps    uint64        `json:"read_ops"`
	WriteOps   uint64        `json:"write_ops"`
	ReadBytes  uint64        `json:"read_bytes"`
	WriteBytes uint64        `json:"write_bytes"`
	QueueDepth int           `json:"queue_depth"`
	Runtime    time.Duration `json:"runtime"`
}

type handle struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup

	readOps, writeOps     atomic.Uint64
	readBytes, writeBytes atomic.Uint64
	queueDepth            int
	start                 time.Time
}

func (h *handle) Stats() Stats {
	return Stats{
		ReadOps:    h.readOps.Load(),
		WriteOps:   h.writeOps.Load(),
		ReadBytes:  h.readBytes.Load(),
		WriteBytes: h.writeBytes.Load(),
		QueueDepth: h.queueDepth,
		Runtime:    time.Since(h.start),
	}
}

func (h *handle) Stop() Stats {
	h.cancel()
	h.wg.Wait()
	return h.Stats()
}

// Runner implements generator.Runner[Config, Stats]. Each configured queue
// slot runs its own goroutine issuing reads/writes at the configured rate
// against an in-process scratch buffer, standing in for a real block target
// (§1 non-goals: the kernel I/O path is an external collaborator).
type Runner struct{}

func (Runner) Start(id string, cfg Config) (generator.Handle[Stats], error) {
	ctx, cancel := context.WithCancel(context.Background())
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 1
	}
	h := &handle{cancel: cancel, queueDepth: depth, start: time.Now()}

	for q := 0; q < depth; q++ {
		h.wg.Add(1)
		go h.runQueue(ctx, cfg)
	}
	return h, nil
}

func (h *handle) runQueue(ctx context.Context, cfg Config) {
	defer h.wg.Done()

	readSize := cfg.ReadSize
	if readSize <= 0 {
		readSize = 4096
	}
	writeSize := cfg.WriteSize
	if writeSize <= 0 {
		writeSize = 4096
	}
	scratch := make([]byte, maxInt(readSize, writeSize))

	readInterval := rateInterval(cfg.ReadsPerSec)
	writeInterval := rateInterval(cfg.WritesPerSec)
	readTicker := newOptionalTicker(readInterval)
	writeTicker := newOptionalTicker(writeInterval)
	defer readTicker.Stop()
	defer writeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readTicker.C():
			_ = scratch[:readSize]
			h.readOps.Add(1)
			h.readBytes.Add(uint64(readSize))
		case <-writeTicker.C():
			_ = scratch[:writeSize]
			h.writeOps.Add(1)
			h.writeBytes.Add(uint64(writeSize))
		}
	}
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

// NewRegistry builds the block module's registry.
func NewRegistry() *generator.Registry[Config, Stats] {
	return generator.NewRegistry[Config, Stats](Runner{})
}

// NewCodec builds the modsrv codec for the block module.
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
