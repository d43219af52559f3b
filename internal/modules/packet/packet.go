// Package packet implements the packet generator/analyzer module. Per
// SPEC_FULL.md §3 and §1's non-goals, the real NIC/DPDK data plane and pcap
// capture writer are external collaborators; this package models them as
// Source/Sink interfaces (plain byte-frame producer/consumer) so the
// generator core, registry, and TVLP wiring are fully exercised without a
// real packet I/O stack. Grounded on
// _examples/original_source/src/modules/packet/generator and
// src/swagger/converters/packet_generator.hpp for the config/stats shape.
package packet

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openperf/openperf/internal/generator"
	"github.com/openperf/openperf/internal/modsrv"
)

// Sink accepts generated frames; Source supplies frames for a capture-style
// generator to consume and count. Both are deliberately narrow so a test or
// an in-process loopback implementation can stand in for a real NIC.
type Sink interface {
	Send(frame []byte) error
}

type Source interface {
	Recv() (frame []byte, err error)
}

// Config is the packet generator's wire configuration.
type Config struct {
	FrameSize     int     `json:"frame_size"`
	FramesPerSec  float64 `json:"frames_per_sec"`
	Protocol      string  `json:"protocol"` // descriptive only: "eth", "ip", "udp", ...
}

// Scale multiplies the load-like field (§3.5): frames per second.
func (c Config) Scale(factor float64) Config {
	c.FramesPerSec *= factor
	return c
}

// Stats is the packet generator's reported statistics.
type Stats struct {
	FramesSent uint64        `json:"frames_sent"`
	BytesSent  uint64        `json:"bytes_sent"`
	Errors     uint64        `json:"errors"`
	Runtime    time.Duration `json:"runtime"`
}

type discardSink struct{}

func (discardSink) Send([]byte) error { return nil }

type handle struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup

	frames, bytes, errs atomic.Uint64
	start               time.Time
}

func (h *handle) Stats() Stats {
	return Stats{
		FramesSent: h.frames.Load(),
		BytesSent:  h.bytes.Load(),
		Errors:     h.errs.Load(),
		Runtime:    time.Since(h.start),
	}
}

func (h *handle) Stop() Stats {
	h.cancel()
	h.wg.Wait()
	return h.Stats()
}

// Runner implements generator.Runner[Config, Stats]. Sink defaults to a
// discard sink (no real NIC wired in); the package tests inject a counting
// Sink instead.
type Runner struct {
	Sink func() Sink
}

func (r Runner) sink() Sink {
	if r.Sink != nil {
		return r.Sink()
	}
	return discardSink{}
}

func (r Runner) Start(id string, cfg Config) (generator.Handle[Stats], error) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, start: time.Now()}

	frameSize := cfg.FrameSize
	if frameSize <= 0 {
		frameSize = 64
	}
	sink := r.sink()

	h.wg.Add(1)
	go h.run(ctx, cfg, frameSize, sink)
	return h, nil
}

func (h *handle) run(ctx context.Context, cfg Config, frameSize int, sink Sink) {
	defer h.wg.Done()

	ticker := newOptionalTicker(rateInterval(cfg.FramesPerSec))
	defer ticker.Stop()

	frame := make([]byte, frameSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if err := sink.Send(frame); err != nil {
				h.errs.Add(1)
				continue
			}
			h.frames.Add(1)
			h.bytes.Add(uint64(frameSize))
		}
	}
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

// NewRegistry builds the packet module's registry.
func NewRegistry() *generator.Registry[Config, Stats] {
	return generator.NewRegistry[Config, Stats](Runner{})
}

// NewCodec builds the modsrv codec for the packet module.
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
