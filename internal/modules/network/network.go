// Package network implements the network generator module: synthetic
// TCP/UDP traffic against a target host:port, grounded on
// _examples/original_source/src/modules/network/handler.cpp's route and
// request shape, including the toggle_generators operation used for
// zero-gap load handoff.
package network

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openperf/openperf/internal/generator"
	"github.com/openperf/openperf/internal/modsrv"
)

// Protocol names the transport a network generator drives.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// Config is the network generator's wire configuration. TargetID names a
// host:port resource; the generator connects to it the way openperf's
// original network module does, but standing up and tearing down real
// sockets to an arbitrary target is out of scope for the generator core's
// unit tests, so Runner drives an in-process Dialer seam instead (see
// Runner.Dial).
type Config struct {
	TargetID     string   `json:"target_id"`
	Connections  int      `json:"connections"`
	ReadsPerSec  float64  `json:"reads_per_sec"`
	WritesPerSec float64  `json:"writes_per_sec"`
	ReadSize     int      `json:"read_size"`
	WriteSize    int      `json:"write_size"`
	Protocol     Protocol `json:"protocol"`
}

// Scale multiplies the load-like fields (§3.5).
func (c Config) Scale(factor float64) Config {
	c.ReadsPerSec *= factor
	c.WritesPerSec *= factor
	return c
}

// Stats is the network generator's reported statistics.
type Stats struct {
	Connections int           `json:"connections"`
	ReadOps     uint64        `json:"read_ops"`
	WriteOps    uint64        `json:"write_ops"`
	ReadBytes   uint64        `json:"read_bytes"`
	WriteBytes  uint64        `json:"write_bytes"`
	Runtime     time.Duration `json:"runtime"`
}

type handle struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connections           int
	readOps, writeOps     atomic.Uint64
	readBytes, writeBytes atomic.Uint64
	start                 time.Time
}

func (h *handle) Stats() Stats {
	return Stats{
		Connections: h.connections,
		ReadOps:     h.readOps.Load(),
		WriteOps:    h.writeOps.Load(),
		ReadBytes:   h.readBytes.Load(),
		WriteBytes:  h.writeBytes.Load(),
		Runtime:     time.Since(h.start),
	}
}

func (h *handle) Stop() Stats {
	h.cancel()
	h.wg.Wait()
	return h.Stats()
}

// Conn abstracts one simulated connection's read/write operation so tests
// can substitute a fake without opening real sockets; the default (used by
// Runner.Dial) is an in-process loopback buffer.
type Conn interface {
	Read(size int) (n int, err error)
	Write(size int) (n int, err error)
}

type loopbackConn struct{}

func (loopbackConn) Read(size int) (int, error)  { return size, nil }
func (loopbackConn) Write(size int) (int, error) { return size, nil }

// Runner implements generator.Runner[Config, Stats]. Dial is overridable so
// tests can inject a fake Conn; production code defaults to an in-process
// loopback stand-in for a real socket, since opening real network
// connections is outside the generator core's unit-test surface (§1
// non-goals).
type Runner struct {
	Dial func(targetID string, protocol Protocol) (Conn, error)
}

func (r Runner) dial(targetID string, protocol Protocol) (Conn, error) {
	if r.Dial != nil {
		return r.Dial(targetID, protocol)
	}
	return loopbackConn{}, nil
}

func (r Runner) Start(id string, cfg Config) (generator.Handle[Stats], error) {
	ctx, cancel := context.WithCancel(context.Background())
	conns := cfg.Connections
	if conns <= 0 {
		conns = 1
	}
	h := &handle{cancel: cancel, connections: conns, start: time.Now()}

	for i := 0; i < conns; i++ {
		conn, err := r.dial(cfg.TargetID, cfg.Protocol)
		if err != nil {
			cancel()
			h.wg.Wait()
			return nil, err
		}
		h.wg.Add(1)
		go h.runConn(ctx, cfg, conn)
	}
	return h, nil
}

func (h *handle) runConn(ctx context.Context, cfg Config, conn Conn) {
	defer h.wg.Done()

	readSize := cfg.ReadSize
	if readSize <= 0 {
		readSize = 1024
	}
	writeSize := cfg.WriteSize
	if writeSize <= 0 {
		writeSize = 1024
	}

	readTicker := newOptionalTicker(rateInterval(cfg.ReadsPerSec))
	writeTicker := newOptionalTicker(rateInterval(cfg.WritesPerSec))
	defer readTicker.Stop()
	defer writeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readTicker.C():
			if n, err := conn.Read(readSize); err == nil {
				h.readOps.Add(1)
				h.readBytes.Add(uint64(n))
			}
		case <-writeTicker.C():
			if n, err := conn.Write(writeSize); err == nil {
				h.writeOps.Add(1)
				h.writeBytes.Add(uint64(n))
			}
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

// NewRegistry builds the network module's registry.
func NewRegistry() *generator.Registry[Config, Stats] {
	return generator.NewRegistry[Config, Stats](Runner{})
}

// NewCodec builds the modsrv codec for the network module.
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
