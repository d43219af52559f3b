package bus

import (
	"errors"
)

// ErrClosed is returned by Send/Recv once a Transport endpoint has been
// closed.
var ErrClosed = errors.New("bus: transport closed")

// Transport is one endpoint of a request/reply channel. A module server
// owns the server-side endpoint; the REST façade and internal REST client
// own client-side endpoints. This stands in for the original's zmq
// REQ/ROUTER socket pair bound to an `inproc://openperf_<module>` endpoint
// (see SPEC_FULL.md §4.1, §6.1): no pack repo imports a message-queue
// client, so the wire contract is kept real (Frame, codec, round-trip) while
// the transport itself is an in-process channel pair.
type Transport interface {
	Send(Frame) error
	Recv() (Frame, error)
	Close() error
}

// pipe is a single unidirectional, unbuffered byte-frame channel plus a
// close signal. Two pipes, crossed, make a full-duplex endpoint pair.
type pipe struct {
	frames chan Frame
	done   chan struct{}
}

func newPipe() *pipe {
	return &pipe{frames: make(chan Frame), done: make(chan struct{})}
}

func (p *pipe) send(f Frame) error {
	select {
	case p.frames <- f:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

func (p *pipe) recv() (Frame, error) {
	select {
	case f := <-p.frames:
		return f, nil
	case <-p.done:
		return Frame{}, ErrClosed
	}
}

func (p *pipe) close() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}

// chanEndpoint is one side of an in-process Transport pair.
type chanEndpoint struct {
	out *pipe
	in  *pipe
}

func (e *chanEndpoint) Send(f Frame) error    { return e.out.send(f) }
func (e *chanEndpoint) Recv() (Frame, error)  { return e.in.recv() }
func (e *chanEndpoint) Close() error {
	e.out.close()
	e.in.close()
	return nil
}

// NewChanTransportPair builds a connected pair of in-process transports: the
// server endpoint and the client endpoint. Requests sent on the client side
// arrive on the server side's Recv, and vice versa for replies — matching
// one request/reply round trip per call, never pipelined, exactly as a
// module server's single dispatch loop expects.
func NewChanTransportPair() (server Transport, client Transport) {
	toServer := newPipe()
	toClient := newPipe()

	server = &chanEndpoint{out: toClient, in: toServer}
	client = &chanEndpoint{out: toServer, in: toClient}
	return server, client
}

// Endpoint names a module's bus address, mirroring the original's
// `inproc://openperf_<module>` convention. It is used purely for logging and
// for the registry of well-known module names in SPEC_FULL.md §2; the
// in-process Transport pair itself needs no string address to connect.
type Endpoint string

const (
	EndpointCPU     Endpoint = "inproc://openperf_cpu"
	EndpointMemory  Endpoint = "inproc://openperf_memory"
	EndpointBlock   Endpoint = "inproc://openperf_block"
	EndpointNetwork Endpoint = "inproc://openperf_network"
	EndpointPacket  Endpoint = "inproc://openperf_packet"
	EndpointTVLP    Endpoint = "inproc://openperf_tvlp"
)
