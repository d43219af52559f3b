// Package api implements the REST façade: one HTTP server exposing every
// module's generator routes plus the TVLP routes, grounded on the teacher's
// net/http + manual mux.HandleFunc/routeX dispatch style in
// internal/controlplane/api/server.go (SPEC_FULL.md §6.2).
package api

import (
	"encoding/json"
	"sync"

	"github.com/openperf/openperf/internal/bus"
	"github.com/openperf/openperf/internal/generator"
)

// busClient issues requests against one module server's bus.Transport and
// decodes the reply, serializing access since a Transport carries one
// request in flight at a time (matching the module server's single dispatch
// goroutine, §5).
type busClient struct {
	mu        sync.Mutex
	transport bus.Transport
}

func newBusClient(transport bus.Transport) *busClient {
	return &busClient{transport: transport}
}

func (c *busClient) roundTrip(req bus.Request) (bus.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frame, err := bus.EncodeRequest(req)
	if err != nil {
		return bus.Reply{}, err
	}
	if err := c.transport.Send(frame); err != nil {
		return bus.Reply{}, err
	}
	replyFrame, err := c.transport.Recv()
	if err != nil {
		return bus.Reply{}, err
	}
	return bus.DecodeReply(replyFrame)
}

// asError converts a wire-carried BusError back into a generator.Error, so
// callers can reuse the same Kind-based status-code mapping regardless of
// whether they went through the bus or called a Registry directly.
func asError(be *bus.BusError) error {
	if be == nil {
		return nil
	}
	var kind generator.ErrorKind
	switch be.Kind {
	case generator.ErrKindNotFound.String():
		kind = generator.ErrKindNotFound
	case generator.ErrKindExists.String():
		kind = generator.ErrKindExists
	case generator.ErrKindInvalidArgument.String():
		kind = generator.ErrKindInvalidArgument
	case generator.ErrKindBusy.String():
		kind = generator.ErrKindBusy
	case generator.ErrKindBusError.String():
		kind = generator.ErrKindBusError
	default:
		kind = generator.ErrKindCustom
	}
	return &generator.Error{Kind: kind, Message: be.Message}
}

func (c *busClient) List() ([]json.RawMessage, error) {
	reply, err := c.roundTrip(bus.Request{Kind: bus.ReqList})
	if err != nil {
		return nil, err
	}
	if reply.Kind == bus.RepError {
		return nil, asError(reply.Error)
	}
	return reply.Generators, nil
}

func (c *busClient) Get(id string) (json.RawMessage, error) {
	reply, err := c.roundTrip(bus.Request{Kind: bus.ReqGet, ID: id})
	if err != nil {
		return nil, err
	}
	if reply.Kind == bus.RepError {
		return nil, asError(reply.Error)
	}
	return reply.Generator, nil
}

func (c *busClient) Create(cfg json.RawMessage) (json.RawMessage, error) {
	reply, err := c.roundTrip(bus.Request{Kind: bus.ReqCreate, Config: cfg})
	if err != nil {
		return nil, err
	}
	if reply.Kind == bus.RepError {
		return nil, asError(reply.Error)
	}
	return reply.Generator, nil
}

func (c *busClient) Erase(id string) error {
	reply, err := c.roundTrip(bus.Request{Kind: bus.ReqErase, ID: id})
	if err != nil {
		return err
	}
	if reply.Kind == bus.RepError {
		return asError(reply.Error)
	}
	return nil
}

func (c *busClient) BulkCreate(cfgs []json.RawMessage) ([]string, error) {
	reply, err := c.roundTrip(bus.Request{Kind: bus.ReqBulkCreate, Configs: cfgs})
	if err != nil {
		return nil, err
	}
	if reply.Kind == bus.RepError {
		return nil, asError(reply.Error)
	}
	return reply.CreatedIDs, nil
}

// BulkItemError names one id a best-effort bulk operation could not apply.
type BulkItemError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (c *busClient) BulkErase(ids []string) ([]BulkItemError, error) {
	reply, err := c.roundTrip(bus.Request{Kind: bus.ReqBulkErase, IDs: ids})
	if err != nil {
		return nil, err
	}
	if reply.Kind == bus.RepError {
		return nil, asError(reply.Error)
	}
	out := make([]BulkItemError, 0, len(reply.BulkErrors))
	for _, be := range reply.BulkErrors {
		out = append(out, BulkItemError{ID: be.ID, Message: be.Message})
	}
	return out, nil
}

func (c *busClient) Start(id string, dynamic json.RawMessage) (json.RawMessage, error) {
	reply, err := c.roundTrip(bus.Request{Kind: bus.ReqStart, ID: id, Dynamic: dynamic})
	if err != nil {
		return nil, err
	}
	if reply.Kind == bus.RepError {
		return nil, asError(reply.Error)
	}
	return reply.Generator, nil
}

func (c *busClient) Stop(id string) (json.RawMessage, error) {
	reply, err := c.roundTrip(bus.Request{Kind: bus.ReqStop, ID: id})
	if err != nil {
		return nil, err
	}
	if reply.Kind == bus.RepError {
		return nil, asError(reply.Error)
	}
	return reply.Generator, nil
}

func (c *busClient) Toggle(oldID, newID string, dynamic json.RawMessage) (json.RawMessage, error) {
	reply, err := c.roundTrip(bus.Request{Kind: bus.ReqToggle, ID: oldID, ToggleWith: newID, Dynamic: dynamic})
	if err != nil {
		return nil, err
	}
	if reply.Kind == bus.RepError {
		return nil, asError(reply.Error)
	}
	return reply.Generator, nil
}

func (c *busClient) ResultList() ([]json.RawMessage, error) {
	reply, err := c.roundTrip(bus.Request{Kind: bus.ReqResultList})
	if err != nil {
		return nil, err
	}
	if reply.Kind == bus.RepError {
		return nil, asError(reply.Error)
	}
	return reply.Results, nil
}

func (c *busClient) ResultGet(id string) (json.RawMessage, error) {
	reply, err := c.roundTrip(bus.Request{Kind: bus.ReqResultGet, ID: id})
	if err != nil {
		return nil, err
	}
	if reply.Kind == bus.RepError {
		return nil, asError(reply.Error)
	}
	return reply.Result, nil
}

func (c *busClient) ResultErase(id string) error {
	reply, err := c.roundTrip(bus.Request{Kind: bus.ReqResultErase, ID: id})
	if err != nil {
		return err
	}
	if reply.Kind == bus.RepError {
		return asError(reply.Error)
	}
	return nil
}
