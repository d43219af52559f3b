// Package modsrv implements the generic module server: the dispatch loop
// that sits on one side of an internal/bus Transport and translates wire
// requests into calls against a generator.Registry. One instance is created
// per module (cpu, memory, block, network, packet) by internal/modules/*,
// grounded on the "one server per module" design in SPEC_FULL.md §4.4 and on
// the teacher's handler dispatch style in
// internal/controlplane/api/handlers.go.
package modsrv

import (
	"encoding/json"
	"log/slog"

	"github.com/openperf/openperf/internal/bus"
	"github.com/openperf/openperf/internal/generator"
)

// Codec converts a module's concrete Config/Stats types to and from the
// opaque JSON payloads carried on the bus. Each module provides one,
// typically just json.Marshal/json.Unmarshal against its own types.
type Codec[Config, Stats any] struct {
	MarshalConfig   func(Config) (json.RawMessage, error)
	UnmarshalConfig func(json.RawMessage) (Config, error)
	MarshalStats    func(Stats) (json.RawMessage, error)
}

// Server runs one module's dispatch loop: Recv a request Frame, decode it,
// apply it to the registry, encode a reply Frame, Send it. Exactly one
// request is in flight at a time, matching the original's one-thread-per-
// module-server design (§5).
type Server[Config, Stats any] struct {
	name     string
	registry *generator.Registry[Config, Stats]
	codec    Codec[Config, Stats]
	log      *slog.Logger
}

// New builds a module server. name is used only for logging (e.g. "cpu",
// "memory").
func New[Config, Stats any](name string, registry *generator.Registry[Config, Stats], codec Codec[Config, Stats], log *slog.Logger) *Server[Config, Stats] {
	if log == nil {
		log = slog.Default()
	}
	return &Server[Config, Stats]{name: name, registry: registry, codec: codec, log: log}
}

// Serve runs the dispatch loop against transport until it returns
// bus.ErrClosed, which Serve treats as a clean shutdown.
func (s *Server[Config, Stats]) Serve(transport bus.Transport) error {
	for {
		frame, err := transport.Recv()
		if err != nil {
			if err == bus.ErrClosed {
				return nil
			}
			return err
		}

		req, err := bus.DecodeRequest(frame)
		if err != nil {
			s.log.Error("module server: malformed request frame", "module", s.name, "error", err)
			continue
		}

		reply := s.handle(req)

		replyFrame, err := bus.EncodeReply(reply)
		if err != nil {
			s.log.Error("module server: failed to encode reply", "module", s.name, "error", err)
			continue
		}
		if err := transport.Send(replyFrame); err != nil {
			if err == bus.ErrClosed {
				return nil
			}
			return err
		}
	}
}

// handle is the exhaustive switch over RequestKind called for by
// SPEC_FULL.md §4.4: every case is handled explicitly, and an unrecognized
// kind is a programming error in the codec layer, not a request reply.
func (s *Server[Config, Stats]) handle(req bus.Request) bus.Reply {
	switch req.Kind {
	case bus.ReqList:
		return s.handleList()
	case bus.ReqGet:
		return s.handleGet(req.ID)
	case bus.ReqCreate:
		return s.handleCreate(req.Config)
	case bus.ReqErase:
		return s.handleErase(req.ID)
	case bus.ReqBulkCreate:
		return s.handleBulkCreate(req.Configs)
	case bus.ReqBulkErase:
		return s.handleBulkErase(req.IDs)
	case bus.ReqStart:
		return s.handleStart(req.ID)
	case bus.ReqStop:
		return s.handleStop(req.ID)
	case bus.ReqToggle:
		return s.handleToggle(req.ID, req.ToggleWith)
	case bus.ReqResultList:
		return s.handleResultList()
	case bus.ReqResultGet:
		return s.handleResultGet(req.ID)
	case bus.ReqResultErase:
		return s.handleResultErase(req.ID)
	default:
		panic("modsrv: unhandled request kind")
	}
}

func (s *Server[Config, Stats]) handleList() bus.Reply {
	gens := s.registry.List()
	raws := make([]json.RawMessage, 0, len(gens))
	for _, g := range gens {
		raw, err := s.encodeGenerator(g)
		if err != nil {
			return errorReply(generator.NewCustomError(g.ID, "failed to encode generator", err))
		}
		raws = append(raws, raw)
	}
	return bus.Reply{Kind: bus.RepGeneratorList, Generators: raws}
}

func (s *Server[Config, Stats]) handleGet(id string) bus.Reply {
	g, err := s.registry.Get(id)
	if err != nil {
		return errorReply(err)
	}
	raw, err := s.encodeGenerator(g)
	if err != nil {
		return errorReply(generator.NewCustomError(id, "failed to encode generator", err))
	}
	return bus.Reply{Kind: bus.RepGenerator, Generator: raw}
}

func (s *Server[Config, Stats]) handleCreate(rawCfg json.RawMessage) bus.Reply {
	id, err := extractID(rawCfg)
	if err != nil {
		return errorReply(generator.NewInvalidArgumentError("", err.Error()))
	}
	cfg, err := s.codec.UnmarshalConfig(rawCfg)
	if err != nil {
		return errorReply(generator.NewInvalidArgumentError("", err.Error()))
	}
	g, err := s.registry.CreateWithID(id, cfg)
	if err != nil {
		return errorReply(err)
	}
	raw, err := s.encodeGenerator(g)
	if err != nil {
		return errorReply(generator.NewCustomError(g.ID, "failed to encode generator", err))
	}
	return bus.Reply{Kind: bus.RepGenerator, Generator: raw}
}

func (s *Server[Config, Stats]) handleErase(id string) bus.Reply {
	if err := s.registry.Erase(id); err != nil {
		return errorReply(err)
	}
	return bus.Reply{Kind: bus.RepOK}
}

func (s *Server[Config, Stats]) handleBulkCreate(rawCfgs []json.RawMessage) bus.Reply {
	cfgs := make([]Config, 0, len(rawCfgs))
	ids := make([]string, 0, len(rawCfgs))
	for _, raw := range rawCfgs {
		id, err := extractID(raw)
		if err != nil {
			return errorReply(generator.NewInvalidArgumentError("", err.Error()))
		}
		cfg, err := s.codec.UnmarshalConfig(raw)
		if err != nil {
			return errorReply(generator.NewInvalidArgumentError("", err.Error()))
		}
		cfgs = append(cfgs, cfg)
		ids = append(ids, id)
	}
	created, err := s.registry.BulkCreateWithIDs(cfgs, ids)
	if err != nil {
		return errorReply(err)
	}
	createdIDs := make([]string, 0, len(created))
	for _, g := range created {
		createdIDs = append(createdIDs, g.ID)
	}
	return bus.Reply{Kind: bus.RepBulkCreated, CreatedIDs: createdIDs}
}

func (s *Server[Config, Stats]) handleBulkErase(ids []string) bus.Reply {
	failures := s.registry.BulkErase(ids)
	out := make([]bus.BulkItemError, 0, len(failures))
	for _, f := range failures {
		out = append(out, bus.BulkItemError{ID: f.ID, Message: f.Message})
	}
	return bus.Reply{Kind: bus.RepBulkErased, BulkErrors: out}
}

func (s *Server[Config, Stats]) handleStart(id string) bus.Reply {
	g, err := s.registry.Start(id)
	if err != nil {
		return errorReply(err)
	}
	raw, err := s.encodeGenerator(g)
	if err != nil {
		return errorReply(generator.NewCustomError(id, "failed to encode generator", err))
	}
	return bus.Reply{Kind: bus.RepGenerator, Generator: raw}
}

func (s *Server[Config, Stats]) handleStop(id string) bus.Reply {
	g, stats, err := s.registry.Stop(id)
	if err != nil {
		return errorReply(err)
	}
	var finalRaw json.RawMessage
	if stats != nil {
		finalRaw, err = s.codec.MarshalStats(*stats)
		if err != nil {
			return errorReply(generator.NewCustomError(id, "failed to encode generator", err))
		}
	}
	raw, err := s.encodeGeneratorExtra(g, finalRaw, nil)
	if err != nil {
		return errorReply(generator.NewCustomError(id, "failed to encode generator", err))
	}
	return bus.Reply{Kind: bus.RepGenerator, Generator: raw}
}

func (s *Server[Config, Stats]) handleToggle(oldID, newID string) bus.Reply {
	g, prevStats, err := s.registry.Toggle(oldID, newID)
	if err != nil {
		return errorReply(err)
	}
	var prevRaw json.RawMessage
	if prevStats != nil {
		prevRaw, err = s.codec.MarshalStats(*prevStats)
		if err != nil {
			return errorReply(generator.NewCustomError(newID, "failed to encode generator", err))
		}
	}
	raw, err := s.encodeGeneratorExtra(g, nil, prevRaw)
	if err != nil {
		return errorReply(generator.NewCustomError(newID, "failed to encode generator", err))
	}
	return bus.Reply{Kind: bus.RepGenerator, Generator: raw}
}

func (s *Server[Config, Stats]) handleResultList() bus.Reply {
	results := s.registry.ResultList()
	raws := make([]json.RawMessage, 0, len(results))
	for _, res := range results {
		raw, err := s.encodeResult(res)
		if err != nil {
			return errorReply(generator.NewCustomError(res.ID, "failed to encode result", err))
		}
		raws = append(raws, raw)
	}
	return bus.Reply{Kind: bus.RepResultList, Results: raws}
}

func (s *Server[Config, Stats]) handleResultGet(id string) bus.Reply {
	res, err := s.registry.ResultGet(id)
	if err != nil {
		return errorReply(err)
	}
	raw, err := s.encodeResult(res)
	if err != nil {
		return errorReply(generator.NewCustomError(id, "failed to encode result", err))
	}
	return bus.Reply{Kind: bus.RepResult, Result: raw}
}

func (s *Server[Config, Stats]) handleResultErase(id string) bus.Reply {
	if err := s.registry.ResultErase(id); err != nil {
		return errorReply(err)
	}
	return bus.Reply{Kind: bus.RepOK}
}

func (s *Server[Config, Stats]) encodeGenerator(g generator.Generator[Config, Stats]) (json.RawMessage, error) {
	return s.encodeGeneratorExtra(g, nil, nil)
}

// encodeGeneratorExtra encodes g plus whichever of finalStats/previousStats
// the calling reply wants attached (stop sets finalStats, toggle sets
// previousStats; both are nil for get/list/create/start aside from
// start_time, which rides on every encode once the generator has run).
func (s *Server[Config, Stats]) encodeGeneratorExtra(g generator.Generator[Config, Stats], finalStats, previousStats json.RawMessage) (json.RawMessage, error) {
	cfgRaw, err := s.codec.MarshalConfig(g.Config)
	if err != nil {
		return nil, err
	}
	raw := generator.RawGenerator{
		ID: g.ID, Config: cfgRaw, Running: g.Running,
		FinalStats: finalStats, PreviousStats: previousStats,
	}
	if !g.StartedAt.IsZero() {
		t := g.StartedAt
		raw.StartTime = &t
	}
	return json.Marshal(raw)
}

func (s *Server[Config, Stats]) encodeResult(res generator.Result[Stats]) (json.RawMessage, error) {
	statsRaw, err := s.codec.MarshalStats(res.Stats)
	if err != nil {
		return nil, err
	}
	return json.Marshal(generator.RawResult{
		ID: res.ID, GeneratorID: res.GeneratorID, Stats: statsRaw,
		Timestamp: res.Timestamp, Active: res.Active,
	})
}

// extractID pulls the caller-chosen "id" field, if any, out of a raw create
// config payload (§4.2: ids ride inline in the config body rather than as a
// separate wire field). A config with no "id" field, or an empty one, means
// "assign a random id"; each module's own Config type has no ID field of its
// own, so the codec's UnmarshalConfig simply ignores it.
func extractID(rawCfg json.RawMessage) (string, error) {
	var withID struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rawCfg, &withID); err != nil {
		return "", err
	}
	return withID.ID, nil
}

func errorReply(err error) bus.Reply {
	ge := generator.AsError(err)
	if ge == nil {
		return bus.Reply{Kind: bus.RepError, Error: &bus.BusError{Kind: "custom_error", Message: err.Error()}}
	}
	return bus.Reply{Kind: bus.RepError, Error: &bus.BusError{Kind: ge.Kind.String(), Message: ge.Error()}}
}
