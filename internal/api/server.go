package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openperf/openperf/internal/bus"
	"github.com/openperf/openperf/internal/generator"
	"github.com/openperf/openperf/internal/modsrv"
	"github.com/openperf/openperf/internal/modules/block"
	"github.com/openperf/openperf/internal/modules/cpu"
	"github.com/openperf/openperf/internal/modules/memory"
	"github.com/openperf/openperf/internal/modules/network"
	"github.com/openperf/openperf/internal/modules/packet"
	"github.com/openperf/openperf/internal/otel"
)

// moduleRoute is one module's mount point on the REST façade: the
// generators collection path (e.g. "/cpu-generators") and the bus client
// reaching its module server.
type moduleRoute struct {
	name           string
	generatorsPath string // e.g. "/cpu-generators"
	resultsPath    string // e.g. "/cpu-generator-results"
	supportsToggle bool
	client         *busClient
}

// Server is the all-in-one REST façade: it owns one module server goroutine
// per supported module plus the HTTP listener routing requests to them,
// grounded on the teacher's internal/controlplane/api.Server
// (SPEC_FULL.md §6.2).
type Server struct {
	addr   string
	log    *slog.Logger
	server *http.Server

	mu       sync.Mutex
	running  bool
	listener net.Listener
	stopCh   chan struct{}

	routes map[string]*moduleRoute
	tvlp   *tvlpServer
}

// New builds a Server listening on addr, starting one module server
// goroutine per supported module.
func New(addr string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{addr: addr, log: log, routes: make(map[string]*moduleRoute), tvlp: newTVLPServer()}

	s.mount("cpu", "/cpu-generators", "/cpu-generator-results", false, serveCPU)
	s.mount("memory", "/memory-generators", "/memory-generator-results", false, serveMemory)
	s.mount("block", "/block-generators", "/block-generator-results", false, serveBlock)
	s.mount("network", "/network-generators", "/network-generator-results", true, serveNetwork)
	s.mount("packet", "/packet-generators", "/packet-generator-results", true, servePacket)

	return s
}

// mount wires a module server to a fresh in-process transport pair and
// registers its REST routes. serve is one of serveCPU/serveMemory/... below,
// each closing over that module's concrete Registry/Codec types so that
// Server itself stays free of the per-module generics.
func (s *Server) mount(name, generatorsPath, resultsPath string, supportsToggle bool, serve func(bus.Transport, *slog.Logger)) {
	server, client := bus.NewChanTransportPair()
	go serve(server, s.log.With("module", name))

	s.routes[generatorsPath] = &moduleRoute{
		name:           name,
		generatorsPath: generatorsPath,
		resultsPath:    resultsPath,
		supportsToggle: supportsToggle,
		client:         newBusClient(client),
	}
}

func serveCPU(transport bus.Transport, log *slog.Logger) {
	srv := modsrv.New("cpu", cpu.NewRegistry(), cpu.NewCodec(), log)
	srv.Serve(transport)
}

func serveMemory(transport bus.Transport, log *slog.Logger) {
	srv := modsrv.New("memory", memory.NewRegistry(), memory.NewCodec(), log)
	srv.Serve(transport)
}

func serveBlock(transport bus.Transport, log *slog.Logger) {
	srv := modsrv.New("block", block.NewRegistry(), block.NewCodec(), log)
	srv.Serve(transport)
}

func serveNetwork(transport bus.Transport, log *slog.Logger) {
	srv := modsrv.New("network", network.NewRegistry(), network.NewCodec(), log)
	srv.Serve(transport)
}

func servePacket(transport bus.Transport, log *slog.Logger) {
	srv := modsrv.New("packet", packet.NewRegistry(), packet.NewCodec(), log)
	srv.Serve(transport)
}

// Start binds the listener and begins serving, matching the teacher's
// Server.Start shape: build the mux, listen, serve in a goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("api: server already running")
	}

	mux := http.NewServeMux()
	for path, route := range s.routes {
		route := route
		mux.HandleFunc(path, s.routeGenerators(route))
		mux.HandleFunc(path+"/", s.routeGenerators(route))
		mux.HandleFunc(route.resultsPath, s.routeResults(route))
		mux.HandleFunc(route.resultsPath+"/", s.routeResults(route))
	}
	mux.HandleFunc("/healthz", s.handleHealthz)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api: failed to listen: %w", err)
	}
	s.listener = listener
	s.mountTVLP(mux)

	s.server = &http.Server{
		Handler:           mux,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.running = true
	s.stopCh = make(chan struct{})

	srv := s.server
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("api: server error", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the HTTP listener. Module server goroutines are left
// running; Close tears those down too.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// Close shuts down the HTTP listener and closes every module transport,
// ending the module server goroutines.
func (s *Server) Close(ctx context.Context) error {
	err := s.Shutdown(ctx)
	for _, route := range s.routes {
		route.client.transport.Close()
	}
	return err
}

// Addr returns the bound listener address, or the configured addr before
// Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// routeGenerators dispatches the collection and per-id generator routes for
// one module: list/create on the collection, get/erase/start/stop/toggle on
// an id, and the x/bulk-create, x/bulk-erase, x/toggle sub-routes, matching
// SPEC_FULL.md §6.2's table.
func (s *Server) routeGenerators(route *moduleRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, route.generatorsPath)
		path = strings.Trim(path, "/")

		if path == "" {
			switch r.Method {
			case http.MethodGet:
				s.handleList(w, r, route)
			case http.MethodPost:
				s.handleCreate(w, r, route)
			default:
				writeMethodNotAllowed(w, "GET, POST")
			}
			return
		}

		if path == "x/bulk-create" {
			s.handleBulkCreate(w, r, route)
			return
		}
		if path == "x/bulk-erase" {
			s.handleBulkErase(w, r, route)
			return
		}
		if path == "x/toggle" {
			s.handleToggle(w, r, route)
			return
		}

		parts := strings.SplitN(path, "/", 2)
		id := parts[0]
		if len(parts) == 1 {
			switch r.Method {
			case http.MethodGet:
				s.handleGet(w, r, route, id)
			case http.MethodDelete:
				s.handleErase(w, r, route, id)
			default:
				writeMethodNotAllowed(w, "GET, DELETE")
			}
			return
		}

		switch parts[1] {
		case "start":
			s.handleStart(w, r, route, id)
		case "stop":
			s.handleStop(w, r, route, id)
		default:
			writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown route: %s", r.URL.Path))
		}
	}
}

func (s *Server) routeResults(route *moduleRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.Trim(strings.TrimPrefix(r.URL.Path, route.resultsPath), "/")

		if path == "" {
			if r.Method != http.MethodGet {
				writeMethodNotAllowed(w, "GET")
				return
			}
			raws, err := route.client.ResultList()
			if err != nil {
				writeGeneratorError(w, err)
				return
			}
			writeRawList(w, raws)
			return
		}

		switch r.Method {
		case http.MethodGet:
			raw, err := route.client.ResultGet(path)
			if err != nil {
				writeGeneratorError(w, err)
				return
			}
			writeRaw(w, http.StatusOK, raw)
		case http.MethodDelete:
			if err := route.client.ResultErase(path); err != nil {
				writeGeneratorError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeMethodNotAllowed(w, "GET, DELETE")
		}
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, route *moduleRoute) {
	raws, err := route.client.List()
	if err != nil {
		writeGeneratorError(w, err)
		return
	}
	writeRawList(w, raws)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, route *moduleRoute, id string) {
	raw, err := route.client.Get(id)
	if err != nil {
		writeGeneratorError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, route *moduleRoute) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	raw, err := route.client.Create(body)
	if err != nil {
		writeGeneratorError(w, err)
		return
	}
	writeRaw(w, http.StatusCreated, raw)
}

func (s *Server) handleErase(w http.ResponseWriter, r *http.Request, route *moduleRoute, id string) {
	if err := route.client.Erase(id); err != nil {
		writeGeneratorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bulkCreateRequest struct {
	Configs []json.RawMessage `json:"configs"`
}

func (s *Server) handleBulkCreate(w http.ResponseWriter, r *http.Request, route *moduleRoute) {
	var req bulkCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	ids, err := route.client.BulkCreate(req.Configs)
	if err != nil {
		if ge := generator.AsError(err); ge == nil || ge.Kind == generator.ErrKindInvalidArgument {
			otel.GetGlobalMetrics().RecordBulkCreateRejection(r.Context(), route.name)
		}
		writeGeneratorError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ids": ids})
}

type bulkEraseRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleBulkErase(w http.ResponseWriter, r *http.Request, route *moduleRoute) {
	var req bulkEraseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	failures, err := route.client.BulkErase(req.IDs)
	if err != nil {
		writeGeneratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": failures})
}

type startRequest struct {
	Dynamic json.RawMessage `json:"dynamic_results,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, route *moduleRoute, id string) {
	var req startRequest
	if r.ContentLength != 0 {
		json.NewDecoder(r.Body).Decode(&req)
	}
	raw, err := route.client.Start(id, req.Dynamic)
	if err != nil {
		writeGeneratorError(w, err)
		return
	}
	otel.GetGlobalMetrics().RecordGeneratorStart(r.Context(), route.name)
	writeRaw(w, http.StatusOK, raw)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request, route *moduleRoute, id string) {
	raw, err := route.client.Stop(id)
	if err != nil {
		writeGeneratorError(w, err)
		return
	}
	otel.GetGlobalMetrics().RecordGeneratorStop(r.Context(), route.name, wasRunning(raw))
	writeRaw(w, http.StatusOK, raw)
}

type toggleRequest struct {
	OldID   string          `json:"old_id"`
	NewID   string          `json:"new_id"`
	Dynamic json.RawMessage `json:"dynamic_results,omitempty"`
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request, route *moduleRoute) {
	if !route.supportsToggle {
		writeError(w, http.StatusNotImplemented, "invalid_argument", fmt.Sprintf("%s does not support toggle", route.name))
		return
	}
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	raw, err := route.client.Toggle(req.OldID, req.NewID, req.Dynamic)
	if err != nil {
		writeGeneratorError(w, err)
		return
	}
	otel.GetGlobalMetrics().RecordGeneratorToggle(r.Context(), route.name, replacedRunning(raw))
	writeRaw(w, http.StatusOK, raw)
}

func readBody(r *http.Request) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// wasRunning reports whether a Stop response's raw generator.RawGenerator
// carries final_stats, i.e. the generator was actually running (as opposed
// to a no-op stop of an already-stopped generator).
func wasRunning(raw json.RawMessage) bool {
	var g generator.RawGenerator
	if err := json.Unmarshal(raw, &g); err != nil {
		return false
	}
	return g.FinalStats != nil
}

// replacedRunning reports whether a Toggle response's raw generator.RawGenerator
// carries previous_stats, i.e. the replaced generator was actually running.
func replacedRunning(raw json.RawMessage) bool {
	var g generator.RawGenerator
	if err := json.Unmarshal(raw, &g); err != nil {
		return false
	}
	return g.PreviousStats != nil
}

// writeGeneratorError maps a generator.Error's Kind to the status-code
// table in SPEC_FULL.md §6.3, grounded on the teacher's writeError/
// ErrorResponse shape in internal/controlplane/api/handlers.go.
func writeGeneratorError(w http.ResponseWriter, err error) {
	ge := generator.AsError(err)
	if ge == nil {
		writeError(w, http.StatusInternalServerError, "custom_error", err.Error())
		return
	}
	status := http.StatusInternalServerError
	switch ge.Kind {
	case generator.ErrKindNotFound:
		status = http.StatusNotFound
	case generator.ErrKindExists:
		status = http.StatusConflict
	case generator.ErrKindInvalidArgument:
		status = http.StatusBadRequest
	case generator.ErrKindBusy:
		status = http.StatusConflict
	case generator.ErrKindBusError:
		status = http.StatusBadGateway
	case generator.ErrKindCustom:
		status = http.StatusInternalServerError
	}
	writeError(w, status, ge.Kind.String(), ge.Error())
}

type errorResponse struct {
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{ErrorType: kind, ErrorMessage: message})
}

func writeMethodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, "invalid_argument", "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(raw)
}

func writeRawList(w http.ResponseWriter, raws []json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("["))
	for i, raw := range raws {
		if i > 0 {
			w.Write([]byte(","))
		}
		w.Write(raw)
	}
	w.Write([]byte("]"))
}
