package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openperf/openperf/internal/otel"
	"github.com/openperf/openperf/internal/restclient"
	"github.com/openperf/openperf/internal/tvlp"
)

// tvlpEntryRequest is one wire-format profile entry: a length in whole
// milliseconds plus the module's opaque config.
type tvlpEntryRequest struct {
	LengthMS int64           `json:"length_ms"`
	Config   json.RawMessage `json:"config"`
}

// tvlpCreateRequest is the POST /tvlp body: an optional time_scale/
// load_scale plus up to one profile per module.
type tvlpCreateRequest struct {
	TimeScale float64                       `json:"time_scale"`
	LoadScale float64                       `json:"load_scale"`
	Modules   map[string][]tvlpEntryRequest `json:"modules"`
}

// tvlpView is the JSON shape returned for a controller, matching §3.6's
// tvlp configuration/result model.
type tvlpView struct {
	ID        string                    `json:"id"`
	TimeScale float64                   `json:"time_scale"`
	LoadScale float64                   `json:"load_scale"`
	State     string                    `json:"state"`
	Offset    int64                     `json:"offset_ms"`
	Error     string                    `json:"error,omitempty"`
	Results   map[string][]json.RawMessage `json:"results,omitempty"`
}

type tvlpEntryController struct {
	id         string
	controller *tvlp.Controller
	timeScale  float64
	loadScale  float64
	lastState  string
}

// tvlpServer owns every TVLP controller, keyed by id, and their retained
// post-stop results, grounded on tvlp/controller.cpp's one-controller-per-
// configuration model plus §4.6's result-retention expansion.
type tvlpServer struct {
	selfBase string // the REST façade's own loopback base URL, for module clients

	mu          sync.Mutex
	controllers map[string]*tvlpEntryController
	results     map[string]tvlpView // retained snapshot as of the last Stop
}

func newTVLPServer() *tvlpServer {
	return &tvlpServer{
		controllers: make(map[string]*tvlpEntryController),
		results:     make(map[string]tvlpView),
	}
}

var moduleGeneratorsPaths = map[string]string{
	"block":   "/block-generators",
	"memory":  "/memory-generators",
	"cpu":     "/cpu-generators",
	"network": "/network-generators",
	"packet":  "/packet-generators",
}

var moduleSupportsToggle = map[string]bool{
	"block":   false,
	"memory":  false,
	"cpu":     false,
	"network": true,
	"packet":  true,
}

func (t *tvlpServer) buildProfile(name string, entries []tvlpEntryRequest) *tvlp.Profile {
	if len(entries) == 0 {
		return nil
	}
	series := make([]tvlp.Entry, len(entries))
	for i, e := range entries {
		series[i] = tvlp.Entry{Length: time.Duration(e.LengthMS) * time.Millisecond, Config: e.Config}
	}
	rc := restclient.New(t.selfBase, nil, restclient.DefaultRetryConfig())
	client := tvlp.NewHTTPModuleClient(rc, moduleGeneratorsPaths[name], moduleSupportsToggle[name])
	return &tvlp.Profile{Client: client, Series: series}
}

func (t *tvlpServer) create(req tvlpCreateRequest) (*tvlpEntryController, error) {
	id := uuid.NewString()
	cfg := tvlp.Config{ID: id, TimeScale: req.TimeScale, LoadScale: req.LoadScale}
	cfg.Block = t.buildProfile("block", req.Modules["block"])
	cfg.Memory = t.buildProfile("memory", req.Modules["memory"])
	cfg.CPU = t.buildProfile("cpu", req.Modules["cpu"])
	cfg.Network = t.buildProfile("network", req.Modules["network"])
	cfg.Packet = t.buildProfile("packet", req.Modules["packet"])

	controller, err := tvlp.NewController(cfg)
	if err != nil {
		return nil, err
	}

	ts := req.TimeScale
	if ts <= 0 {
		ts = 1.0
	}
	ls := req.LoadScale
	if ls <= 0 {
		ls = 1.0
	}

	entry := &tvlpEntryController{id: id, controller: controller, timeScale: ts, loadScale: ls}
	t.mu.Lock()
	t.controllers[id] = entry
	t.mu.Unlock()
	return entry, nil
}

func (t *tvlpServer) list() []tvlpView {
	t.mu.Lock()
	ids := make([]string, 0, len(t.controllers))
	for id := range t.controllers {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	views := make([]tvlpView, 0, len(ids))
	for _, id := range ids {
		if v, ok := t.view(id); ok {
			views = append(views, v)
		}
	}
	return views
}

func (t *tvlpServer) view(id string) (tvlpView, bool) {
	t.mu.Lock()
	entry, ok := t.controllers[id]
	t.mu.Unlock()
	if !ok {
		if v, ok := t.results[id]; ok {
			return v, true
		}
		return tvlpView{}, false
	}

	state, offset, errText, results := entry.controller.Update()
	stateStr := state.String()
	if stateStr != entry.lastState {
		otel.GetGlobalMetrics().RecordTVLPStateTransition(context.Background(), stateStr)
		entry.lastState = stateStr
	}
	v := tvlpView{
		ID:        id,
		TimeScale: entry.timeScale,
		LoadScale: entry.loadScale,
		State:     stateStr,
		Offset:    offset.Milliseconds(),
		Error:     errText,
		Results:   make(map[string][]json.RawMessage, len(results)),
	}
	for _, r := range results {
		v.Results[r.Module] = r.Results
	}
	return v, true
}

func (t *tvlpServer) start(id string, startTime time.Time) error {
	t.mu.Lock()
	entry, ok := t.controllers[id]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("tvlp: unknown id %s", id)
	}
	return entry.controller.Start(context.Background(), startTime, nil)
}

func (t *tvlpServer) stop(id string) error {
	t.mu.Lock()
	entry, ok := t.controllers[id]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("tvlp: unknown id %s", id)
	}
	entry.controller.Stop()

	if v, ok := t.view(id); ok {
		t.mu.Lock()
		t.results[id] = v
		t.mu.Unlock()
	}
	return nil
}

func (t *tvlpServer) erase(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.controllers[id]
	if !ok {
		return fmt.Errorf("tvlp: unknown id %s", id)
	}
	if entry.controller.IsRunning() {
		return fmt.Errorf("tvlp: cannot erase a running configuration: %s", id)
	}
	delete(t.controllers, id)
	return nil
}

func (t *tvlpServer) resultErase(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.results[id]; !ok {
		return fmt.Errorf("tvlp: unknown result %s", id)
	}
	delete(t.results, id)
	return nil
}

// mountTVLP wires the /tvlp and /tvlp-results routes onto mux.
func (s *Server) mountTVLP(mux *http.ServeMux) {
	s.tvlp.selfBase = "http://" + s.listener.Addr().String()

	mux.HandleFunc("/tvlp", s.handleTVLPCollection)
	mux.HandleFunc("/tvlp/", s.handleTVLPItem)
	mux.HandleFunc("/tvlp-results", s.handleTVLPResultsCollection)
	mux.HandleFunc("/tvlp-results/", s.handleTVLPResultsItem)
}

func (s *Server) handleTVLPCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.tvlp.list())
	case http.MethodPost:
		var req tvlpCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
			return
		}
		entry, err := s.tvlp.create(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
			return
		}
		v, _ := s.tvlp.view(entry.id)
		writeJSON(w, http.StatusCreated, v)
	default:
		writeMethodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) handleTVLPItem(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/tvlp/"), "/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			v, ok := s.tvlp.view(id)
			if !ok {
				writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("not found: %s", id))
				return
			}
			writeJSON(w, http.StatusOK, v)
		case http.MethodDelete:
			if err := s.tvlp.erase(id); err != nil {
				writeError(w, http.StatusConflict, "busy", err.Error())
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeMethodNotAllowed(w, "GET, DELETE")
		}
		return
	}

	switch parts[1] {
	case "start":
		startTime := time.Now()
		if q := r.URL.Query().Get("time"); q != "" {
			parsed, err := time.Parse(time.RFC3339, q)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_argument", "time must be RFC3339")
				return
			}
			startTime = parsed
		}
		if err := s.tvlp.start(id, startTime); err != nil {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		v, _ := s.tvlp.view(id)
		writeJSON(w, http.StatusOK, v)
	case "stop":
		if err := s.tvlp.stop(id); err != nil {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		v, _ := s.tvlp.view(id)
		writeJSON(w, http.StatusOK, v)
	default:
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown route: %s", r.URL.Path))
	}
}

func (s *Server) handleTVLPResultsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, "GET")
		return
	}
	s.tvlp.mu.Lock()
	out := make([]tvlpView, 0, len(s.tvlp.results))
	for _, v := range s.tvlp.results {
		out = append(out, v)
	}
	s.tvlp.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTVLPResultsItem(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/tvlp-results/"), "/")

	switch r.Method {
	case http.MethodGet:
		s.tvlp.mu.Lock()
		v, ok := s.tvlp.results[id]
		s.tvlp.mu.Unlock()
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("not found: %s", id))
			return
		}
		writeJSON(w, http.StatusOK, v)
	case http.MethodDelete:
		if err := s.tvlp.resultErase(id); err != nil {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w, "GET, DELETE")
	}
}
