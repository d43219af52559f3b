package modsrv

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/openperf/openperf/internal/bus"
	"github.com/openperf/openperf/internal/generator"
)

type testConfig struct {
	Rate int `json:"rate"`
}

type testStats struct {
	Operations int `json:"operations"`
}

type testHandle struct{ stats testStats }

func (h *testHandle) Stats() testStats { return h.stats }
func (h *testHandle) Stop() testStats  { return h.stats }

type testRunner struct{}

func (testRunner) Start(id string, cfg testConfig) (generator.Handle[testStats], error) {
	return &testHandle{stats: testStats{Operations: cfg.Rate * 100}}, nil
}

func testCodec() Codec[testConfig, testStats] {
	return Codec[testConfig, testStats]{
		MarshalConfig:   func(c testConfig) (json.RawMessage, error) { return json.Marshal(c) },
		UnmarshalConfig: func(raw json.RawMessage) (testConfig, error) {
			var c testConfig
			err := json.Unmarshal(raw, &c)
			return c, err
		},
		MarshalStats: func(s testStats) (json.RawMessage, error) { return json.Marshal(s) },
	}
}

func startTestServer(t *testing.T) (bus.Transport, func()) {
	t.Helper()
	reg := generator.NewRegistry[testConfig, testStats](testRunner{})
	srv := New("test", reg, testCodec(), nil)

	serverTr, clientTr := bus.NewChanTransportPair()
	done := make(chan struct{})
	go func() {
		srv.Serve(serverTr)
		close(done)
	}()

	cleanup := func() {
		clientTr.Close()
		serverTr.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("server did not shut down")
		}
	}
	return clientTr, cleanup
}

func roundTrip(t *testing.T, tr bus.Transport, req bus.Request) bus.Reply {
	t.Helper()
	f, err := bus.EncodeRequest(req)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Send(f); err != nil {
		t.Fatal(err)
	}
	rf, err := tr.Recv()
	if err != nil {
		t.Fatal(err)
	}
	reply, err := bus.DecodeReply(rf)
	if err != nil {
		t.Fatal(err)
	}
	return reply
}

func TestServerCreateGetStartStop(t *testing.T) {
	tr, cleanup := startTestServer(t)
	defer cleanup()

	cfgRaw, _ := json.Marshal(testConfig{Rate: 5})
	reply := roundTrip(t, tr, bus.Request{Kind: bus.ReqCreate, Config: cfgRaw})
	if reply.Kind != bus.RepGenerator {
		t.Fatalf("unexpected reply kind %v", reply.Kind)
	}
	var rg generator.RawGenerator
	if err := json.Unmarshal(reply.Generator, &rg); err != nil {
		t.Fatal(err)
	}
	if rg.Running {
		t.Fatal("newly created generator should not be running")
	}

	reply = roundTrip(t, tr, bus.Request{Kind: bus.ReqStart, ID: rg.ID})
	if reply.Kind != bus.RepGenerator {
		t.Fatalf("start: unexpected reply kind %v, error=%+v", reply.Kind, reply.Error)
	}

	reply = roundTrip(t, tr, bus.Request{Kind: bus.ReqStop, ID: rg.ID})
	if reply.Kind != bus.RepGenerator {
		t.Fatalf("stop: unexpected reply kind %v", reply.Kind)
	}

	reply = roundTrip(t, tr, bus.Request{Kind: bus.ReqResultList})
	if reply.Kind != bus.RepResultList || len(reply.Results) != 1 {
		t.Fatalf("expected 1 retained result, got %+v", reply)
	}
	var rr generator.RawResult
	if err := json.Unmarshal(reply.Results[0], &rr); err != nil {
		t.Fatal(err)
	}
	var stats testStats
	if err := json.Unmarshal(rr.Stats, &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Operations != 500 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestServerGetNotFoundMapsToErrorReply(t *testing.T) {
	tr, cleanup := startTestServer(t)
	defer cleanup()

	reply := roundTrip(t, tr, bus.Request{Kind: bus.ReqGet, ID: "missing"})
	if reply.Kind != bus.RepError {
		t.Fatalf("expected error reply, got %v", reply.Kind)
	}
	if reply.Error.Kind != "not_found" {
		t.Fatalf("expected not_found kind, got %q", reply.Error.Kind)
	}
}

func TestServerInvalidConfigIsInvalidArgument(t *testing.T) {
	tr, cleanup := startTestServer(t)
	defer cleanup()

	reply := roundTrip(t, tr, bus.Request{Kind: bus.ReqCreate, Config: json.RawMessage(`not json`)})
	if reply.Kind != bus.RepError || reply.Error.Kind != "invalid_argument" {
		t.Fatalf("expected invalid_argument error, got %+v", reply)
	}
}

func TestServerCreateHonorsExplicitID(t *testing.T) {
	tr, cleanup := startTestServer(t)
	defer cleanup()

	cfgRaw, _ := json.Marshal(map[string]any{"rate": 5, "id": "my-generator"})
	reply := roundTrip(t, tr, bus.Request{Kind: bus.ReqCreate, Config: cfgRaw})
	if reply.Kind != bus.RepGenerator {
		t.Fatalf("unexpected reply kind %v, error=%+v", reply.Kind, reply.Error)
	}
	var rg generator.RawGenerator
	if err := json.Unmarshal(reply.Generator, &rg); err != nil {
		t.Fatal(err)
	}
	if rg.ID != "my-generator" {
		t.Fatalf("expected the caller-chosen id to be honored, got %q", rg.ID)
	}

	reply = roundTrip(t, tr, bus.Request{Kind: bus.ReqGet, ID: "my-generator"})
	if reply.Kind != bus.RepGenerator {
		t.Fatalf("expected to find the generator under its chosen id, got %+v", reply)
	}
}

func TestServerCreateRejectsDuplicateExplicitID(t *testing.T) {
	tr, cleanup := startTestServer(t)
	defer cleanup()

	cfgRaw, _ := json.Marshal(map[string]any{"rate": 1, "id": "dup"})
	reply := roundTrip(t, tr, bus.Request{Kind: bus.ReqCreate, Config: cfgRaw})
	if reply.Kind != bus.RepGenerator {
		t.Fatalf("unexpected reply kind %v, error=%+v", reply.Kind, reply.Error)
	}

	reply = roundTrip(t, tr, bus.Request{Kind: bus.ReqCreate, Config: cfgRaw})
	if reply.Kind != bus.RepError || reply.Error.Kind != "exists" {
		t.Fatalf("expected exists error, got %+v", reply)
	}
}

func TestServerCreateRejectsMalformedID(t *testing.T) {
	tr, cleanup := startTestServer(t)
	defer cleanup()

	cfgRaw, _ := json.Marshal(map[string]any{"rate": 1, "id": "Not Valid!"})
	reply := roundTrip(t, tr, bus.Request{Kind: bus.ReqCreate, Config: cfgRaw})
	if reply.Kind != bus.RepError || reply.Error.Kind != "invalid_argument" {
		t.Fatalf("expected invalid_argument error, got %+v", reply)
	}
}

func TestServerBulkCreateHonorsExplicitIDsAllOrNothing(t *testing.T) {
	tr, cleanup := startTestServer(t)
	defer cleanup()

	okRaw, _ := json.Marshal(map[string]any{"rate": 1, "id": "bulk-a"})
	dupRaw, _ := json.Marshal(map[string]any{"rate": 2, "id": "bulk-a"})
	reply := roundTrip(t, tr, bus.Request{Kind: bus.ReqBulkCreate, Configs: []json.RawMessage{okRaw, dupRaw}})
	if reply.Kind != bus.RepError || reply.Error.Kind != "exists" {
		t.Fatalf("expected exists error for a duplicate explicit id within the batch, got %+v", reply)
	}

	reply = roundTrip(t, tr, bus.Request{Kind: bus.ReqGet, ID: "bulk-a"})
	if reply.Kind != bus.RepError || reply.Error.Kind != "not_found" {
		t.Fatalf("expected the rejected batch to create nothing, got %+v", reply)
	}
}
