package generator

import (
	"errors"
	"fmt"
	"testing"
)

type fakeConfig struct{ Rate int }
type fakeStats struct{ Operations int }

type fakeHandle struct {
	stats fakeStats
}

func (h *fakeHandle) Stats() fakeStats { return h.stats }
func (h *fakeHandle) Stop() fakeStats  { return h.stats }

type fakeRunner struct {
	fail bool
}

func (r *fakeRunner) Start(id string, cfg fakeConfig) (Handle[fakeStats], error) {
	if r.fail {
		return nil, errors.New("boom")
	}
	return &fakeHandle{stats: fakeStats{Operations: cfg.Rate * 10}}, nil
}

func newTestRegistry() *Registry[fakeConfig, fakeStats] {
	reg := NewRegistry[fakeConfig, fakeStats](&fakeRunner{})
	n := 0
	reg.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return reg
}

func TestCreateGetList(t *testing.T) {
	reg := newTestRegistry()

	g, err := reg.Create(fakeConfig{Rate: 5})
	if err != nil {
		t.Fatal(err)
	}
	if g.ID != "id-1" {
		t.Fatalf("got id %q", g.ID)
	}

	got, err := reg.Get(g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Config.Rate != 5 {
		t.Fatalf("got config %+v", got.Config)
	}

	if len(reg.List()) != 1 {
		t.Fatalf("expected 1 generator, got %d", len(reg.List()))
	}
}

func TestGetNotFound(t *testing.T) {
	reg := newTestRegistry()
	_, err := reg.Get("nope")
	if !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestCreateWithIDExists(t *testing.T) {
	reg := newTestRegistry()
	if _, err := reg.CreateWithID("dup", fakeConfig{}); err != nil {
		t.Fatal(err)
	}
	_, err := reg.CreateWithID("dup", fakeConfig{})
	if !IsExists(err) {
		t.Fatalf("expected exists error, got %v", err)
	}
}

func TestStartStopRetainsResult(t *testing.T) {
	reg := newTestRegistry()
	g, err := reg.Create(fakeConfig{Rate: 3})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := reg.Start(g.ID); err != nil {
		t.Fatal(err)
	}
	got, err := reg.Get(g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Running {
		t.Fatal("expected generator to be running")
	}

	if _, _, err := reg.Stop(g.ID); err != nil {
		t.Fatal(err)
	}
	got, err = reg.Get(g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Running {
		t.Fatal("expected generator to be stopped")
	}

	results := reg.ResultList()
	if len(results) != 1 {
		t.Fatalf("expected 1 retained result, got %d", len(results))
	}
	if results[0].Stats.Operations != 30 {
		t.Fatalf("unexpected retained stats: %+v", results[0])
	}
}

func TestStartAlreadyRunningIsBusy(t *testing.T) {
	reg := newTestRegistry()
	g, _ := reg.Create(fakeConfig{})
	if _, err := reg.Start(g.ID); err != nil {
		t.Fatal(err)
	}
	_, err := reg.Start(g.ID)
	if !IsBusy(err) {
		t.Fatalf("expected busy error, got %v", err)
	}
}

func TestEraseRunningIsBusy(t *testing.T) {
	reg := newTestRegistry()
	g, _ := reg.Create(fakeConfig{})
	if _, err := reg.Start(g.ID); err != nil {
		t.Fatal(err)
	}
	err := reg.Erase(g.ID)
	if !IsBusy(err) {
		t.Fatalf("expected busy error, got %v", err)
	}
}

func TestBulkEraseBestEffort(t *testing.T) {
	reg := newTestRegistry()
	a, _ := reg.Create(fakeConfig{})
	b, _ := reg.Create(fakeConfig{})
	if _, err := reg.Start(b.ID); err != nil {
		t.Fatal(err)
	}

	failures := reg.BulkErase([]string{a.ID, b.ID, "unknown-id"})
	if len(failures) != 1 || failures[0].ID != b.ID {
		t.Fatalf("expected exactly one failure for running generator, got %+v", failures)
	}
	if _, err := reg.Get(a.ID); !IsNotFound(err) {
		t.Fatal("expected a to be erased")
	}
	if _, err := reg.Get(b.ID); err != nil {
		t.Fatal("expected b to still exist (running, skipped)")
	}
}

func TestBulkCreate(t *testing.T) {
	reg := newTestRegistry()
	created, err := reg.BulkCreate([]fakeConfig{{Rate: 1}, {Rate: 2}, {Rate: 3}})
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 3 {
		t.Fatalf("expected 3 created, got %d", len(created))
	}
	if len(reg.List()) != 3 {
		t.Fatalf("expected 3 generators in registry, got %d", len(reg.List()))
	}
}

func TestToggle(t *testing.T) {
	reg := newTestRegistry()
	a, _ := reg.Create(fakeConfig{Rate: 1})
	b, _ := reg.Create(fakeConfig{Rate: 2})
	if _, err := reg.Start(a.ID); err != nil {
		t.Fatal(err)
	}

	got, _, err := reg.Toggle(a.ID, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Running {
		t.Fatal("expected new generator to be running after toggle")
	}

	oldGen, err := reg.Get(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if oldGen.Running {
		t.Fatal("expected old generator to be stopped after toggle")
	}
}

func TestStartRunnerFailureIsCustomError(t *testing.T) {
	reg := NewRegistry[fakeConfig, fakeStats](&fakeRunner{fail: true})
	g, err := reg.Create(fakeConfig{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = reg.Start(g.ID)
	e := AsError(err)
	if e == nil || e.Kind != ErrKindCustom {
		t.Fatalf("expected custom error, got %v", err)
	}
}

func TestResultEraseRunningIsBusy(t *testing.T) {
	reg := newTestRegistry()
	g, _ := reg.Create(fakeConfig{})
	if _, err := reg.Start(g.ID); err != nil {
		t.Fatal(err)
	}
	err := reg.ResultErase(g.ID)
	if !IsBusy(err) {
		t.Fatalf("expected busy error, got %v", err)
	}
}

func TestEraseDropsRetainedResults(t *testing.T) {
	reg := newTestRegistry()
	g, _ := reg.Create(fakeConfig{Rate: 1})
	if _, err := reg.Start(g.ID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := reg.Stop(g.ID); err != nil {
		t.Fatal(err)
	}
	if len(reg.ResultList()) != 1 {
		t.Fatalf("expected 1 retained result before erase, got %d", len(reg.ResultList()))
	}

	if err := reg.Erase(g.ID); err != nil {
		t.Fatal(err)
	}
	if results := reg.ResultList(); len(results) != 0 {
		t.Fatalf("expected erase to drop results for %s, still have %+v", g.ID, results)
	}
}

func TestBulkEraseDropsRetainedResults(t *testing.T) {
	reg := newTestRegistry()
	a, _ := reg.Create(fakeConfig{Rate: 1})
	if _, err := reg.Start(a.ID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := reg.Stop(a.ID); err != nil {
		t.Fatal(err)
	}

	failures := reg.BulkErase([]string{a.ID})
	if len(failures) != 0 {
		t.Fatalf("expected no failures, got %+v", failures)
	}
	if results := reg.ResultList(); len(results) != 0 {
		t.Fatalf("expected bulk erase to drop results for %s, still have %+v", a.ID, results)
	}
}

func TestCreateWithIDRejectsBadFormat(t *testing.T) {
	reg := newTestRegistry()
	_, err := reg.CreateWithID("Not Valid!", fakeConfig{})
	if !IsInvalidArgument(err) {
		t.Fatalf("expected invalid_argument error, got %v", err)
	}
}

func TestCreateWithIDEmptyAssignsRandomID(t *testing.T) {
	reg := newTestRegistry()
	g, err := reg.CreateWithID("", fakeConfig{Rate: 1})
	if err != nil {
		t.Fatal(err)
	}
	if g.ID != "id-1" {
		t.Fatalf("expected a freshly minted id, got %q", g.ID)
	}
}

func TestBulkCreateWithIDs(t *testing.T) {
	reg := newTestRegistry()
	created, err := reg.BulkCreateWithIDs(
		[]fakeConfig{{Rate: 1}, {Rate: 2}},
		[]string{"explicit-a", ""},
	)
	if err != nil {
		t.Fatal(err)
	}
	if created[0].ID != "explicit-a" {
		t.Fatalf("expected explicit id, got %q", created[0].ID)
	}
	if created[1].ID == "" {
		t.Fatal("expected a minted id for the empty slot")
	}
	if len(reg.List()) != 2 {
		t.Fatalf("expected 2 generators, got %d", len(reg.List()))
	}
}

func TestBulkCreateWithIDsRollsBackWholeBatchOnConflict(t *testing.T) {
	reg := newTestRegistry()
	if _, err := reg.CreateWithID("taken", fakeConfig{}); err != nil {
		t.Fatal(err)
	}

	_, err := reg.BulkCreateWithIDs(
		[]fakeConfig{{Rate: 1}, {Rate: 2}},
		[]string{"fresh", "taken"},
	)
	if !IsExists(err) {
		t.Fatalf("expected exists error, got %v", err)
	}
	if _, err := reg.Get("fresh"); !IsNotFound(err) {
		t.Fatal("expected the whole batch to be rejected, but 'fresh' was created")
	}
}

func TestToggleRequiresOldRunning(t *testing.T) {
	reg := newTestRegistry()
	a, _ := reg.Create(fakeConfig{Rate: 1})
	b, _ := reg.Create(fakeConfig{Rate: 2})

	_, _, err := reg.Toggle(a.ID, b.ID)
	if !IsInvalidArgument(err) {
		t.Fatalf("expected invalid_argument error toggling from a stopped generator, got %v", err)
	}
	if got, _ := reg.Get(b.ID); got.Running {
		t.Fatal("expected b to remain stopped after a rejected toggle")
	}
}
