package tvlp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClient struct {
	mu           sync.Mutex
	nextID       int
	created      []string
	deleted      []string
	toggleCalls  int
	supportsTogl bool
	statsCalls   atomic.Int32
}

func (f *fakeClient) Create(ctx context.Context, cfg json.RawMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("gen-%d", f.nextID)
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeClient) Start(ctx context.Context, id string, dynamic json.RawMessage) (time.Time, error) {
	return time.Now(), nil
}

func (f *fakeClient) Stats(ctx context.Context, id string) (json.RawMessage, error) {
	f.statsCalls.Add(1)
	return json.RawMessage(fmt.Sprintf(`{"id":%q}`, id)), nil
}

func (f *fakeClient) Stop(ctx context.Context, id string) (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`{"id":%q,"final":true}`, id)), nil
}

func (f *fakeClient) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeClient) SupportsToggle() bool { return f.supportsTogl }

func (f *fakeClient) Toggle(ctx context.Context, oldID, newID string, dynamic json.RawMessage) (time.Time, json.RawMessage, error) {
	f.mu.Lock()
	f.toggleCalls++
	f.mu.Unlock()
	return time.Now(), json.RawMessage(fmt.Sprintf(`{"id":%q,"final":true}`, oldID)), nil
}

// failingClient creates generators fine but fails every Stats call after
// failAfter successful calls, used to exercise the worker/controller error
// path.
type failingClient struct {
	mu        sync.Mutex
	failAfter int32
	calls     atomic.Int32
	nextID    int
}

func (f *failingClient) Create(ctx context.Context, cfg json.RawMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return fmt.Sprintf("fail-%d", f.nextID), nil
}

func (f *failingClient) Start(ctx context.Context, id string, dynamic json.RawMessage) (time.Time, error) {
	return time.Now(), nil
}

func (f *failingClient) Stats(ctx context.Context, id string) (json.RawMessage, error) {
	if f.calls.Add(1) > f.failAfter {
		return nil, fmt.Errorf("simulated stats failure")
	}
	return json.RawMessage(`{}`), nil
}

func (f *failingClient) Stop(ctx context.Context, id string) (json.RawMessage, error) {
	return json.RawMessage(`{"final":true}`), nil
}

func (f *failingClient) Delete(ctx context.Context, id string) error { return nil }

func (f *failingClient) SupportsToggle() bool { return false }

func (f *failingClient) Toggle(ctx context.Context, oldID, newID string, dynamic json.RawMessage) (time.Time, json.RawMessage, error) {
	return time.Time{}, nil, fmt.Errorf("toggle unsupported")
}

func TestWorkerRunsSingleEntryToCompletion(t *testing.T) {
	client := &fakeClient{}
	series := []Entry{{Length: 40 * time.Millisecond, Config: json.RawMessage(`{}`)}}
	w := NewWorker(client, series)

	if err := w.Start(context.Background(), time.Now(), StartConfig{TimeScale: 1.0}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for w.State() != StateReady && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if w.State() != StateReady {
		t.Fatalf("worker did not reach ready state, got %v", w.State())
	}

	if len(client.created) != 1 {
		t.Fatalf("expected 1 generator created, got %d", len(client.created))
	}
	if len(client.deleted) != 1 {
		t.Fatalf("expected 1 generator deleted, got %d", len(client.deleted))
	}
	if len(w.Results()) == 0 {
		t.Fatal("expected at least one stored result")
	}
}

func TestWorkerStopMidEntry(t *testing.T) {
	client := &fakeClient{}
	series := []Entry{{Length: 5 * time.Second, Config: json.RawMessage(`{}`)}}
	w := NewWorker(client, series)

	if err := w.Start(context.Background(), time.Now(), StartConfig{TimeScale: 1.0}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	w.Stop()

	if w.State() != StateReady {
		t.Fatalf("expected ready state after Stop, got %v", w.State())
	}
	if len(client.created) != 1 || len(client.deleted) != 1 {
		t.Fatalf("expected create+delete pair, got created=%v deleted=%v", client.created, client.deleted)
	}
}

func TestWorkerStartRejectsWhileRunning(t *testing.T) {
	client := &fakeClient{}
	series := []Entry{{Length: 2 * time.Second, Config: json.RawMessage(`{}`)}}
	w := NewWorker(client, series)

	if err := w.Start(context.Background(), time.Now(), StartConfig{TimeScale: 1.0}); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	time.Sleep(10 * time.Millisecond)
	if err := w.Start(context.Background(), time.Now(), StartConfig{TimeScale: 1.0}); err == nil {
		t.Fatal("expected error starting an already-running worker")
	}
}

func TestWorkerCountdownThenRuns(t *testing.T) {
	client := &fakeClient{}
	series := []Entry{{Length: 30 * time.Millisecond, Config: json.RawMessage(`{}`)}}
	w := NewWorker(client, series)

	startAt := time.Now().Add(50 * time.Millisecond)
	if err := w.Start(context.Background(), startAt, StartConfig{TimeScale: 1.0}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(10 * time.Millisecond)
	if w.State() != StateCountdown {
		t.Fatalf("expected countdown state, got %v", w.State())
	}

	deadline := time.Now().Add(2 * time.Second)
	for w.State() != StateReady && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if w.State() != StateReady {
		t.Fatalf("worker did not complete, got %v", w.State())
	}
}

func TestWorkerMovesToErrorStateOnStatsFailure(t *testing.T) {
	client := &failingClient{failAfter: 1}
	series := []Entry{{Length: 2 * time.Second, Config: json.RawMessage(`{}`)}}
	w := NewWorker(client, series)

	if err := w.Start(context.Background(), time.Now(), StartConfig{TimeScale: 1.0}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for w.State() != StateError && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if w.State() != StateError {
		t.Fatalf("expected worker to move to error state, got %v", w.State())
	}
	if w.Error() == nil {
		t.Fatal("expected Error() to report the failure")
	}
}

func TestWorkerToggleBetweenEntries(t *testing.T) {
	client := &fakeClient{supportsTogl: true}
	series := []Entry{
		{Length: 20 * time.Millisecond, Config: json.RawMessage(`{"step":1}`)},
		{Length: 20 * time.Millisecond, Config: json.RawMessage(`{"step":2}`)},
	}
	w := NewWorker(client, series)

	if err := w.Start(context.Background(), time.Now(), StartConfig{TimeScale: 1.0}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for w.State() != StateReady && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if w.State() != StateReady {
		t.Fatalf("worker did not complete, got %v", w.State())
	}

	if client.toggleCalls != 1 {
		t.Fatalf("expected exactly 1 toggle call between the two entries, got %d", client.toggleCalls)
	}
	if len(client.created) != 2 {
		t.Fatalf("expected 2 generators created, got %d", len(client.created))
	}
}
