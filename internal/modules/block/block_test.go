package block

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		TargetID:     "file-0",
		QueueDepth:   2,
		ReadsPerSec:  200,
		WritesPerSec: 100,
		ReadSize:     512,
		WriteSize:    512,
		Pattern:      PatternSequential,
	}
}

func TestRunnerProducesIO(t *testing.T) {
	r := Runner{}
	h, err := r.Start("blk-0", testConfig())
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	stats := h.Stop()

	if stats.ReadOps == 0 || stats.WriteOps == 0 {
		t.Fatalf("expected nonzero IO, got %+v", stats)
	}
	if stats.QueueDepth != 2 {
		t.Fatalf("expected queue depth 2, got %d", stats.QueueDepth)
	}
}

func TestRunnerDefaultsQueueDepthToOne(t *testing.T) {
	cfg := testConfig()
	cfg.QueueDepth = 0
	r := Runner{}
	h, err := r.Start("blk-1", cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Stop()
	if stats := h.Stats(); stats.QueueDepth != 1 {
		t.Fatalf("expected default queue depth 1, got %d", stats.QueueDepth)
	}
}

func TestConfigScale(t *testing.T) {
	cfg := testConfig()
	scaled := cfg.Scale(2.0)
	if scaled.ReadsPerSec != 400 || scaled.WritesPerSec != 200 {
		t.Fatalf("unexpected scaled config %+v", scaled)
	}
}
