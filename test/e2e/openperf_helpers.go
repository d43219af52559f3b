package e2e

import (
	"context"
	"log/slog"
	"testing"

	"github.com/openperf/openperf/internal/api"
)

// startOpenPerfDaemon starts a real internal/api.Server on an ephemeral
// loopback port and registers its shutdown, mirroring ConfigureTestServer's
// role for the teacher's control plane: a one-line daemon bring-up for
// scenario tests.
func startOpenPerfDaemon(t *testing.T) (*api.Server, string) {
	t.Helper()
	server := api.New("127.0.0.1:0", slog.New(slog.NewTextHandler(nopWriter{}, nil)))
	if err := server.Start(); err != nil {
		t.Fatalf("failed to start openperf daemon: %v", err)
	}
	t.Cleanup(func() {
		server.Close(context.Background())
	})
	return server, "http://" + server.Addr()
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
