// Command openperf-mockgen starts an OpenPerf daemon bound to an ephemeral
// loopback port and prints its address, for integration tests to point a
// REST client at. Grounded on the teacher's cmd/mockserver/main.go (same
// listen/print-address/wait-for-signal shape, pared down to what a test
// harness needs).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openperf/openperf/internal/api"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:0", "REST façade listen address")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	server := api.New(*addr, log)
	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting mock daemon: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(server.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Close(ctx)
}
