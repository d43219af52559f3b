// Command openperfd is the OpenPerf daemon: it hosts every module's
// generator server, the TVLP controller set, and the REST façade that
// fronts them all, grounded on the teacher's cmd/server/main.go (flag
// parsing, signal-driven graceful shutdown).
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
	"github.com/openperf/openperf/internal/bootstrap"
	"github.com/openperf/openperf/internal/otel"
	"github.com/openperf/openperf/internal/restclient"
)

func main() {
	addr := flag.String("addr", ":9000", "REST façade listen address")
	configFile := flag.String("config", "", "Path to a YAML configuration file whose resources: section is applied at startup")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	otelExporter := flag.String("otel-exporter", "none", "Metrics exporter: none, stdout, otlp-grpc, otlp-http")
	otelEndpoint := flag.String("otel-endpoint", "", "OTLP endpoint, for otlp-grpc/otlp-http exporters")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	slog.SetDefault(log)

	metricsCtx := context.Background()
	metricsCfg := otel.DefaultMetricsConfig()
	metricsCfg.ServiceName = "openperfd"
	metricsCfg.ExporterType = otel.ExporterType(*otelExporter)
	metricsCfg.OTLPEndpoint = *otelEndpoint
	metricsCfg.Enabled = metricsCfg.ExporterType != otel.ExporterNone
	metrics, err := otel.NewMetrics(metricsCtx, metricsCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting metrics: %v\n", err)
		os.Exit(1)
	}
	otel.SetGlobalMetrics(metrics)
	defer metrics.Shutdown(context.Background())

	resources, err := bootstrap.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config file: %v\n", err)
		os.Exit(1)
	}

	server := api.New(*addr, log)
	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting server: %v\n", err)
		os.Exit(1)
	}

	if len(resources) > 0 {
		rc := restclient.New("http://"+server.Addr(), nil, restclient.DefaultRetryConfig())
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := bootstrap.Apply(ctx, rc, resources)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error applying config file resources: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("openperfd listening on %s\n", server.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
	}
	fmt.Println("openperfd stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
