// Command openperfctl is a thin CLI client for the OpenPerf REST façade,
// grounded on the teacher's cmd/agent flag-parsing style (plain flag.FlagSet,
// no third-party CLI framework).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/openperf/openperf/internal/restclient"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	root := flag.NewFlagSet("openperfctl", flag.ExitOnError)
	addr := root.String("addr", "http://127.0.0.1:9000", "openperfd REST façade address")

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "list":
		runList(root, addr, args)
	case "get":
		runGet(root, addr, args)
	case "create":
		runCreate(root, addr, args)
	case "delete":
		runDelete(root, addr, args)
	case "start":
		runStart(root, addr, args)
	case "stop":
		runStop(root, addr, args)
	case "toggle":
		runToggle(root, addr, args)
	case "tvlp-create":
		runTVLPCreate(root, addr, args)
	case "tvlp-start":
		runTVLPStart(root, addr, args)
	case "tvlp-stop":
		runTVLPStop(root, addr, args)
	case "tvlp-get":
		runTVLPGet(root, addr, args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: openperfctl <command> [-addr url] [args]

commands:
  list <module>
  get <module> <id>
  create <module> <json-config>
  delete <module> <id>
  start <module> <id>
  stop <module> <id>
  toggle <module> <old-id> <new-id>
  tvlp-create <json-body>
  tvlp-start <id> [rfc3339-time]
  tvlp-stop <id>
  tvlp-get <id>

modules: cpu, memory, block, network, packet`)
}

func modulePath(module string) string {
	return fmt.Sprintf("/%s-generators", module)
}

func client(root *flag.FlagSet, addr *string, args []string) (*restclient.Client, []string) {
	root.Parse(args)
	return restclient.New(*addr, nil, restclient.DefaultRetryConfig()), root.Args()
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func runList(root *flag.FlagSet, addr *string, args []string) {
	rc, rest := client(root, addr, args)
	if len(rest) != 1 {
		usage()
		os.Exit(2)
	}
	var out []json.RawMessage
	if err := rc.Get(context.Background(), modulePath(rest[0]), &out); err != nil {
		fail(err)
	}
	printJSON(out)
}

func runGet(root *flag.FlagSet, addr *string, args []string) {
	rc, rest := client(root, addr, args)
	if len(rest) != 2 {
		usage()
		os.Exit(2)
	}
	var out json.RawMessage
	if err := rc.Get(context.Background(), modulePath(rest[0])+"/"+rest[1], &out); err != nil {
		fail(err)
	}
	printJSON(out)
}

func runCreate(root *flag.FlagSet, addr *string, args []string) {
	rc, rest := client(root, addr, args)
	if len(rest) != 2 {
		usage()
		os.Exit(2)
	}
	var cfg json.RawMessage
	if err := json.Unmarshal([]byte(rest[1]), &cfg); err != nil {
		fail(fmt.Errorf("invalid config JSON: %w", err))
	}
	var out json.RawMessage
	if err := rc.Post(context.Background(), modulePath(rest[0]), cfg, &out); err != nil {
		fail(err)
	}
	printJSON(out)
}

func runDelete(root *flag.FlagSet, addr *string, args []string) {
	rc, rest := client(root, addr, args)
	if len(rest) != 2 {
		usage()
		os.Exit(2)
	}
	if err := rc.Delete(context.Background(), modulePath(rest[0])+"/"+rest[1]); err != nil {
		fail(err)
	}
	fmt.Println("ok")
}

func runStart(root *flag.FlagSet, addr *string, args []string) {
	rc, rest := client(root, addr, args)
	if len(rest) != 2 {
		usage()
		os.Exit(2)
	}
	var out json.RawMessage
	if err := rc.Post(context.Background(), modulePath(rest[0])+"/"+rest[1]+"/start", nil, &out); err != nil {
		fail(err)
	}
	printJSON(out)
}

func runStop(root *flag.FlagSet, addr *string, args []string) {
	rc, rest := client(root, addr, args)
	if len(rest) != 2 {
		usage()
		os.Exit(2)
	}
	var out json.RawMessage
	if err := rc.Post(context.Background(), modulePath(rest[0])+"/"+rest[1]+"/stop", nil, &out); err != nil {
		fail(err)
	}
	printJSON(out)
}

func runToggle(root *flag.FlagSet, addr *string, args []string) {
	rc, rest := client(root, addr, args)
	if len(rest) != 3 {
		usage()
		os.Exit(2)
	}
	body := map[string]string{"old_id": rest[1], "new_id": rest[2]}
	var out json.RawMessage
	if err := rc.Post(context.Background(), modulePath(rest[0])+"/x/toggle", body, &out); err != nil {
		fail(err)
	}
	printJSON(out)
}

func runTVLPCreate(root *flag.FlagSet, addr *string, args []string) {
	rc, rest := client(root, addr, args)
	if len(rest) != 1 {
		usage()
		os.Exit(2)
	}
	var body json.RawMessage
	if err := json.Unmarshal([]byte(rest[0]), &body); err != nil {
		fail(fmt.Errorf("invalid tvlp body JSON: %w", err))
	}
	var out json.RawMessage
	if err := rc.Post(context.Background(), "/tvlp", body, &out); err != nil {
		fail(err)
	}
	printJSON(out)
}

func runTVLPStart(root *flag.FlagSet, addr *string, args []string) {
	rc, rest := client(root, addr, args)
	if len(rest) < 1 {
		usage()
		os.Exit(2)
	}
	path := "/tvlp/" + rest[0] + "/start"
	if len(rest) > 1 {
		path += "?time=" + strings.TrimSpace(rest[1])
	}
	var out json.RawMessage
	if err := rc.Post(context.Background(), path, nil, &out); err != nil {
		fail(err)
	}
	printJSON(out)
}

func runTVLPStop(root *flag.FlagSet, addr *string, args []string) {
	rc, rest := client(root, addr, args)
	if len(rest) != 1 {
		usage()
		os.Exit(2)
	}
	var out json.RawMessage
	if err := rc.Post(context.Background(), "/tvlp/"+rest[0]+"/stop", nil, &out); err != nil {
		fail(err)
	}
	printJSON(out)
}

func runTVLPGet(root *flag.FlagSet, addr *string, args []string) {
	rc, rest := client(root, addr, args)
	if len(rest) != 1 {
		usage()
		os.Exit(2)
	}
	var out json.RawMessage
	if err := rc.Get(context.Background(), "/tvlp/"+rest[0], &out); err != nil {
		fail(err)
	}
	printJSON(out)
}
