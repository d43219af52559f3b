// Package bootstrap loads a YAML configuration file's "resources:" section
// at daemon startup and POSTs each entry to the REST façade, grounded on
// _examples/original_source/src/modules/api/api_config_file_resources.cpp
// (op_config_file_process_resources) and the YAML-to-JSON conversion in
// framework/config/yaml_json_emitter.cpp, replaced here by gopkg.in/yaml.v3's
// native decode into Go maps (which are already JSON-marshalable, so no
// separate emitter step is needed).
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openperf/openperf/internal/restclient"
)

// file is the top-level shape of an OpenPerf config file: a resources
// section keyed by "{rest-path}/{id}" or bare "{rest-path}", mirroring the
// original's resource.first.Scalar() split.
type file struct {
	Resources map[string]map[string]any `yaml:"resources"`
}

// Load reads path and decodes its resources section. An empty path (no
// config file configured) returns a zero-length result, matching the
// original's early return when config_file_name is empty.
func Load(path string) (map[string]map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: failed to read config file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("bootstrap: failed to parse config file: %w", err)
	}
	return f.Resources, nil
}

// Apply posts every resource entry to the REST façade at rc, in the order
// yaml.v3 preserves map iteration is not guaranteed, but op_config_file's
// own processing order is likewise a single flat pass over resources — on
// the first failure, Apply stops and returns the id of the offending
// resource plus its error, matching the original's "stop on first error"
// behavior.
func Apply(ctx context.Context, rc *restclient.Client, resources map[string]map[string]any) error {
	for key, body := range resources {
		path, id := splitPathID(key)
		if id != "" {
			body["id"] = id
		}

		var created map[string]any
		if err := rc.Post(ctx, "/"+path, body, &created); err != nil {
			return fmt.Errorf("bootstrap: failed to configure resource %s: %w", key, err)
		}
	}
	return nil
}

// splitPathID splits a resources key like "cpu-generators/my-generator"
// into its REST path and caller-chosen id, mirroring
// op_config_split_path_id. A key with no "/" names the collection with no
// explicit id.
func splitPathID(key string) (path, id string) {
	if idx := strings.IndexByte(key, '/'); idx >= 0 {
		return key[:idx], key[idx+1:]
	}
	return key, ""
}
