package tvlp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openperf/openperf/internal/restclient"
)

// httpModuleClient implements ModuleClient over a module's REST endpoints,
// grounded on api_internal_client.hpp (an in-process client speaking the
// same REST surface external callers use).
type httpModuleClient struct {
	rc             *restclient.Client
	generatorsPath string // e.g. "/cpu-generators"
	supportsToggle bool
}

// NewHTTPModuleClient builds a ModuleClient against the REST façade's
// generatorsPath collection endpoint (e.g. "/cpu-generators").
func NewHTTPModuleClient(rc *restclient.Client, generatorsPath string, supportsToggle bool) ModuleClient {
	return &httpModuleClient{rc: rc, generatorsPath: generatorsPath, supportsToggle: supportsToggle}
}

type createdGenerator struct {
	ID string `json:"id"`
}

type startedGenerator struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
}

type statsEnvelope struct {
	Stats json.RawMessage `json:"stats"`
}

type stoppedGenerator struct {
	FinalStats json.RawMessage `json:"final_stats"`
}

type toggledGenerator struct {
	ID            string          `json:"id"`
	StartTime     time.Time       `json:"start_time"`
	PreviousStats json.RawMessage `json:"previous_stats"`
}

func (c *httpModuleClient) Create(ctx context.Context, cfg json.RawMessage) (string, error) {
	var out createdGenerator
	if err := c.rc.Post(ctx, c.generatorsPath, json.RawMessage(cfg), &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *httpModuleClient) Start(ctx context.Context, id string, dynamic json.RawMessage) (time.Time, error) {
	var out startedGenerator
	if err := c.rc.Post(ctx, fmt.Sprintf("%s/%s/start", c.generatorsPath, id), dynamicBody(dynamic), &out); err != nil {
		return time.Time{}, err
	}
	return out.StartTime, nil
}

func (c *httpModuleClient) Stats(ctx context.Context, id string) (json.RawMessage, error) {
	var out statsEnvelope
	resultsPath := strings.TrimSuffix(c.generatorsPath, "s") + "-results" // "/cpu-generators" -> "/cpu-generator-results"
	if err := c.rc.Get(ctx, fmt.Sprintf("%s/%s", resultsPath, id), &out); err != nil {
		return nil, err
	}
	return out.Stats, nil
}

func (c *httpModuleClient) Stop(ctx context.Context, id string) (json.RawMessage, error) {
	var out stoppedGenerator
	if err := c.rc.Post(ctx, fmt.Sprintf("%s/%s/stop", c.generatorsPath, id), nil, &out); err != nil {
		return nil, err
	}
	return out.FinalStats, nil
}

func (c *httpModuleClient) Delete(ctx context.Context, id string) error {
	return c.rc.Delete(ctx, fmt.Sprintf("%s/%s", c.generatorsPath, id))
}

func (c *httpModuleClient) SupportsToggle() bool { return c.supportsToggle }

func (c *httpModuleClient) Toggle(ctx context.Context, oldID, newID string, dynamic json.RawMessage) (time.Time, json.RawMessage, error) {
	if !c.supportsToggle {
		return time.Time{}, nil, fmt.Errorf("tvlp: toggle is not supported by %s", c.generatorsPath)
	}
	body := struct {
		OldID   string          `json:"old_id"`
		NewID   string          `json:"new_id"`
		Dynamic json.RawMessage `json:"dynamic_results,omitempty"`
	}{OldID: oldID, NewID: newID, Dynamic: dynamic}

	var out toggledGenerator
	if err := c.rc.Post(ctx, fmt.Sprintf("%s/x/toggle", c.generatorsPath), body, &out); err != nil {
		return time.Time{}, nil, err
	}
	return out.StartTime, out.PreviousStats, nil
}

func dynamicBody(dynamic json.RawMessage) any {
	if len(dynamic) == 0 {
		return nil
	}
	return struct {
		Dynamic json.RawMessage `json:"dynamic_results"`
	}{Dynamic: dynamic}
}
