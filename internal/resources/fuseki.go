package resources

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"case-bench/internal/logging"
	"case-bench/internal/runtime"
)

const (
	fusekiVersion = "4.6.1"
	fusekiPort    = "3030"
)

// Fuseki is a SPARQL server backed by a TDB2 store.
type Fuseki struct {
	env      Env
	instance *runtime.Instance
}

func NewFuseki(env Env) Adapter {
	return &Fuseki{env: env}
}

func (f *Fuseki) Name() string { return "Fuseki" }

func (f *Fuseki) Initialize(ctx context.Context) error {
	return os.MkdirAll(filepath.Join(f.env.DataPath, "fuseki"), 0o755)
}

func (f *Fuseki) WaitUntilReady(ctx context.Context) bool {
	inst, err := f.env.Client.Ensure(ctx, runtime.Spec{
		Name:  "case-bench-fuseki",
		Image: fmt.Sprintf("blindreviewing/fuseki:v%s", fusekiVersion),
		Cmd:   []string{"--tdb2", "--update", "--loc", "/fuseki/databases/DB", "/ds"},
		Ports: map[string]string{fusekiPort: fusekiPort},
		Volumes: []string{
			fmt.Sprintf("%s:/data", filepath.Join(f.env.DataPath, "shared")),
			fmt.Sprintf("%s:/fuseki/databases/DB", filepath.Join(f.env.DataPath, "fuseki")),
		},
	})
	if err != nil {
		logging.GetLogger().WithError(err).Error("Failed to start Fuseki")
		return false
	}
	f.instance = inst

	return f.env.Client.WaitUntilReady(ctx, inst, runtime.ReadinessProbe{
		LogLine: ":: Start Fuseki ",
	}, ReadyTimeout)
}

func (f *Fuseki) Execute(ctx context.Context, command string, params Params) ([]string, error) {
	if command != "load" {
		return nil, fmt.Errorf("command %q not supported by Fuseki", command)
	}

	rdfFile, err := params.String(command, "rdf_file")
	if err != nil {
		return nil, err
	}

	path := filepath.Join(f.env.DataPath, "shared", rdfFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParameterError{Command: command, Parameter: "rdf_file", Reason: err.Error()}
	}

	// Only N-Triples are supported for loading over HTTP.
	url := fmt.Sprintf("http://localhost:%s/ds/data?default", fusekiPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(data)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/n-triples")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s into Fuseki: %w", rdfFile, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to load %s into Fuseki: HTTP %d", rdfFile, resp.StatusCode)
	}
	return nil, nil
}

func (f *Fuseki) Stop(ctx context.Context) {
	f.env.Client.Stop(ctx, f.instance)
}

func (f *Fuseki) Instance() *runtime.Instance { return f.instance }

func (f *Fuseki) Endpoint() string {
	return fmt.Sprintf("http://localhost:%s/ds/sparql", fusekiPort)
}

// Headers lists the content-negotiation headers per supported serialization.
func (f *Fuseki) Headers() map[string]map[string]string {
	return map[string]map[string]string{
		"ntriples": {"Accept": "text/plain"},
		"turtle":   {"Accept": "text/turtle"},
		"csv":      {"Accept": "text/csv"},
		"rdfjson":  {"Accept": "application/rdf+json"},
		"rdfxml":   {"Accept": "application/rdf+xml"},
		"jsonld":   {"Accept": "application/ld+json"},
	}
}
