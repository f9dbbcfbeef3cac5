package resources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"case-bench/internal/logging"
	"case-bench/internal/runtime"
)

const (
	virtuosoVersion = "7.2.7"
	virtuosoPort    = "8890"
)

// Virtuoso is a SPARQL server loading RDF through its isql bulk loader.
type Virtuoso struct {
	env      Env
	instance *runtime.Instance
}

func NewVirtuoso(env Env) Adapter {
	return &Virtuoso{env: env}
}

func (v *Virtuoso) Name() string { return "Virtuoso" }

func (v *Virtuoso) Initialize(ctx context.Context) error {
	return os.MkdirAll(filepath.Join(v.env.DataPath, "virtuoso"), 0o755)
}

func (v *Virtuoso) WaitUntilReady(ctx context.Context) bool {
	inst, err := v.env.Client.Ensure(ctx, runtime.Spec{
		Name:  "case-bench-virtuoso",
		Image: fmt.Sprintf("blindreviewing/virtuoso:v%s", virtuosoVersion),
		Ports: map[string]string{virtuosoPort: virtuosoPort},
		Environment: map[string]string{
			"DBA_PASSWORD": "root",
		},
		Volumes: []string{
			fmt.Sprintf("%s:/usr/share/proj", filepath.Join(v.env.DataPath, "shared")),
			fmt.Sprintf("%s:/database", filepath.Join(v.env.DataPath, "virtuoso")),
		},
	})
	if err != nil {
		logging.GetLogger().WithError(err).Error("Failed to start Virtuoso")
		return false
	}
	v.instance = inst

	return v.env.Client.WaitUntilReady(ctx, inst, runtime.ReadinessProbe{
		LogLine: "Server online at",
	}, ReadyTimeout)
}

func (v *Virtuoso) Execute(ctx context.Context, command string, params Params) ([]string, error) {
	if command != "load" {
		return nil, fmt.Errorf("command %q not supported by Virtuoso", command)
	}

	rdfFile, err := params.String(command, "rdf_file")
	if err != nil {
		return nil, err
	}

	statements := []string{
		fmt.Sprintf("exec=ld_dir('/usr/share/proj', '%s', 'http://example.com/graph');", rdfFile),
		"exec=rdf_loader_run();",
		"exec=checkpoint;",
	}
	for _, statement := range statements {
		if err := v.isql(ctx, statement); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (v *Virtuoso) isql(ctx context.Context, statement string) error {
	argv := []string{"isql", "-U", "dba", "-P", "root", statement}
	code, _, stderr, err := v.env.Client.Execute(ctx, v.instance, argv)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("isql exited with status %d: %s", code, stderr)
	}
	return nil
}

func (v *Virtuoso) Stop(ctx context.Context) {
	v.env.Client.Stop(ctx, v.instance)
}

func (v *Virtuoso) Instance() *runtime.Instance { return v.instance }

func (v *Virtuoso) Endpoint() string {
	return fmt.Sprintf("http://localhost:%s/sparql", virtuosoPort)
}

func (v *Virtuoso) Headers() map[string]map[string]string {
	return map[string]map[string]string{
		"ntriples": {"Accept": "text/plain"},
		"turtle":   {"Accept": "text/turtle"},
		"csv":      {"Accept": "text/csv"},
		"rdfxml":   {"Accept": "application/rdf+xml"},
		"jsonld":   {"Accept": "application/ld+json"},
	}
}
