package resources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"case-bench/internal/logging"
	"case-bench/internal/runtime"
)

const rmlmapperVersion = "6.0.0"

// RMLMapper executes a mapping in a one-shot container which runs to exit.
// The container only exists during Execute, so the instance field is read
// by the sampler goroutine while Execute writes it and must be guarded.
type RMLMapper struct {
	env Env

	mu       sync.Mutex
	instance *runtime.Instance
}

func NewRMLMapper(env Env) Adapter {
	return &RMLMapper{env: env}
}

func (r *RMLMapper) Name() string { return "RMLMapper" }

func (r *RMLMapper) Initialize(ctx context.Context) error {
	return os.MkdirAll(filepath.Join(r.env.DataPath, "rmlmapper"), 0o755)
}

// WaitUntilReady is trivially true: the mapper container only exists for the
// duration of Execute.
func (r *RMLMapper) WaitUntilReady(ctx context.Context) bool { return true }

func (r *RMLMapper) Execute(ctx context.Context, command string, params Params) ([]string, error) {
	if command != "execute_mapping" {
		return nil, fmt.Errorf("command %q not supported by RMLMapper", command)
	}

	mappingFile, err := params.String(command, "mapping_file")
	if err != nil {
		return nil, err
	}
	outputFile, err := params.String(command, "output_file")
	if err != nil {
		return nil, err
	}
	serialization, err := params.OptionalString(command, "serialization", "ntriples")
	if err != nil {
		return nil, err
	}

	argv := []string{
		"java", "-jar", "/rmlmapper/rmlmapper.jar",
		"-m", "/data/shared/" + mappingFile,
		"-o", "/data/shared/" + outputFile,
		"-s", serialization,
	}

	inst, err := r.env.Client.Ensure(ctx, runtime.Spec{
		Name:  "case-bench-rmlmapper",
		Image: fmt.Sprintf("blindreviewing/rmlmapper:v%s", rmlmapperVersion),
		Cmd:   argv,
		Volumes: []string{
			fmt.Sprintf("%s:/data", filepath.Join(r.env.DataPath, "rmlmapper")),
			fmt.Sprintf("%s:/data/shared", filepath.Join(r.env.DataPath, "shared")),
		},
	})
	if err != nil {
		return nil, err
	}
	r.setInstance(inst)

	if !r.env.Client.WaitUntilReady(ctx, inst, runtime.ReadinessProbe{ExitZero: true}, ReadyTimeout) {
		return nil, fmt.Errorf("mapping execution failed or timed out")
	}

	logging.GetLogger().WithField("output_file", outputFile).Debug("Mapping executed")
	return []string{filepath.Join(r.env.DataPath, "shared", outputFile)}, nil
}

func (r *RMLMapper) Stop(ctx context.Context) {
	r.env.Client.Stop(ctx, r.Instance())
}

func (r *RMLMapper) setInstance(inst *runtime.Instance) {
	r.mu.Lock()
	r.instance = inst
	r.mu.Unlock()
}

func (r *RMLMapper) Instance() *runtime.Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.instance
}
