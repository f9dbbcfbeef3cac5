package executor

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"case-bench/internal/logging"
	"case-bench/internal/resources"
)

const (
	// DescriptorFile is the per-case descriptor consumed from a case
	// directory tree.
	DescriptorFile = "metadata.json"

	// CheckpointFile marks a run (or case) as fully completed. Written as
	// the last action, so its presence is itself proof of completion.
	CheckpointFile = ".done"
)

// Step is one unit of work in a case, delegated to a named resource adapter
// and command. Unknown descriptor fields are ignored.
type Step struct {
	ID         string         `json:"@id"`
	Name       string         `json:"name"`
	Resource   string         `json:"resource"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters"`
	MayFail    bool           `json:"may_fail"`
}

// Descriptor is the parsed form of a case's metadata.json.
type Descriptor struct {
	ID          string `json:"@id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Steps       []Step `json:"steps"`
}

// Case is a named benchmark scenario rooted in a directory that holds
// shared input data and a results subtree. Steps execute in declared order;
// case identity is stable across runs.
type Case struct {
	Directory string
	Data      Descriptor
}

// LoadCase parses and validates one case descriptor. Validation failures
// are configuration errors fatal to this case only.
func LoadCase(path string, registry *resources.Registry) (*Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Msg: err.Error()}
	}

	var descriptor Descriptor
	if err := json.Unmarshal(data, &descriptor); err != nil {
		return nil, &ConfigError{Path: path, Msg: fmt.Sprintf("invalid descriptor: %v", err)}
	}

	c := &Case{
		Directory: filepath.Dir(path),
		Data:      descriptor,
	}
	if err := c.validate(path, registry); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Case) validate(path string, registry *resources.Registry) error {
	if c.Data.ID == "" {
		return &ConfigError{Path: path, Msg: "missing required field @id"}
	}
	if c.Data.Name == "" {
		return &ConfigError{Path: path, Msg: "missing required field name"}
	}
	if len(c.Data.Steps) == 0 {
		return &ConfigError{Path: path, Msg: "case has no steps"}
	}

	for i, step := range c.Data.Steps {
		if step.Resource == "" || step.Command == "" {
			return &ConfigError{Path: path, Msg: fmt.Sprintf("step %d: resource and command are required", i+1)}
		}
		if _, ok := registry.Lookup(step.Resource); !ok {
			return &ConfigError{Path: path, Msg: fmt.Sprintf("unknown resource %q", step.Resource)}
		}
		if !registry.Supports(step.Resource, step.Command) {
			return &ConfigError{Path: path, Msg: fmt.Sprintf("unknown command %q for resource %q", step.Command, step.Resource)}
		}
	}
	return nil
}

// Discover walks the root directory for case descriptors. Invalid cases are
// logged and excluded; other cases still run.
func Discover(root string, registry *resources.Registry) ([]*Case, error) {
	logger := logging.GetLogger()

	var cases []*Case
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != DescriptorFile {
			return nil
		}
		c, err := LoadCase(path, registry)
		if err != nil {
			logger.WithField("path", path).WithError(err).Error("Skipping invalid case")
			return nil
		}
		cases = append(cases, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover cases under %s: %w", root, err)
	}
	return cases, nil
}

// DataPath is the case's data directory; DataPath/shared holds input data
// and artifacts exchanged between steps.
func (c *Case) DataPath() string {
	return filepath.Join(c.Directory, "data")
}

// ResultsPath is the case's results subtree.
func (c *Case) ResultsPath() string {
	return filepath.Join(c.Directory, "results")
}

// RunPath is the results directory of one run.
func (c *Case) RunPath(run int) string {
	return filepath.Join(c.ResultsPath(), fmt.Sprintf("run_%d", run))
}

// RunDone reports whether the run's completion marker exists.
func (c *Case) RunDone(run int) bool {
	_, err := os.Stat(filepath.Join(c.RunPath(run), CheckpointFile))
	return err == nil
}

// Done reports whether the whole case's completion marker exists.
func (c *Case) Done() bool {
	_, err := os.Stat(filepath.Join(c.Directory, CheckpointFile))
	return err == nil
}

// Clean removes all results, checkpoints and non-shared data directories so
// the case starts fresh.
func (c *Case) Clean() error {
	if err := os.Remove(filepath.Join(c.Directory, CheckpointFile)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.RemoveAll(c.ResultsPath()); err != nil {
		return err
	}

	entries, err := os.ReadDir(c.DataPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasSuffix(entry.Name(), "shared") {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.DataPath(), entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
