package resources

import (
	"context"
	"fmt"
	"time"

	"case-bench/internal/runtime"
)

// ReadyTimeout bounds how long an adapter waits for its service to become
// ready before the step is declared failed.
const ReadyTimeout = 600 * time.Second

// Env carries what an adapter variant needs to operate for one case.
type Env struct {
	Client   *runtime.Client
	DataPath string // case data directory; DataPath/shared is mounted in containers
	CaseDir  string
}

// Adapter translates a step's command and parameters into container runtime
// calls for one benchmarked tool.
type Adapter interface {
	Name() string

	// Initialize performs the tool's one-time setup (database users,
	// storage directories). Called once per run before steps execute.
	Initialize(ctx context.Context) error

	// WaitUntilReady blocks until the tool can serve commands, or the
	// readiness timeout expires.
	WaitUntilReady(ctx context.Context) bool

	// Execute runs one named command. It returns the paths of output
	// artifacts produced under the shared data directory.
	Execute(ctx context.Context, command string, params Params) ([]string, error)

	// Stop tears the tool's instance down. Idempotent.
	Stop(ctx context.Context)

	// Instance returns the managed container backing this adapter, or nil
	// for adapters that run no container of their own. The sampler polls
	// this concurrently with Execute: adapters whose container appears
	// during Execute must synchronize the field. Server adapters are safe
	// without locking because they publish it in WaitUntilReady, before
	// sampling starts.
	Instance() *runtime.Instance
}

// Queryable is implemented by adapters exposing a queryable service.
type Queryable interface {
	Endpoint() string
	Headers() map[string]map[string]string
}

// Params is a step's string-keyed, JSON-typed parameter mapping.
type Params map[string]any

// ParameterError reports partial or invalid step parameters. Fatal for the
// step; never passed through to the underlying tool uninterpreted.
type ParameterError struct {
	Command   string
	Parameter string
	Reason    string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %q for command %q: %s", e.Parameter, e.Command, e.Reason)
}

// String returns a required string parameter.
func (p Params) String(command, key string) (string, error) {
	value, ok := p[key]
	if !ok {
		return "", &ParameterError{Command: command, Parameter: key, Reason: "missing"}
	}
	s, ok := value.(string)
	if !ok {
		return "", &ParameterError{Command: command, Parameter: key, Reason: "not a string"}
	}
	return s, nil
}

// OptionalString returns a string parameter or its default.
func (p Params) OptionalString(command, key, fallback string) (string, error) {
	value, ok := p[key]
	if !ok {
		return fallback, nil
	}
	s, ok := value.(string)
	if !ok {
		return "", &ParameterError{Command: command, Parameter: key, Reason: "not a string"}
	}
	return s, nil
}

// OptionalBool returns a boolean parameter or its default.
func (p Params) OptionalBool(command, key string, fallback bool) (bool, error) {
	value, ok := p[key]
	if !ok {
		return fallback, nil
	}
	b, ok := value.(bool)
	if !ok {
		return false, &ParameterError{Command: command, Parameter: key, Reason: "not a boolean"}
	}
	return b, nil
}
