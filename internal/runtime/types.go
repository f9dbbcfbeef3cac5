package runtime

import (
	"fmt"
)

// State describes the lifecycle of a managed container instance.
type State string

const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Spec describes a containerized service instance to ensure.
type Spec struct {
	Name        string
	Image       string
	Cmd         []string
	Environment map[string]string
	Ports       map[string]string // host port -> container port
	Volumes     []string          // host:container binds
	Detach      bool
}

// Instance is one managed containerized process. The runtime handle is the
// container ID assigned by the engine.
type Instance struct {
	Name       string
	ID         string
	State      State
	CgroupPath string
}

// StartupError indicates the container engine could not create, launch or
// ready an instance. Fatal to the current run, never retried automatically.
type StartupError struct {
	Name string
	Err  error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("failed to start instance %q: %v", e.Name, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}
