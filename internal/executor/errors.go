package executor

import (
	"errors"
	"fmt"
)

// ErrInterrupted reports user-requested cancellation. The process exits
// with a distinct status after tearing down every tracked instance.
var ErrInterrupted = errors.New("execution interrupted")

// ConfigError is a fatal configuration problem: a bad descriptor, an even
// run count, or an unknown resource or command. It aborts the affected case
// before execution starts and is never retried.
type ConfigError struct {
	Path string
	Msg  string
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}
