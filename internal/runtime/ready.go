package runtime

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"case-bench/internal/logging"

	"github.com/sirupsen/logrus"
)

const readyPollInterval = 1 * time.Second

// ReadinessProbe describes how to decide that an instance is ready to serve.
// Exactly one field should be set.
type ReadinessProbe struct {
	LogLine  string // substring to appear in the container logs
	HTTPURL  string // endpoint answering with a non-error status
	TCPAddr  string // host:port accepting connections
	ExitZero bool   // main process exits with status 0
}

// WaitUntilReady polls the probe until success or timeout. Returns false on
// timeout instead of an error so callers decide whether a timed-out
// dependency is fatal.
func (c *Client) WaitUntilReady(ctx context.Context, inst *Instance, probe ReadinessProbe, timeout time.Duration) bool {
	logger := logging.GetLogger()

	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if probe.ExitZero {
		code, err := c.WaitExit(deadline, inst)
		if err != nil {
			logger.WithField("name", inst.Name).WithError(err).Error("Waiting for instance exit failed")
			inst.State = StateFailed
			return false
		}
		if code != 0 {
			for _, line := range c.logLines(ctx, inst) {
				logger.WithField("name", inst.Name).Error(line)
			}
			logger.WithFields(logrus.Fields{
				"name":      inst.Name,
				"exit_code": code,
			}).Error("Instance exited with non-zero status")
			inst.State = StateFailed
			return false
		}
		inst.State = StateReady
		return true
	}

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		if c.probeOnce(deadline, inst, probe) {
			inst.State = StateReady
			return true
		}
		select {
		case <-deadline.Done():
			logger.WithFields(logrus.Fields{
				"name":    inst.Name,
				"timeout": timeout,
			}).Error("Waiting for instance readiness timed out")
			return false
		case <-ticker.C:
		}
	}
}

func (c *Client) probeOnce(ctx context.Context, inst *Instance, probe ReadinessProbe) bool {
	switch {
	case probe.LogLine != "":
		for _, line := range c.logLines(ctx, inst) {
			if strings.Contains(line, probe.LogLine) {
				return true
			}
		}
		return false
	case probe.HTTPURL != "":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, probe.HTTPURL, nil)
		if err != nil {
			return false
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	case probe.TCPAddr != "":
		conn, err := net.DialTimeout("tcp", probe.TCPAddr, readyPollInterval)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	default:
		return true
	}
}

func (c *Client) logLines(ctx context.Context, inst *Instance) []string {
	lines, err := c.Logs(ctx, inst)
	if err != nil {
		return nil
	}
	return lines
}
