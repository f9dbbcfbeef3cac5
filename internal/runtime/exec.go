package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"case-bench/internal/logging"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"
)

// Execute runs a one-shot command inside the instance and waits for it to
// finish. Returns the command's exit code and captured output.
func (c *Client) Execute(ctx context.Context, inst *Instance, argv []string) (int, string, string, error) {
	logger := logging.GetLogger()

	execConfig := types.ExecConfig{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	}

	execResp, err := c.docker.ContainerExecCreate(ctx, inst.ID, execConfig)
	if err != nil {
		return -1, "", "", fmt.Errorf("failed to create exec for %s: %w", inst.Name, err)
	}

	attach, err := c.docker.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return -1, "", "", fmt.Errorf("failed to attach exec for %s: %w", inst.Name, err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return -1, "", "", fmt.Errorf("failed to read exec output for %s: %w", inst.Name, err)
	}

	inspect, err := c.docker.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return -1, "", "", fmt.Errorf("failed to inspect exec for %s: %w", inst.Name, err)
	}

	logger.WithFields(logrus.Fields{
		"name":      inst.Name,
		"argv":      strings.Join(argv, " "),
		"exit_code": inspect.ExitCode,
	}).Debug("Command executed in instance")

	return inspect.ExitCode, stdout.String(), stderr.String(), nil
}

// WaitExit blocks until the instance's main process exits and returns its
// exit code.
func (c *Client) WaitExit(ctx context.Context, inst *Instance) (int64, error) {
	statusCh, errCh := c.docker.ContainerWait(ctx, inst.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, fmt.Errorf("failed to wait for %s: %w", inst.Name, err)
	case status := <-statusCh:
		if status.Error != nil {
			return status.StatusCode, fmt.Errorf("wait for %s: %s", inst.Name, status.Error.Message)
		}
		return status.StatusCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Logs returns a snapshot of the instance's stdout and stderr log lines.
func (c *Client) Logs(ctx context.Context, inst *Instance) ([]string, error) {
	reader, err := c.docker.ContainerLogs(ctx, inst.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get logs for %s: %w", inst.Name, err)
	}
	defer reader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return nil, fmt.Errorf("failed to read logs for %s: %w", inst.Name, err)
	}

	var lines []string
	for _, chunk := range []string{stdout.String(), stderr.String()} {
		for _, line := range strings.Split(chunk, "\n") {
			if line = strings.TrimRight(line, "\r"); line != "" {
				lines = append(lines, line)
			}
		}
	}
	return lines, nil
}

// ReadStats reads the instance's resource accounting counters once.
func (c *Client) ReadStats(ctx context.Context, inst *Instance) (*types.StatsJSON, error) {
	resp, err := c.docker.ContainerStatsOneShot(ctx, inst.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats for %s: %w", inst.Name, err)
	}
	defer resp.Body.Close()

	var stats types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to decode stats for %s: %w", inst.Name, err)
	}
	return &stats, nil
}
