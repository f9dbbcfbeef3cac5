package runtime

import (
	"context"
	"fmt"
	"io"
	"sync"

	"case-bench/internal/logging"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"
)

const networkName = "case-bench"

// engineAPI is the slice of the Docker engine client used by this package.
type engineAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerStatsOneShot(ctx context.Context, containerID string) (types.ContainerStats, error)
	ContainerExecCreate(ctx context.Context, containerID string, config types.ExecConfig) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config types.ExecStartCheck) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (types.ContainerExecInspect, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, refStr string, options types.ImagePullOptions) (io.ReadCloser, error)
	NetworkList(ctx context.Context, options types.NetworkListOptions) ([]types.NetworkResource, error)
	NetworkCreate(ctx context.Context, name string, options types.NetworkCreate) (types.NetworkCreateResponse, error)
	Close() error
}

// Client wraps the Docker engine and owns the process-wide registry of
// tracked instances. The registry is the single source of truth for the
// exit-time safety sweep and must be mutated synchronously around
// start/stop.
type Client struct {
	docker engineAPI

	mu        sync.Mutex
	instances map[string]*Instance
	networkID string
}

func NewClient() (*Client, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &Client{
		docker:    docker,
		instances: make(map[string]*Instance),
	}, nil
}

func (c *Client) Close() error {
	return c.docker.Close()
}

// Ensure idempotently starts, or reuses if already running and tracked, a
// containerized instance matching the spec.
func (c *Client) Ensure(ctx context.Context, spec Spec) (*Instance, error) {
	logger := logging.GetLogger()

	c.mu.Lock()
	if inst, ok := c.instances[spec.Name]; ok {
		c.mu.Unlock()
		if c.isRunning(ctx, inst.ID) {
			logger.WithField("name", spec.Name).Debug("Reusing running instance")
			return inst, nil
		}
		c.Stop(ctx, inst)
		c.mu.Lock()
	}
	c.mu.Unlock()

	// A container with the same name may linger from an earlier crashed
	// execution. Remove it before creating a fresh one.
	c.removeStale(ctx, spec.Name)

	if err := c.pullIfMissing(ctx, spec.Image); err != nil {
		return nil, &StartupError{Name: spec.Name, Err: err}
	}

	networkID, err := c.ensureNetwork(ctx)
	if err != nil {
		return nil, &StartupError{Name: spec.Name, Err: err}
	}

	config := &container.Config{
		Image: spec.Image,
		Cmd:   spec.Cmd,
	}
	for key, value := range spec.Environment {
		config.Env = append(config.Env, fmt.Sprintf("%s=%s", key, value))
	}

	hostConfig := &container.HostConfig{
		NetworkMode: container.NetworkMode(networkName),
		Binds:       spec.Volumes,
	}

	for hostPort, containerPort := range spec.Ports {
		port, err := nat.NewPort("tcp", containerPort)
		if err != nil {
			return nil, &StartupError{Name: spec.Name, Err: fmt.Errorf("invalid container port %s: %w", containerPort, err)}
		}
		if config.ExposedPorts == nil {
			config.ExposedPorts = make(nat.PortSet)
		}
		config.ExposedPorts[port] = struct{}{}
		if hostConfig.PortBindings == nil {
			hostConfig.PortBindings = make(nat.PortMap)
		}
		hostConfig.PortBindings[port] = []nat.PortBinding{
			{HostIP: "0.0.0.0", HostPort: hostPort},
		}
	}

	resp, err := c.docker.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return nil, &StartupError{Name: spec.Name, Err: fmt.Errorf("failed to create container: %w", err)}
	}

	inst := &Instance{
		Name:       spec.Name,
		ID:         resp.ID,
		State:      StateStarting,
		CgroupPath: fmt.Sprintf("/sys/fs/cgroup/system.slice/docker-%s.scope", resp.ID),
	}

	// Track before starting so the exit-time sweep sees the container even
	// if a teardown fires mid-start.
	c.mu.Lock()
	c.instances[spec.Name] = inst
	c.mu.Unlock()

	if err := c.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		c.Stop(ctx, inst)
		inst.State = StateFailed
		return nil, &StartupError{Name: spec.Name, Err: fmt.Errorf("failed to start container: %w", err)}
	}

	logger.WithFields(logrus.Fields{
		"name":         spec.Name,
		"container_id": shortID(resp.ID),
		"network_id":   shortID(networkID),
	}).Info("Instance started")

	return inst, nil
}

// Stop is idempotent. Stopping an already-stopped or unknown instance is a
// no-op, never an error.
func (c *Client) Stop(ctx context.Context, inst *Instance) {
	if inst == nil || inst.ID == "" {
		return
	}

	c.removeContainer(ctx, inst.ID)

	c.mu.Lock()
	delete(c.instances, inst.Name)
	c.mu.Unlock()

	inst.State = StateStopped
}

// ListAll returns a snapshot of every tracked instance.
func (c *Client) ListAll() []*Instance {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]*Instance, 0, len(c.instances))
	for _, inst := range c.instances {
		result = append(result, inst)
	}
	return result
}

// StopAll force-stops every tracked instance. Leaking a live container is a
// correctness bug; this is the exit-time safety sweep.
func (c *Client) StopAll(ctx context.Context) {
	logger := logging.GetLogger()

	instances := c.ListAll()
	if len(instances) == 0 {
		return
	}

	logger.WithField("instances", len(instances)).Info("Stopping all tracked instances")

	var wg sync.WaitGroup
	for _, inst := range instances {
		wg.Add(1)
		go func(inst *Instance) {
			defer wg.Done()
			c.Stop(ctx, inst)
		}(inst)
	}
	wg.Wait()
}

func (c *Client) isRunning(ctx context.Context, containerID string) bool {
	info, err := c.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		return false
	}
	return info.State != nil && info.State.Running
}

func (c *Client) removeStale(ctx context.Context, name string) {
	logger := logging.GetLogger()

	containers, err := c.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		logger.WithField("name", name).WithError(err).Warn("Failed to list stale containers")
		return
	}

	for _, cont := range containers {
		logger.WithFields(logrus.Fields{
			"name":         name,
			"container_id": shortID(cont.ID),
		}).Debug("Removing stale container")
		c.removeContainer(ctx, cont.ID)
	}
}

func (c *Client) removeContainer(ctx context.Context, containerID string) {
	logger := logging.GetLogger()

	removeOptions := types.ContainerRemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	}
	if err := c.docker.ContainerRemove(ctx, containerID, removeOptions); err != nil {
		if !client.IsErrNotFound(err) {
			logger.WithField("container_id", shortID(containerID)).WithError(err).Warn("Failed to remove container")
		}
	}
}

func (c *Client) pullIfMissing(ctx context.Context, image string) error {
	logger := logging.GetLogger()

	if _, _, err := c.docker.ImageInspectWithRaw(ctx, image); err == nil {
		return nil
	}

	logger.WithField("image", image).Info("Pulling image")
	pullResp, err := c.docker.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", image, err)
	}
	defer pullResp.Close()

	if _, err := io.Copy(io.Discard, pullResp); err != nil {
		return fmt.Errorf("failed to complete image pull for %s: %w", image, err)
	}
	return nil
}

// ensureNetwork creates the shared bridge network on first use.
func (c *Client) ensureNetwork(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.networkID != "" {
		id := c.networkID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	networks, err := c.docker.NetworkList(ctx, types.NetworkListOptions{
		Filters: filters.NewArgs(filters.Arg("name", networkName)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list networks: %w", err)
	}

	var networkID string
	for _, network := range networks {
		if network.Name == networkName {
			networkID = network.ID
			break
		}
	}

	if networkID == "" {
		resp, err := c.docker.NetworkCreate(ctx, networkName, types.NetworkCreate{Driver: "bridge"})
		if err != nil {
			return "", fmt.Errorf("failed to create network %s: %w", networkName, err)
		}
		networkID = resp.ID
		logging.GetLogger().WithField("network_id", shortID(networkID)).Debug("Network created")
	}

	c.mu.Lock()
	c.networkID = networkID
	c.mu.Unlock()
	return networkID, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
