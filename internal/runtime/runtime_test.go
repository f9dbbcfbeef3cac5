package runtime

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// fakeEngine satisfies engineAPI without a live Docker daemon.
type fakeEngine struct {
	mu       sync.Mutex
	onStart  func()
	startErr error
	removed  []string
}

func (f *fakeEngine) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	return container.CreateResponse{ID: "0123456789abcdef"}, nil
}

func (f *fakeEngine) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	if f.onStart != nil {
		f.onStart()
	}
	return f.startErr
}

func (f *fakeEngine) ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	return types.ContainerJSON{}, nil
}

func (f *fakeEngine) ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error) {
	return nil, nil
}

func (f *fakeEngine) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, containerID)
	return nil
}

func (f *fakeEngine) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	return nil, nil
}

func (f *fakeEngine) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	return nil, nil
}

func (f *fakeEngine) ContainerStatsOneShot(ctx context.Context, containerID string) (types.ContainerStats, error) {
	return types.ContainerStats{}, nil
}

func (f *fakeEngine) ContainerExecCreate(ctx context.Context, containerID string, config types.ExecConfig) (types.IDResponse, error) {
	return types.IDResponse{}, nil
}

func (f *fakeEngine) ContainerExecAttach(ctx context.Context, execID string, config types.ExecStartCheck) (types.HijackedResponse, error) {
	return types.HijackedResponse{}, nil
}

func (f *fakeEngine) ContainerExecInspect(ctx context.Context, execID string) (types.ContainerExecInspect, error) {
	return types.ContainerExecInspect{}, nil
}

func (f *fakeEngine) ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error) {
	return types.ImageInspect{}, nil, nil
}

func (f *fakeEngine) ImagePull(ctx context.Context, refStr string, options types.ImagePullOptions) (io.ReadCloser, error) {
	return nil, errors.New("no registry in tests")
}

func (f *fakeEngine) NetworkList(ctx context.Context, options types.NetworkListOptions) ([]types.NetworkResource, error) {
	return nil, nil
}

func (f *fakeEngine) NetworkCreate(ctx context.Context, name string, options types.NetworkCreate) (types.NetworkCreateResponse, error) {
	return types.NetworkCreateResponse{ID: "netid"}, nil
}

func (f *fakeEngine) Close() error { return nil }

func newFakeClient(fake *fakeEngine) *Client {
	return &Client{
		docker:    fake,
		instances: make(map[string]*Instance),
		networkID: "netid",
	}
}

func TestEnsure_TracksInstanceBeforeStart(t *testing.T) {
	fake := &fakeEngine{}
	c := newFakeClient(fake)

	trackedAtStart := -1
	fake.onStart = func() {
		trackedAtStart = len(c.ListAll())
	}

	inst, err := c.Ensure(context.Background(), Spec{Name: "db", Image: "img"})
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if trackedAtStart != 1 {
		t.Fatalf("expected 1 tracked instance during start, got %d", trackedAtStart)
	}
	if inst.State != StateStarting {
		t.Fatalf("unexpected state %q", inst.State)
	}
}

func TestEnsure_FailedStartLeavesNothingTracked(t *testing.T) {
	fake := &fakeEngine{startErr: errors.New("cannot start")}
	c := newFakeClient(fake)

	_, err := c.Ensure(context.Background(), Spec{Name: "db", Image: "img"})

	var startupErr *StartupError
	if !errors.As(err, &startupErr) {
		t.Fatalf("expected StartupError, got %v", err)
	}
	if got := c.ListAll(); len(got) != 0 {
		t.Fatalf("expected no tracked instances after failed start, got %d", len(got))
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.removed) == 0 {
		t.Fatalf("expected the created container to be removed")
	}
}
