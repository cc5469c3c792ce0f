package runtime

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	// DefaultNamespace is the containerd namespace builds run in.
	DefaultNamespace = "formation"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// kvmDevicePath is host-mapped into every build sandbox so builds
	// that need hardware virtualization (nested VM images) can use it.
	kvmDevicePath = "/dev/kvm"
)

// SandboxSpec describes one build's ephemeral container.
type SandboxSpec struct {
	BuildID       string
	Image         string
	Env           []string
	WorkspacePath string // host path bind-mounted to /workspace
	HostBridgeIP  string
	Timeout       time.Duration
}

// SandboxResult is what a sandboxed build produced.
type SandboxResult struct {
	ExitCode uint32
	Stdout   string
	Stderr   string
}

// ContainerdRuntime runs sandboxed builds through containerd: pull,
// create, start, wait, and an unconditional teardown of container, task
// and snapshot on every exit path, successful or not.
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdRuntime creates a new containerd runtime client.
func NewContainerdRuntime(socketPath string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}
	return &ContainerdRuntime{client: client, namespace: DefaultNamespace}, nil
}

// Close closes the containerd client connection.
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// RunSandboxedBuild pulls spec.Image, runs it to completion with the
// workspace bind-mounted and HOST_BRIDGE_IP/the build's env set, and
// tears the container down before returning -- on every return path,
// including a context cancellation or panic recovery by the caller.
func (r *ContainerdRuntime) RunSandboxedBuild(ctx context.Context, spec SandboxSpec) (*SandboxResult, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	image, err := r.client.Pull(ctx, spec.Image, containerd.WithPullUnpack)
	if err != nil {
		return nil, fmt.Errorf("failed to pull image %s: %w", spec.Image, err)
	}

	env := append([]string{}, spec.Env...)
	if spec.HostBridgeIP != "" {
		env = append(env, "HOST_BRIDGE_IP="+spec.HostBridgeIP)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
		oci.WithLinuxDevice(kvmDevicePath, "rwm"),
	}
	if spec.WorkspacePath != "" {
		opts = append(opts, oci.WithMounts([]specs.Mount{
			{
				Destination: "/workspace",
				Type:        "bind",
				Source:      spec.WorkspacePath,
				Options:     []string{"rbind", "rw"},
			},
		}))
	}

	containerID := "build-" + spec.BuildID
	snapshotID := containerID + "-snapshot"

	container, err := r.client.NewContainer(
		ctx,
		containerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(snapshotID, image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create build container: %w", err)
	}
	defer func() {
		_ = container.Delete(context.Background(), containerd.WithSnapshotCleanup)
	}()

	var stdout, stderr bytes.Buffer
	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStreams(nil, &stdout, &stderr)))
	if err != nil {
		return nil, fmt.Errorf("failed to create build task: %w", err)
	}
	defer func() {
		_, _ = task.Delete(context.Background())
	}()

	statusC, err := task.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait on build task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		_, _ = task.Delete(context.Background())
		return nil, fmt.Errorf("failed to start build task: %w", err)
	}

	timeout := spec.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case status := <-statusC:
		return &SandboxResult{ExitCode: status.ExitCode(), Stdout: stdout.String(), Stderr: stderr.String()}, nil
	case <-waitCtx.Done():
		_ = task.Kill(context.Background(), 9)
		return nil, fmt.Errorf("build %s timed out after %s", spec.BuildID, timeout)
	}
}

// ListBuildContainers returns the IDs of every build container still
// known to containerd in this namespace (normally none, since
// RunSandboxedBuild always tears its container down).
func (r *ContainerdRuntime) ListBuildContainers(ctx context.Context) ([]string, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	containers, err := r.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID())
	}
	return ids, nil
}
