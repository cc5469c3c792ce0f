package runtime

import (
	"context"
	"fmt"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// BuildServerPort is the fixed port the in-container build daemon
// listens on, per spec.md §4.3's "upload the artifacts tarball; start
// the in-container build daemon; POST the formfile to it at
// /<name>/<instance_id>/formfile".
const BuildServerPort = 8080

// SandboxHandle identifies a long-running build sandbox: a container
// whose build daemon the engine talks to over HTTP while it runs,
// unlike RunSandboxedBuild's run-to-completion batch shape.
type SandboxHandle struct {
	ContainerID string
	Address     string // base URL of the in-container build daemon

	container containerd.Container
	task      containerd.Task
}

// StartSandbox pulls spec.Image, creates a container with the
// workspace bind-mounted, /dev/kvm passed through, and HOST_BRIDGE_IP
// set, and starts its task without waiting for exit -- the build
// daemon inside keeps running until StopSandbox tears it down.
func (r *ContainerdRuntime) StartSandbox(ctx context.Context, spec SandboxSpec) (*SandboxHandle, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	image, err := r.client.Pull(ctx, spec.Image, containerd.WithPullUnpack)
	if err != nil {
		return nil, fmt.Errorf("failed to pull build server image %s: %w", spec.Image, err)
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

	containerID := "build-server-" + spec.BuildID
	snapshotID := containerID + "-snapshot"

	container, err := r.client.NewContainer(
		ctx,
		containerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(snapshotID, image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create build server container: %w", err)
	}

	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStdio))
	if err != nil {
		_ = container.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("failed to create build server task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		_, _ = task.Delete(ctx)
		_ = container.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("failed to start build server task: %w", err)
	}

	// The build daemon is reached over the bridge network the container
	// joins -- its address is the container id resolved on that bridge,
	// the same convention HOST_BRIDGE_IP is read for on the host side.
	addr := fmt.Sprintf("http://%s:%d", containerID, BuildServerPort)

	return &SandboxHandle{
		ContainerID: containerID,
		Address:     addr,
		container:   container,
		task:        task,
	}, nil
}

// StopSandbox kills and removes h's task and container, including its
// snapshot. It is safe to call on a handle whose task has already
// exited, and is the unconditional teardown spec.md §4.3 step 5 and
// §5's shutdown-cancellation rule both require on every exit path.
func (r *ContainerdRuntime) StopSandbox(ctx context.Context, h *SandboxHandle) error {
	if h == nil {
		return nil
	}
	if h.task != nil {
		_ = h.task.Kill(ctx, 9)
		if _, err := h.task.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete build server task: %w", err)
		}
	}
	if h.container != nil {
		if err := h.container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
			return fmt.Errorf("failed to delete build server container: %w", err)
		}
	}
	return nil
}
