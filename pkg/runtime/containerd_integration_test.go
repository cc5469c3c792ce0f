package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestRunSandboxedBuildBasicWorkflow exercises a full pull, create,
// start, wait, teardown cycle against a real containerd socket. It
// skips itself when no daemon is reachable, since CI and most
// developer machines don't run one.
func TestRunSandboxedBuildBasicWorkflow(t *testing.T) {
	rt, err := NewContainerdRuntime("")
	if err != nil {
		t.Skipf("containerd not available: %v", err)
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	spec := SandboxSpec{
		BuildID: uuid.New().String(),
		Image:   "docker.io/library/alpine:latest",
		Env:     []string{"TEST=integration"},
		Timeout: time.Minute,
	}

	result, err := rt.RunSandboxedBuild(ctx, spec)
	if err != nil {
		t.Fatalf("RunSandboxedBuild() error = %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0, stderr = %s", result.ExitCode, result.Stderr)
	}
}

func TestListBuildContainersEmptyAfterTeardown(t *testing.T) {
	rt, err := NewContainerdRuntime("")
	if err != nil {
		t.Skipf("containerd not available: %v", err)
	}
	defer rt.Close()

	ctx := context.Background()
	ids, err := rt.ListBuildContainers(ctx)
	if err != nil {
		t.Fatalf("ListBuildContainers() error = %v", err)
	}
	for _, id := range ids {
		t.Logf("found leftover container: %s", id)
	}
}
