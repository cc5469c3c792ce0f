/*
Package runtime runs sandboxed builds through containerd.

RunSandboxedBuild pulls an image, creates an ephemeral container with
the build's workspace bind-mounted at /workspace and /dev/kvm passed
through for builds that nest a VM image, starts it, waits for exit or
a timeout, and tears down the container, task and snapshot before
returning on every path, including a timeout kill.

	rt, err := runtime.NewContainerdRuntime("")
	defer rt.Close()
	result, err := rt.RunSandboxedBuild(ctx, runtime.SandboxSpec{
		BuildID:       buildID,
		Image:         imageRef,
		WorkspacePath: workspacePath,
		HostBridgeIP:  hostBridgeIP,
	})

ListBuildContainers exists for diagnosing a leak: RunSandboxedBuild's
own teardown should leave the formation containerd namespace empty.

StartSandbox/StopSandbox split creation from teardown for the build
engine's case: a long-running in-container build daemon the engine
talks HTTP to while it's up, rather than a batch job waited to exit.
*/
package runtime
