package build

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/formation/pkg/fcrypto"
	"github.com/cuemby/formation/pkg/ferrors"
	"github.com/cuemby/formation/pkg/log"
	"github.com/cuemby/formation/pkg/queue"
	"github.com/cuemby/formation/pkg/runtime"
	"github.com/cuemby/formation/pkg/types"
	"github.com/cuemby/formation/pkg/volume"
)

// PackTopic is the intent queue topic build requests/responses travel
// on.
const PackTopic = "pack"

// StateStore is the narrow slice of pkg/state's DataStore the engine
// needs to announce instance/agent/account transitions. *state.DataStore
// satisfies this without either package importing the other's full
// surface.
type StateStore interface {
	CreateInstance(i *types.Instance) (*types.Instance, error)
	UpdateInstance(i *types.Instance) (*types.Instance, error)
	CreateAgent(a *types.Agent) (*types.Agent, error)
	UpdateAgent(a *types.Agent) (*types.Agent, error)
	GetAgentByBuildID(buildID string) (*types.Agent, bool)
	CreateOrUpdateAccount(owner, instanceID string) (*types.Account, error)
}

// Sandbox is the engine's view of the sandboxed build environment: spin
// up a long-running build daemon container and tear it down, no matter
// how the build in between turns out. *runtime.ContainerdRuntime
// satisfies this.
type Sandbox interface {
	StartSandbox(ctx context.Context, spec runtime.SandboxSpec) (*runtime.SandboxHandle, error)
	StopSandbox(ctx context.Context, h *runtime.SandboxHandle) error
}

// Config holds an Engine's fixed settings.
type Config struct {
	NodeID       string
	BuildImage   string        // container image the build daemon runs from
	DataDir      string        // base directory; vm-images/ lives under it
	HostBridgeIP string        // HOST_BRIDGE_IP, normally read from br0
	BuildTimeout time.Duration // overall per-build wall clock budget
}

// Engine is the Build & Placement Engine (C3): it polls the pack topic,
// verifies and places each request, runs the sandboxed build, and
// announces every instance/agent/account state transition, mirroring
// form-pack/src/manager.rs::FormPackManager.
type Engine struct {
	cfg         Config
	queue       queue.Queue
	state       StateStore
	matcher     CapabilityMatcher
	sandbox     Sandbox
	buildServer BuildServerClient
	workspaces  *volume.LocalDriver
	logger      zerolog.Logger

	lastApplied uint64
}

// NewEngine builds an Engine. workspaces may be nil, in which case a
// driver rooted at volume.DefaultWorkspacesPath is created.
func NewEngine(cfg Config, q queue.Queue, state StateStore, matcher CapabilityMatcher, sandbox Sandbox, buildServer BuildServerClient, workspaces *volume.LocalDriver) (*Engine, error) {
	if workspaces == nil {
		var err error
		workspaces, err = volume.NewLocalDriver("")
		if err != nil {
			return nil, err
		}
	}
	if buildServer == nil {
		buildServer = NewHTTPBuildServerClient()
	}
	return &Engine{
		cfg:         cfg,
		queue:       q,
		state:       state,
		matcher:     matcher,
		sandbox:     sandbox,
		buildServer: buildServer,
		workspaces:  workspaces,
		logger:      log.WithComponent("build"),
	}, nil
}

// Run polls the pack topic and handles every new entry until ctx is
// canceled, the read -> handle -> sleep cooperative loop spec.md §9
// calls out.
func (e *Engine) Run(ctx context.Context) error {
	poller := queue.NewPoller(e.queue, PackTopic, e.lastApplied, queue.MinPollInterval, 16)
	return poller.Run(ctx, func(ctx context.Context, entries []*queue.Entry) error {
		for _, entry := range entries {
			e.handleEntry(ctx, entry)
			e.lastApplied = entry.Index
		}
		return nil
	})
}

// ConsumeOnce drains and handles every pack-topic entry currently
// queued after the last handled index, returning how many were
// processed -- the synchronous path tests and single-shot tooling use
// in place of Run's background loop.
func (e *Engine) ConsumeOnce(ctx context.Context) (int, error) {
	entries, err := e.queue.GetNAfter(PackTopic, e.lastApplied, -1)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		e.handleEntry(ctx, entry)
		e.lastApplied = entry.Index
	}
	return len(entries), nil
}

func (e *Engine) handleEntry(ctx context.Context, entry *queue.Entry) {
	switch entry.Subtopic {
	case queue.SubtopicPackBuildRequest:
		var req PackBuildRequest
		if err := json.Unmarshal(entry.Payload, &req); err != nil {
			e.logger.Error().Err(err).Msg("failed to decode pack build request")
			return
		}
		if err := e.handlePackBuildRequest(ctx, req); err != nil {
			e.logger.Error().Err(err).Msg("pack build request handling failed")
		}
	case queue.SubtopicPackBuildResponse:
		// Responses are this engine's own announcements replayed back by
		// the poll; nothing to do on receipt.
	default:
		e.logger.Warn().Uint8("subtopic", entry.Subtopic).Msg("unknown pack subtopic")
	}
}

// handlePackBuildRequest implements spec.md §4.3's pipeline: recover
// the signer, place the build, announce start, run the sandboxed
// build, announce completion -- with a Failed status posted on every
// error exit. A capability-matcher "not responsible" verdict is not an
// error: another node owns the build, and this one reports Failed
// without ever creating state for it.
func (e *Engine) handlePackBuildRequest(ctx context.Context, req PackBuildRequest) error {
	address, err := fcrypto.RecoverAddressFromDigest(req.Sig.Compact(), req.Hash[:])
	if err != nil {
		wrapped := ferrors.Wrap(ferrors.InvalidSignature, "build.handlePackBuildRequest", "failed to recover signer address", err)
		e.postStatus(PackBuildStatus{Kind: StatusFailed, Reason: wrapped.Error()}, req)
		return wrapped
	}
	buildID := fcrypto.DeriveBuildID(address, req.Request.Formfile.Name)

	instanceID, err := fcrypto.DeriveInstanceID(buildID, e.cfg.NodeID)
	if err != nil {
		e.postStatus(PackBuildStatus{Kind: StatusFailed, BuildID: buildID, Reason: err.Error()}, req)
		return err
	}

	responsible, err := e.matcher.IsResponsible(req.Request.Formfile, e.cfg.NodeID, buildID)
	if err != nil {
		e.postStatus(PackBuildStatus{Kind: StatusFailed, BuildID: buildID, Reason: fmt.Sprintf("failed to determine placement: %v", err)}, req)
		return nil
	}
	if !responsible {
		e.postStatus(PackBuildStatus{Kind: StatusFailed, BuildID: buildID, Reason: "node is not responsible for this workload according to the capability matcher"}, req)
		return nil
	}

	if err := e.announceStart(req, address, buildID, instanceID); err != nil {
		e.postStatus(PackBuildStatus{Kind: StatusFailed, BuildID: buildID, Reason: err.Error()}, req)
		return err
	}

	if err := e.runSandboxedBuild(ctx, req, buildID, instanceID); err != nil {
		if _, updErr := e.state.UpdateInstance(&types.Instance{InstanceID: instanceID, Status: types.InstanceFailed, FailedReason: err.Error()}); updErr != nil {
			e.logger.Error().Err(updErr).Msg("failed to mark instance failed")
		}
		e.postStatus(PackBuildStatus{Kind: StatusFailed, BuildID: buildID, Reason: err.Error()}, req)
		return err
	}

	instance, err := e.announceCompletion(buildID, instanceID)
	if err != nil {
		e.postStatus(PackBuildStatus{Kind: StatusFailed, BuildID: buildID, Reason: err.Error()}, req)
		return err
	}
	e.postStatus(PackBuildStatus{Kind: StatusCompleted, BuildID: buildID, Instance: instance}, req)
	return nil
}

// announceStart creates the Instance/Agent/Account records a build's
// Started status depends on, mirroring manager.rs's
// write_pack_status_started.
func (e *Engine) announceStart(req PackBuildRequest, owner, buildID, instanceID string) error {
	formfileJSON, err := json.Marshal(req.Request.Formfile)
	if err != nil {
		return ferrors.Wrap(ferrors.Internal, "build.announceStart", "failed to encode formfile snapshot", err)
	}

	gpus, _ := types.ParseGPUDevices(req.Request.Formfile.GPUDevices)
	storage := req.Request.Formfile.StorageGB
	if storage == 0 {
		storage = 5
	}
	resources := types.Resources{
		VCPUs:         req.Request.Formfile.VCPUs,
		MemoryMB:      req.Request.Formfile.MemoryMB,
		BandwidthMbps: 1000,
		StorageGB:     storage,
		GPU:           gpus,
	}

	instance := &types.Instance{
		InstanceID:   instanceID,
		BuildID:      buildID,
		NodeID:       e.cfg.NodeID,
		Owner:        owner,
		Name:         req.Request.Formfile.Name,
		Status:       types.InstanceBuilding,
		Resources:    resources,
		FormfileJSON: string(formfileJSON),
	}
	if _, err := e.state.CreateInstance(instance); err != nil {
		return ferrors.Wrap(ferrors.Internal, "build.announceStart", "failed to create instance record", err)
	}

	agent := &types.Agent{
		AgentID:         uuid.NewString(),
		Name:            req.Request.Formfile.Name,
		FormfileBase64:  base64.StdEncoding.EncodeToString(formfileJSON),
		ModelID:         req.Request.Formfile.ModelID,
		IsModelRequired: req.Request.Formfile.IsModelRequired,
		Resources:       resources,
		Metadata:        map[string]string{"build_id": buildID},
	}
	if _, err := e.state.CreateAgent(agent); err != nil {
		return ferrors.Wrap(ferrors.Internal, "build.announceStart", "failed to create agent record", err)
	}

	if _, err := e.state.CreateOrUpdateAccount(owner, instanceID); err != nil {
		return ferrors.Wrap(ferrors.Internal, "build.announceStart", "failed to link instance to owner account", err)
	}

	e.postStatus(PackBuildStatus{Kind: StatusStarted, BuildID: buildID}, req)
	return nil
}

// runSandboxedBuild executes spec.md §4.3 steps 4-5: create an
// ephemeral build-server container, push the artifacts and formfile
// into it, pull back the finished image, and always tear the
// container down, success or failure.
func (e *Engine) runSandboxedBuild(ctx context.Context, req PackBuildRequest, buildID, instanceID string) error {
	workspacePath, err := e.workspaces.Create(buildID)
	if err != nil {
		return ferrors.Wrap(ferrors.BuildEnvironmentError, "build.runSandboxedBuild", "failed to create build workspace", err)
	}
	defer e.workspaces.Delete(buildID)

	if err := os.WriteFile(filepath.Join(workspacePath, "artifacts.tar.gz"), req.Request.ArtifactsBlob, 0644); err != nil {
		return ferrors.Wrap(ferrors.ArtifactIngressError, "build.runSandboxedBuild", "failed to write artifacts into workspace", err)
	}
	formfileJSON, err := json.Marshal(req.Request.Formfile)
	if err != nil {
		return ferrors.Wrap(ferrors.Internal, "build.runSandboxedBuild", "failed to encode formfile", err)
	}
	if err := os.WriteFile(filepath.Join(workspacePath, "formfile.json"), formfileJSON, 0644); err != nil {
		return ferrors.Wrap(ferrors.ArtifactIngressError, "build.runSandboxedBuild", "failed to write formfile into workspace", err)
	}

	timeout := e.cfg.BuildTimeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	buildCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	handle, err := e.sandbox.StartSandbox(buildCtx, runtime.SandboxSpec{
		BuildID:       buildID,
		Image:         e.cfg.BuildImage,
		WorkspacePath: workspacePath,
		HostBridgeIP:  e.cfg.HostBridgeIP,
	})
	if err != nil {
		return ferrors.Wrap(ferrors.BuildEnvironmentError, "build.runSandboxedBuild", "failed to start build sandbox", err)
	}
	// Guaranteed cleanup (spec.md §4.3 step 5, P9): runs on every exit
	// from here down, build error or not. The build error, not a
	// teardown error, is what the caller sees.
	defer func() {
		if stopErr := e.sandbox.StopSandbox(context.Background(), handle); stopErr != nil {
			e.logger.Error().Err(stopErr).Str("build_id", buildID).Msg("failed to tear down build sandbox")
		}
	}()

	if err := e.buildServer.WaitReady(buildCtx, handle.Address); err != nil {
		return err
	}
	if err := e.buildServer.PostFormfile(buildCtx, handle.Address, req.Request.Name, instanceID, req.Request.Formfile); err != nil {
		return err
	}
	archive, err := e.buildServer.DownloadImage(buildCtx, handle.Address, req.Request.Name, instanceID)
	if err != nil {
		return err
	}

	if _, err := ExtractDiskImage(e.cfg.DataDir, req.Request.Name, archive); err != nil {
		return err
	}
	return nil
}

// announceCompletion flips the instance to Built and stamps the
// completed instance id onto the agent it belongs to, per spec.md
// §4.3 step 6.
func (e *Engine) announceCompletion(buildID, instanceID string) (*types.Instance, error) {
	instance, err := e.state.UpdateInstance(&types.Instance{InstanceID: instanceID, Status: types.InstanceBuilt})
	if err != nil {
		return nil, ferrors.Wrap(ferrors.Internal, "build.announceCompletion", "failed to update instance to built", err)
	}

	if agent, ok := e.state.GetAgentByBuildID(buildID); ok {
		if _, err := e.state.UpdateAgent(&types.Agent{
			AgentID:  agent.AgentID,
			Metadata: map[string]string{"instance_id": instanceID},
		}); err != nil {
			return nil, ferrors.Wrap(ferrors.Internal, "build.announceCompletion", "failed to update agent with completed instance", err)
		}
	}
	return instance, nil
}

func (e *Engine) postStatus(status PackBuildStatus, req PackBuildRequest) {
	payload, err := json.Marshal(PackBuildResponse{Status: status, Request: req})
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to encode pack build status")
		return
	}
	if _, err := e.queue.Write(PackTopic, queue.SubtopicPackBuildResponse, payload); err != nil {
		e.logger.Error().Err(err).Msg("failed to post pack build status")
	}
}
