package build

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/formation/pkg/fcrypto"
	"github.com/cuemby/formation/pkg/queue"
	"github.com/cuemby/formation/pkg/runtime"
	"github.com/cuemby/formation/pkg/state"
	"github.com/cuemby/formation/pkg/storage"
	"github.com/cuemby/formation/pkg/types"
)

// fakeSandbox never touches containerd; it records start/stop calls so
// tests can assert that every exit path tears its sandbox down.
type fakeSandbox struct {
	started int
	stopped int
}

func (f *fakeSandbox) StartSandbox(ctx context.Context, spec runtime.SandboxSpec) (*runtime.SandboxHandle, error) {
	f.started++
	return &runtime.SandboxHandle{ContainerID: "build-server-" + spec.BuildID, Address: "http://sandbox.test"}, nil
}

func (f *fakeSandbox) StopSandbox(ctx context.Context, h *runtime.SandboxHandle) error {
	f.stopped++
	return nil
}

var errSimulatedBuildFailure = errors.New("simulated build server failure")

// fakeBuildServer stands in for the in-container build daemon.
type fakeBuildServer struct {
	image     []byte
	failAfter string // "ready", "formfile", "image" - fail at that step
}

func (f *fakeBuildServer) WaitReady(ctx context.Context, baseURL string) error {
	if f.failAfter == "ready" {
		return errSimulatedBuildFailure
	}
	return nil
}

func (f *fakeBuildServer) PostFormfile(ctx context.Context, baseURL, name, instanceID string, formfile types.Formfile) error {
	if f.failAfter == "formfile" {
		return errSimulatedBuildFailure
	}
	return nil
}

func (f *fakeBuildServer) DownloadImage(ctx context.Context, baseURL, name, instanceID string) ([]byte, error) {
	if f.failAfter == "image" {
		return nil, errSimulatedBuildFailure
	}
	return f.image, nil
}

func newTestEngine(t *testing.T, matcher CapabilityMatcher, sandbox Sandbox, bs BuildServerClient) (*Engine, queue.Queue, *state.DataStore) {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	q, err := queue.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	ds, err := state.New("node-1", store, q)
	require.NoError(t, err)

	eng, err := NewEngine(Config{NodeID: "node-1", BuildImage: "formation/build-server:latest", DataDir: dir}, q, ds, matcher, sandbox, bs, nil)
	require.NoError(t, err)
	return eng, q, ds
}

func signedRequest(t *testing.T, name string) (PackBuildRequest, string) {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	req := PackRequest{
		Name:          name,
		Formfile:      types.Formfile{Name: name, VCPUs: 1, MemoryMB: 512},
		ArtifactsBlob: []byte("fake-artifacts"),
	}
	reqJSON, err := json.Marshal(req)
	require.NoError(t, err)

	digest := fcrypto.Hash256(reqJSON)
	var hashArr [32]byte
	copy(hashArr[:], digest)

	sig, err := fcrypto.SignDigest(priv, digest)
	require.NoError(t, err)
	address := fcrypto.AddressFromPubkey(priv.PubKey())

	return PackBuildRequest{
		Request: req,
		Hash:    hashArr,
		Sig:     Signature{Sig: sig[:64], Rec: sig[64]},
	}, address
}

type allowAllMatcher struct{}

func (allowAllMatcher) IsResponsible(formfile types.Formfile, nodeID, buildID string) (bool, error) {
	return true, nil
}

type denyAllMatcher struct{}

func (denyAllMatcher) IsResponsible(formfile types.Formfile, nodeID, buildID string) (bool, error) {
	return false, nil
}

// buildTestArchive produces a gzip-compressed tar containing a single
// regular-file entry, the shape ExtractDiskImage expects a build
// server's finished disk image to take.
func buildTestArchive(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	_, err = gw.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return gzBuf.Bytes()
}

func TestHandlePackBuildRequestCompletesAndExtractsImage(t *testing.T) {
	image := buildTestArchive(t, "disk.raw", []byte("vm-image-bytes"))
	sandbox := &fakeSandbox{}
	bs := &fakeBuildServer{image: image}
	eng, _, ds := newTestEngine(t, allowAllMatcher{}, sandbox, bs)

	req, owner := signedRequest(t, "web")
	err := eng.handlePackBuildRequest(context.Background(), req)
	require.NoError(t, err)

	buildID := fcrypto.DeriveBuildID(owner, "web")
	instanceID, err := fcrypto.DeriveInstanceID(buildID, "node-1")
	require.NoError(t, err)

	instance, ok := ds.GetInstance(instanceID)
	require.True(t, ok)
	require.Equal(t, types.InstanceBuilt, instance.Status)
	require.Equal(t, owner, instance.Owner)

	require.Equal(t, 1, sandbox.started)
	require.Equal(t, 1, sandbox.stopped, "sandbox must be torn down after a successful build")

	agent, ok := ds.GetAgentByBuildID(buildID)
	require.True(t, ok)
	require.Equal(t, instanceID, agent.Metadata["instance_id"])
}

func TestHandlePackBuildRequestMarksInstanceFailedOnBuildServerError(t *testing.T) {
	sandbox := &fakeSandbox{}
	bs := &fakeBuildServer{failAfter: "ready"}
	eng, _, ds := newTestEngine(t, allowAllMatcher{}, sandbox, bs)

	req, owner := signedRequest(t, "web")
	err := eng.handlePackBuildRequest(context.Background(), req)
	require.Error(t, err)

	buildID := fcrypto.DeriveBuildID(owner, "web")
	instanceID, err2 := fcrypto.DeriveInstanceID(buildID, "node-1")
	require.NoError(t, err2)

	instance, ok := ds.GetInstance(instanceID)
	require.True(t, ok)
	require.Equal(t, types.InstanceFailed, instance.Status)

	require.Equal(t, 1, sandbox.started)
	require.Equal(t, 1, sandbox.stopped, "sandbox teardown must still run after a build failure")
}

func TestHandlePackBuildRequestRespectsCapabilityMatcherRejection(t *testing.T) {
	sandbox := &fakeSandbox{}
	bs := &fakeBuildServer{}
	eng, q, ds := newTestEngine(t, denyAllMatcher{}, sandbox, bs)

	req, owner := signedRequest(t, "web")
	err := eng.handlePackBuildRequest(context.Background(), req)
	require.NoError(t, err, "a capability-matcher rejection is not an engine error")

	buildID := fcrypto.DeriveBuildID(owner, "web")
	instanceID, err2 := fcrypto.DeriveInstanceID(buildID, "node-1")
	require.NoError(t, err2)

	_, ok := ds.GetInstance(instanceID)
	require.False(t, ok, "a rejected build must never create an instance record")
	require.Equal(t, 0, sandbox.started, "a rejected build must never start a sandbox")

	entries, err := q.GetAfter(PackTopic, 0)
	require.NoError(t, err)
	var failed int
	for _, e := range entries {
		if e.Subtopic != queue.SubtopicPackBuildResponse {
			continue
		}
		var resp PackBuildResponse
		require.NoError(t, json.Unmarshal(e.Payload, &resp))
		if resp.Status.Kind == StatusFailed && resp.Status.BuildID == buildID {
			failed++
		}
	}
	require.Equal(t, 1, failed, "exactly one Failed status must be posted for a rejected build")
}

func TestHandlePackBuildRequestRejectsInvalidSignature(t *testing.T) {
	sandbox := &fakeSandbox{}
	bs := &fakeBuildServer{}
	eng, _, _ := newTestEngine(t, allowAllMatcher{}, sandbox, bs)

	req, _ := signedRequest(t, "web")
	req.Sig.Sig = make([]byte, 64) // zeroed r||s never decodes to a valid point

	err := eng.handlePackBuildRequest(context.Background(), req)
	require.Error(t, err)
	require.Equal(t, 0, sandbox.started, "signature recovery must fail before any sandbox is started")
}

func TestDeriveBuildIDIsDeterministicAcrossIdenticalInputs(t *testing.T) {
	buildA := fcrypto.DeriveBuildID("0xabc", "same-name")
	buildB := fcrypto.DeriveBuildID("0xabc", "same-name")
	require.Equal(t, buildA, buildB)
}
