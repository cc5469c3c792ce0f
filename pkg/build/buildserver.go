package build

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/formation/pkg/ferrors"
	"github.com/cuemby/formation/pkg/health"
	"github.com/cuemby/formation/pkg/types"
)

// ReadinessInitialWait and ReadinessRetries/ReadinessRetryInterval
// implement spec.md §5's "build-server readiness probe performs up to
// 5 retries at 1-second intervals after a 2-second initial wait".
const (
	ReadinessInitialWait   = 2 * time.Second
	ReadinessRetries       = 5
	ReadinessRetryInterval = 1 * time.Second
)

// BuildServerClient is the engine's narrow view of the in-container
// build daemon: wait for it to come up, hand it the formfile, and pull
// back the finished disk image archive.
type BuildServerClient interface {
	WaitReady(ctx context.Context, baseURL string) error
	PostFormfile(ctx context.Context, baseURL, name, instanceID string, formfile types.Formfile) error
	DownloadImage(ctx context.Context, baseURL, name, instanceID string) ([]byte, error)
}

// HTTPBuildServerClient talks to the build daemon over plain HTTP,
// matching form-pack/src/manager.rs's reqwest-based build-server client.
type HTTPBuildServerClient struct {
	http *http.Client
}

// NewHTTPBuildServerClient builds an HTTPBuildServerClient.
func NewHTTPBuildServerClient() *HTTPBuildServerClient {
	return &HTTPBuildServerClient{http: &http.Client{Timeout: 30 * time.Second}}
}

// WaitReady polls baseURL + "/ping" until it answers or the retry
// budget is exhausted, using a health.HTTPChecker rather than a
// hand-rolled HTTP retry loop. A build server
// that is up but still initializing can answer with a non-5xx status
// before it's truly ready to accept a formfile, so the status range is
// widened past HTTPChecker's default 200-399 to accept anything under
// 500, matching the ping semantics form-pack/src/manager.rs expects.
func (c *HTTPBuildServerClient) WaitReady(ctx context.Context, baseURL string) error {
	select {
	case <-time.After(ReadinessInitialWait):
	case <-ctx.Done():
		return ctx.Err()
	}

	checker := health.NewHTTPChecker(baseURL + "/ping").WithStatusRange(100, 499)
	checker.Client = c.http

	var lastResult health.Result
	for attempt := 0; attempt <= ReadinessRetries; attempt++ {
		lastResult = checker.Check(ctx)
		if lastResult.Healthy {
			return nil
		}
		if attempt == ReadinessRetries {
			break
		}
		select {
		case <-time.After(ReadinessRetryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ferrors.Wrap(ferrors.BuildEnvironmentError, "build.WaitReady", "build server never became ready: "+lastResult.Message, nil)
}

// PostFormfile sends formfile to baseURL + "/<name>/<instanceID>/formfile",
// the endpoint spec.md §4.3 step 4 names.
func (c *HTTPBuildServerClient) PostFormfile(ctx context.Context, baseURL, name, instanceID string, formfile types.Formfile) error {
	body, err := json.Marshal(formfile)
	if err != nil {
		return ferrors.Wrap(ferrors.Internal, "build.PostFormfile", "failed to encode formfile", err)
	}
	url := fmt.Sprintf("%s/%s/%s/formfile", baseURL, name, instanceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return ferrors.Wrap(ferrors.Internal, "build.PostFormfile", "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return ferrors.Wrap(ferrors.BuildEnvironmentError, "build.PostFormfile", "failed to reach build server", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ferrors.New(ferrors.BuildEnvironmentError, "build.PostFormfile", fmt.Sprintf("build server rejected formfile: status %d", resp.StatusCode))
	}
	return nil
}

// DownloadImage fetches the finished disk image archive from baseURL +
// "/<name>/<instanceID>/image".
func (c *HTTPBuildServerClient) DownloadImage(ctx context.Context, baseURL, name, instanceID string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%s/image", baseURL, name, instanceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.Internal, "build.DownloadImage", "failed to build request", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ArtifactIngressError, "build.DownloadImage", "failed to reach build server", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, ferrors.New(ferrors.ArtifactIngressError, "build.DownloadImage", fmt.Sprintf("build server returned status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ArtifactIngressError, "build.DownloadImage", "failed to read image response", err)
	}
	return data, nil
}
