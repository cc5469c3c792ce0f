package queue

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/formation/pkg/ferrors"
)

// Client talks to a BoltQueue over HTTP, the path
// form-net/server/src/db/peer.rs uses to post PeerRequests into the
// "state" topic via "http://127.0.0.1:{port}/queue/write_local".
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client against a queue server listening at baseURL
// (e.g. "http://127.0.0.1:3003").
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 5 * time.Second}}
}

// WriteLocal posts a write to the local queue server.
func (c *Client) WriteLocal(topic string, subtopic byte, payload []byte) (uint64, error) {
	body, err := json.Marshal(writeRequest{
		Topic:         topic,
		Subtopic:      subtopic,
		PayloadBase64: base64.StdEncoding.EncodeToString(payload),
	})
	if err != nil {
		return 0, ferrors.Wrap(ferrors.Internal, "queue.Client.WriteLocal", "failed to encode request", err)
	}

	resp, err := c.http.Post(c.baseURL+"/queue/write_local", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, ferrors.Wrap(ferrors.Transport, "queue.Client.WriteLocal", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, ferrors.New(ferrors.Transport, "queue.Client.WriteLocal", fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	var out writeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, ferrors.Wrap(ferrors.Internal, "queue.Client.WriteLocal", "failed to decode response", err)
	}
	return out.Index, nil
}
