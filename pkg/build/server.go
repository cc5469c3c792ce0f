package build

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cuemby/formation/pkg/queue"
)

// Server exposes the pack topic's build/status HTTP surface, mirroring
// form-pack/src/manager.rs's build_routes: submit a signed build
// request and poll its status by build id.
type Server struct {
	queue queue.Queue
	mux   *http.ServeMux
}

// NewServer builds a Server backed by q.
func NewServer(q queue.Queue) *Server {
	s := &Server{queue: q, mux: http.NewServeMux()}
	s.mux.HandleFunc("/ping", s.handlePing)
	s.mux.HandleFunc("/build", s.handleBuild)
	s.mux.HandleFunc("/status/", s.handleStatus)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleBuild accepts a signed PackBuildRequest and writes it to the
// pack topic for the engine to pick up; it does not wait for the build
// to finish.
func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req PackBuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid build request", http.StatusBadRequest)
		return
	}
	payload, err := json.Marshal(req)
	if err != nil {
		http.Error(w, "failed to encode request", http.StatusInternalServerError)
		return
	}
	if _, err := s.queue.Write(PackTopic, queue.SubtopicPackBuildRequest, payload); err != nil {
		http.Error(w, "failed to enqueue build request", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleStatus returns the most recent PackBuildStatus whose BuildID
// matches the path's {build_id} segment.
//
// form-pack/src/manager.rs's get_status handler matches a
// PackBuildStatus::Failed arm by comparing its own build_id field
// against itself ("if build_id == build_id"), which is always true and
// so returns the first Failed status found regardless of which build
// was asked about. This handler instead matches the path parameter
// against msg.Status.BuildID, the comparison that bug was meant to
// perform.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	buildID := strings.TrimPrefix(r.URL.Path, "/status/")
	if buildID == "" {
		http.Error(w, "build id is required", http.StatusBadRequest)
		return
	}

	entries, err := s.queue.GetAfter(PackTopic, 0)
	if err != nil {
		http.Error(w, "failed to read pack topic", http.StatusInternalServerError)
		return
	}

	var latest *PackBuildStatus
	for _, entry := range entries {
		if entry.Subtopic != queue.SubtopicPackBuildResponse {
			continue
		}
		var resp PackBuildResponse
		if err := json.Unmarshal(entry.Payload, &resp); err != nil {
			continue
		}
		if resp.Status.BuildID == buildID {
			status := resp.Status
			latest = &status
		}
	}
	if latest == nil {
		http.Error(w, "no status found for build id", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(latest)
}
