package queue

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cuemby/formation/pkg/log"
)

// Server exposes a Queue over HTTP with JSON bodies. Only the write
// route checks the method (POST) and logs each request; the read routes
// accept any method and do not log.
type Server struct {
	queue Queue
	mux   *http.ServeMux
}

// NewServer wires every queue route onto a fresh ServeMux.
func NewServer(q Queue) *Server {
	s := &Server{queue: q, mux: http.NewServeMux()}
	s.mux.HandleFunc("/queue/write_local", s.handleWrite)
	s.mux.HandleFunc("/queue/get", s.handleGet)
	s.mux.HandleFunc("/queue/get_n", s.handleGetN)
	s.mux.HandleFunc("/queue/get_after", s.handleGetAfter)
	s.mux.HandleFunc("/queue/get_n_after", s.handleGetNAfter)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type writeRequest struct {
	Topic         string `json:"topic"`
	Subtopic      byte   `json:"subtopic"`
	PayloadBase64 string `json:"payload_base64"`
}

type writeResponse struct {
	Index uint64 `json:"index"`
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.PayloadBase64)
	if err != nil {
		http.Error(w, "invalid payload encoding", http.StatusBadRequest)
		return
	}

	index, err := s.queue.Write(req.Topic, req.Subtopic, payload)
	if err != nil {
		log.Logger.Error().Err(err).Str("topic", req.Topic).Msg("queue write failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Logger.Debug().Str("topic", req.Topic).Uint64("index", index).Msg("queue write accepted")
	writeJSON(w, http.StatusOK, writeResponse{Index: index})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	entry, err := s.queue.Get(topic)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleGetN(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	n, err := strconv.Atoi(r.URL.Query().Get("n"))
	if err != nil {
		http.Error(w, "invalid n", http.StatusBadRequest)
		return
	}
	entries, err := s.queue.GetN(topic, n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetAfter(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	idx, err := strconv.ParseUint(r.URL.Query().Get("after"), 10, 64)
	if err != nil {
		http.Error(w, "invalid after", http.StatusBadRequest)
		return
	}
	entries, err := s.queue.GetAfter(topic, idx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetNAfter(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	idx, err := strconv.ParseUint(r.URL.Query().Get("after"), 10, 64)
	if err != nil {
		http.Error(w, "invalid after", http.StatusBadRequest)
		return
	}
	n, err := strconv.Atoi(r.URL.Query().Get("n"))
	if err != nil {
		http.Error(w, "invalid n", http.StatusBadRequest)
		return
	}
	entries, err := s.queue.GetNAfter(topic, idx, n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
