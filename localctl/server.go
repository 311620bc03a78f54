package localctl

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/ringlink/ringlink"
	"github.com/ringlink/ringlink/client"
)

// Server exposes one client.Client over HTTP+JSON: plain
// http.HandlerFuncs registered on a *http.ServeMux and served over
// whatever net.Listener Listen returns for the host platform.
type Server struct {
	client *client.Client
	events *EventQueue
}

// NewServer wires a Server to an already-constructed client.Client and
// the EventQueue that was passed as its Observer.
func NewServer(c *client.Client, events *EventQueue) *Server {
	return &Server{client: c, events: events}
}

// Serve registers every endpoint and blocks, serving HTTP over
// listener until it is closed.
func (s *Server) Serve(listener net.Listener) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", s.handleAuthorize)
	mux.HandleFunc("/logout", s.handleLogout)
	mux.HandleFunc("/call", s.handleCall)
	mux.HandleFunc("/call/accept", s.handleCallAccept)
	mux.HandleFunc("/call/decline", s.handleCallDecline)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/events", s.handleEvents)
	return http.Serve(listener, mux)
}

func writeResult(w http.ResponseWriter, code ringlink.ErrorCode) {
	w.Header().Set("Content-Type", "application/json")
	resp := ResultResponse{OK: code == ringlink.Success}
	if code != ringlink.Success {
		resp.Error = code.String()
	}
	json.NewEncoder(w).Encode(resp)
}

func decodeNickname(r *http.Request) string {
	var req NicknameRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	return req.Nickname
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeResult(w, s.client.Authorize(decodeNickname(r)))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeResult(w, s.client.Logout())
}

// handleCall implements PUT /call (start outgoing) and DELETE /call
// (stop outgoing or end active, whichever applies).
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		writeResult(w, s.client.StartOutgoingCall(decodeNickname(r)))
	case http.MethodDelete:
		snap := s.client.Snapshot()
		if snap.HasOutgoing {
			writeResult(w, s.client.StopOutgoingCall())
			return
		}
		writeResult(w, s.client.EndCall())
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCallAccept(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeResult(w, s.client.AcceptCall(decodeNickname(r)))
}

func (s *Server) handleCallDecline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeResult(w, s.client.DeclineCall(decodeNickname(r)))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.client.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.client.RecentCalls(20))
}

// handleEvents long-polls EventQueue.Drain and writes one JSON object
// per line, per call, so a CLI front-end can stream state transitions
// with a simple loop of repeated GETs.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	events := s.events.Drain()
	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return
		}
	}
}
