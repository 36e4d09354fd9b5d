package paxos

import (
	"context"
	"encoding/json"
	"net/http"
)

type statusFunc func(ctx context.Context) (any, error)

// HTTPHandler serves the read-only status of one Paxos process
type HTTPHandler struct {
	health    statusFunc
	decisions statusFunc
}

func NewAcceptorHandler(a *Acceptor) *HTTPHandler {
	return &HTTPHandler{
		health: func(ctx context.Context) (any, error) { return a.Status(ctx) },
	}
}

func NewLeaderHandler(l *Leader) *HTTPHandler {
	return &HTTPHandler{
		health: func(ctx context.Context) (any, error) { return l.Status(ctx) },
	}
}

func NewReplicaHandler(r *Replica) *HTTPHandler {
	return &HTTPHandler{
		health:    func(ctx context.Context) (any, error) { return r.Status(ctx) },
		decisions: func(ctx context.Context) (any, error) { return r.Decisions(ctx) },
	}
}

func (h *HTTPHandler) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.serve(h.health))
	if h.decisions != nil {
		mux.HandleFunc("/decisions", h.serve(h.decisions))
	}
}

func (h *HTTPHandler) serve(status statusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var resp, err = status(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err = json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}
