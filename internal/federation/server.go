// Package federation implements the HTTP federation server (C6): the
// Matrix-flavored server-key and event-receive endpoints, the outbound
// sync queue, and CRDT-based public memory sync.
package federation

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cis-project/cis-core/internal/domain"
	"github.com/cis-project/cis-core/internal/security"
)

// ServerKeyValidity is how long this node's verify_keys remain valid
// before a client should re-fetch them.
const ServerKeyValidity = 24 * time.Hour

// SignatureVerification is feature-flagged off by default: when
// disabled, every well-formed event is accepted regardless of its
// signatures field.
type SignatureVerification bool

const (
	SignaturesOff SignatureVerification = false
	SignaturesOn  SignatureVerification = true
)

// Server is the federation HTTP API: /_matrix/key/v2/server,
// /_cis/v1/event/receive, /_cis/v1/health.
type Server struct {
	serverName   string
	identity     *security.Keypair
	peers        *PeerStore
	events       *EventStore
	verification SignatureVerification
	metricsOn    bool
}

// NewServer constructs a federation Server for serverName, identified by
// identity's Ed25519 keypair.
func NewServer(serverName string, identity *security.Keypair, peers *PeerStore, events *EventStore, verification SignatureVerification) *Server {
	return &Server{
		serverName:   serverName,
		identity:     identity,
		peers:        peers,
		events:       events,
		verification: verification,
	}
}

// EnableMetrics mounts the Prometheus /metrics endpoint.
func (s *Server) EnableMetrics() { s.metricsOn = true }

// Handler returns the chi router with every federation route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/_matrix/key/v2/server", s.handleServerKey)
	r.Post("/_cis/v1/event/receive", s.handleEventReceive)
	r.Get("/_cis/v1/health", s.handleHealth)

	if s.metricsOn {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleServerKey(w http.ResponseWriter, r *http.Request) {
	resp := domain.ServerKeyResponse{
		ServerName:   s.serverName,
		ValidUntilTS: time.Now().Add(ServerKeyValidity).UnixMilli(),
		VerifyKeys: map[string]domain.VerifyKey{
			"ed25519:1": {Key: s.identity.PublicKeyHex()},
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEventReceive(w http.ResponseWriter, r *http.Request) {
	var ev domain.CisMatrixEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.EventReceiveResult{Accepted: false, Error: "malformed event body"})
		return
	}

	origin := originServer(ev, r)
	if origin == "" {
		writeJSON(w, http.StatusBadRequest, domain.EventReceiveResult{Accepted: false, Error: "could not determine origin server"})
		return
	}

	if s.verification == SignaturesOn && len(ev.Signatures) == 0 {
		writeJSON(w, http.StatusForbidden, domain.EventReceiveResult{Accepted: false, EventID: ev.EventID, Error: domain.ErrSignatureMissing.Error()})
		return
	}

	if !s.peers.IsTrusted(origin) {
		writeJSON(w, http.StatusForbidden, domain.EventReceiveResult{Accepted: false, EventID: ev.EventID, Error: domain.ErrUntrustedOrigin.Error()})
		return
	}

	if err := s.events.Persist(ev); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrEventReplayed) {
			// A replay is not a failure from the sender's point of view —
			// the event is already applied, so report success.
			writeJSON(w, http.StatusOK, domain.EventReceiveResult{Accepted: true, EventID: ev.EventID})
			return
		}
		writeJSON(w, status, domain.EventReceiveResult{Accepted: false, EventID: ev.EventID, Error: err.Error()})
		return
	}

	if err := s.peers.MarkSeen(origin); err != nil {
		writeJSON(w, http.StatusInternalServerError, domain.EventReceiveResult{Accepted: false, EventID: ev.EventID, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, domain.EventReceiveResult{Accepted: true, EventID: ev.EventID})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.HealthResult{Status: "ok", PeerCount: s.peers.Count()})
}

// originServer extracts the sender server: event.origin, else the
// server-name suffix of sender after the last colon, else the
// X-Origin-Server header.
func originServer(ev domain.CisMatrixEvent, r *http.Request) string {
	if ev.Origin != "" {
		return ev.Origin
	}
	if idx := strings.LastIndex(ev.Sender, ":"); idx >= 0 && idx+1 < len(ev.Sender) {
		return ev.Sender[idx+1:]
	}
	return r.Header.Get("X-Origin-Server")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
