package api

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/helm/settlement/pkg/deploy"
	"github.com/Mindburn-Labs/helm/settlement/pkg/escrow"
	"github.com/Mindburn-Labs/helm/settlement/pkg/observability"
	"github.com/Mindburn-Labs/helm/settlement/pkg/registry"
	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// Server is the read API of one deployed protocol.
type Server struct {
	proto   *deploy.Protocol
	limiter LimiterStore
	slo     *observability.SLOTracker
	logger  *slog.Logger
}

type Option func(*Server)

// WithLimiter rate limits every route except /healthz.
func WithLimiter(l LimiterStore) Option { return func(s *Server) { s.limiter = l } }

// WithSLO serves the tracker's status under /v1/slo.
func WithSLO(t *observability.SLOTracker) Option { return func(s *Server) { s.slo = t } }

func NewServer(p *deploy.Protocol, opts ...Option) *Server {
	s := &Server{proto: p, logger: slog.Default().With("component", "api")}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	v1 := http.NewServeMux()
	v1.HandleFunc("GET /v1/schemas", s.handleSchemas)
	v1.HandleFunc("GET /v1/records/{uid}", s.handleRecord)
	v1.HandleFunc("GET /v1/escrows/{kind}/{uid}", s.handleEscrow)
	v1.HandleFunc("GET /v1/votes/{subject}", s.handleVote)
	if s.slo != nil {
		v1.HandleFunc("GET /v1/slo", s.handleSLO)
	}

	var limited http.Handler = v1
	if s.limiter != nil {
		limited = RateLimit(s.limiter, v1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	mux.Handle("/v1/", limited)
	return RequestID(mux)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) query(w http.ResponseWriter, r *http.Request, fn func(tx *substrate.Tx) (any, error)) {
	v, err := substrate.Query(r.Context(), s.proto.Host(), fn)
	if err != nil {
		s.logger.DebugContext(r.Context(), "query failed", "path", r.URL.Path, "error", err)
		WriteProtoError(w, r, err)
		return
	}
	writeJSON(w, v)
}

// handleSchemas lists schemas, or resolves ?name=&constraint= to the newest
// matching version.
func (s *Server) handleSchemas(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	s.query(w, r, func(tx *substrate.Tx) (any, error) {
		if name == "" {
			return s.proto.Registry.Schemas(tx)
		}
		constraint := r.URL.Query().Get("constraint")
		if constraint == "" {
			constraint = "*"
		}
		return s.proto.Registry.Lookup(tx, name, constraint)
	})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	uid := registry.UID(r.PathValue("uid"))
	s.query(w, r, func(tx *substrate.Tx) (any, error) {
		return s.proto.Registry.Read(tx, uid)
	})
}

// EscrowView is the body of GET /v1/escrows/{kind}/{uid}.
type EscrowView struct {
	UID     registry.UID    `json:"uid"`
	Kind    string          `json:"kind"`
	State   escrow.State    `json:"state"`
	Outcome *escrow.Outcome `json:"outcome,omitempty"`
}

func (s *Server) handleEscrow(w http.ResponseWriter, r *http.Request) {
	kind, uid := r.PathValue("kind"), registry.UID(r.PathValue("uid"))
	s.query(w, r, func(tx *substrate.Tx) (any, error) {
		state, err := s.proto.EscrowState(tx, kind, uid)
		if err != nil {
			return nil, err
		}
		v := EscrowView{UID: uid, Kind: kind, State: state}
		if state != escrow.StateCreated {
			o, err := s.proto.EscrowOutcome(tx, kind, uid)
			if err != nil {
				return nil, err
			}
			v.Outcome = &o
		}
		return v, nil
	})
}

// handleVote reports the tally of subject under the base64 encoded demand.
func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	subject := registry.UID(r.PathValue("subject"))
	demand, err := decodeDemand(r.URL.Query().Get("demand"))
	if err != nil {
		WriteBadRequest(w, "demand must be base64 encoded")
		return
	}
	s.query(w, r, func(tx *substrate.Tx) (any, error) {
		if _, err := s.proto.Registry.Read(tx, subject); err != nil {
			return nil, err
		}
		return s.proto.Vote.Session(tx, subject, demand)
	})
}

func decodeDemand(q string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(q); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(q)
}

func (s *Server) handleSLO(w http.ResponseWriter, _ *http.Request) {
	out := make([]*observability.SLOStatus, 0)
	for _, op := range s.slo.Operations() {
		st, err := s.slo.Status(op)
		if err != nil {
			WriteInternal(w, err)
			return
		}
		out = append(out, st)
	}
	writeJSON(w, out)
}
