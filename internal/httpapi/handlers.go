package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"kenmesh.org/internal/credential"
	"kenmesh.org/internal/mesh"
	"kenmesh.org/internal/obs"
	"kenmesh.org/internal/prooflock"
	"kenmesh.org/internal/ratelimit"
	"kenmesh.org/internal/secevent"
	"kenmesh.org/internal/stream"
)

const serviceName = "kenmesh-api"

// Difficulty above this is rejected outright; even the attempt budget
// should not be spent on hopeless requests.
const maxRequestDifficulty = 6

// Default per-credential admission budget for protected endpoints.
const (
	defaultRequestLimit  = 100
	defaultRequestWindow = time.Hour
)

// ReadyProbe pings external dependencies (optional database).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Core bundles the trust-layer services the API fronts.
type Core struct {
	Credentials *credential.Service
	Limiter     *ratelimit.Limiter
	Miner       *prooflock.Miner
	Engine      *mesh.Engine
	Events      *secevent.Log
	Stream      *stream.Stream
}

// API is the HTTP layer over the trust and coordination core.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	core       Core

	requestLimit  int
	requestWindow time.Duration
}

func New(rp ReadyProbe, version string, core Core) *API {
	a := &API{
		mux:           http.NewServeMux(),
		readyProbe:    rp,
		version:       version,
		core:          core,
		requestLimit:  defaultRequestLimit,
		requestWindow: defaultRequestWindow,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	a.mux.HandleFunc("/v1/credentials", a.IssueCredential)
	a.mux.HandleFunc("/v1/status", a.Status)
	a.mux.HandleFunc("/v1/mesh/nodes", a.RegisterNode)
	a.mux.HandleFunc("/v1/mesh/nodes/", a.DeregisterNode)
	a.mux.HandleFunc("/v1/mesh/consensus", a.Consensus)
	a.mux.HandleFunc("/v1/proofs", a.GenerateProof)
	a.mux.HandleFunc("/v1/proofs/verify", a.VerifyProof)
	a.mux.HandleFunc("/v1/events/stream", a.EventStream)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = obs.Instrument(h)
	h = Logging(h)
	h = RateLimit(h, 20, 10)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	return h
}

// --- Public handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- Operator handlers ---

func (a *API) IssueCredential(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !a.requireOperator(w, r, ScopeCredentials) {
		return
	}

	var req struct {
		OwnerID      string   `json:"owner_id"`
		Capabilities []string `json:"capabilities"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, err := a.core.Credentials.Issue(r.Context(), req.OwnerID, req.Capabilities)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token": token,
	})
}

func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !a.requireOperator(w, r, ScopeMesh) {
		return
	}

	activeCreds, err := a.core.Credentials.ActiveCount(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "credential store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"system_status": "operational",
		"security": map[string]any{
			"credentials_active":       activeCreds,
			"rate_limited_identifiers": a.core.Limiter.TrackedIdentifiers(),
			"recent_events":            a.core.Events.Recent(10),
		},
		"mesh":      a.core.Engine.Snapshot(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) RegisterNode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !a.requireOperator(w, r, ScopeMesh) {
		return
	}

	var req struct {
		NodeID   string         `json:"node_id"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.NodeID = strings.TrimSpace(req.NodeID)
	if req.NodeID == "" {
		respondError(w, http.StatusBadRequest, "node_id is required")
		return
	}
	a.core.Engine.RegisterNode(req.NodeID, req.Metadata)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "registered",
		"node_id": req.NodeID,
	})
}

func (a *API) DeregisterNode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !a.requireOperator(w, r, ScopeMesh) {
		return
	}

	nodeID := strings.TrimPrefix(r.URL.Path, "/v1/mesh/nodes/")
	if nodeID == "" || strings.Contains(nodeID, "/") {
		respondError(w, http.StatusBadRequest, "invalid node id")
		return
	}
	if !a.core.Engine.DeregisterNode(nodeID) {
		respondError(w, http.StatusNotFound, "unknown node")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "deregistered",
		"node_id": nodeID,
	})
}

// --- Credential-protected handlers ---

func (a *API) Consensus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := a.requireCredential(w, r, credential.CapMeshConsensus); !ok {
		return
	}

	var proposal map[string]any
	if err := json.NewDecoder(r.Body).Decode(&proposal); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := a.core.Engine.Propose(r.Context(), proposal)
	if err != nil {
		if errors.Is(err, mesh.ErrNoActiveNodes) {
			respondError(w, http.StatusConflict, "no active nodes")
			return
		}
		respondError(w, http.StatusInternalServerError, "consensus failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) GenerateProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := a.requireCredential(w, r, credential.CapProofGenerate); !ok {
		return
	}

	var req struct {
		Payload    any `json:"payload"`
		Difficulty int `json:"difficulty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Difficulty < 1 || req.Difficulty > maxRequestDifficulty {
		respondError(w, http.StatusBadRequest, "difficulty out of range")
		return
	}
	proof, err := a.core.Miner.Generate(r.Context(), req.Payload, req.Difficulty)
	if err != nil {
		switch {
		case errors.Is(err, prooflock.ErrMiningTimeout):
			respondError(w, http.StatusUnprocessableEntity, "mining attempt budget exhausted")
		case errors.Is(err, prooflock.ErrMiningAborted):
			respondError(w, http.StatusRequestTimeout, "mining aborted")
		default:
			respondError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, proof)
}

func (a *API) VerifyProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := a.requireCredential(w, r, ""); !ok {
		return
	}

	var req struct {
		Payload any             `json:"payload"`
		Proof   prooflock.Proof `json:"proof"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid": prooflock.Verify(req.Payload, req.Proof),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, reason string) {
	writeJSON(w, code, map[string]any{"error": reason})
}
