package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/provance/ledger/internal/canonical"
	"github.com/provance/ledger/internal/ledger"
	"github.com/provance/ledger/internal/store"
)

// maxEntryBody bounds the accepted request body for POST /entries so a
// misbehaving client cannot exhaust memory.
const maxEntryBody = 4 << 20 // 4 MiB

// Server holds the dependencies needed by the REST handlers.
type Server struct {
	svc Service
}

// NewServer creates a new Server over the given ledger service.
func NewServer(svc Service) *Server {
	return &Server{svc: svc}
}

// addEntryRequest is the body of POST /api/v1/entries. The payload is kept
// raw until it is decoded with the order-preserving decoder: unmarshalling
// into map[string]any would reorder keys and change the signed content.
type addEntryRequest struct {
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

// handleAddEntry responds to POST /api/v1/entries.
//
// When authentication is enabled, the token must carry the ledger:append
// scope; read-only tokens get HTTP 403. Returns 201 with the sealed entry
// on success, 400 for malformed bodies or invalid input, 503 while shutting
// down, and 500 for writer failures.
func (s *Server) handleAddEntry(w http.ResponseWriter, r *http.Request) {
	if claims := ClaimsFromContext(r.Context()); claims != nil && !claims.HasScope(ScopeAppend) {
		writeError(w, http.StatusForbidden, "token lacks the "+ScopeAppend+" scope")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEntryBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}
	if len(body) > maxEntryBody {
		writeError(w, http.StatusRequestEntityTooLarge, "request body exceeds 4 MiB")
		return
	}

	var req addEntryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be JSON with eventType and payload")
		return
	}
	if req.EventType == "" {
		writeError(w, http.StatusBadRequest, "eventType must not be empty")
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, http.StatusBadRequest, "payload is required (use {} for an empty payload)")
		return
	}

	payload, err := canonical.Decode(req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "payload: "+err.Error())
		return
	}

	e, err := s.svc.AddEntry(r.Context(), req.EventType, payload)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ledger.ErrShuttingDown), errors.Is(err, ledger.ErrNotStarted):
			writeError(w, http.StatusServiceUnavailable, "ledger is not accepting entries")
		default:
			writeError(w, http.StatusInternalServerError, "failed to persist entry")
		}
		return
	}

	writeJSON(w, http.StatusCreated, e)
}

// handleGetHead responds to GET /api/v1/entries/head.
//
// Returns HTTP 200 with the chain head, or 404 when the ledger is empty.
func (s *Server) handleGetHead(w http.ResponseWriter, r *http.Request) {
	head, err := s.svc.Head(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read head")
		return
	}
	if head == nil {
		writeError(w, http.StatusNotFound, "ledger is empty")
		return
	}
	writeJSON(w, http.StatusOK, head)
}

// handleGetEntry responds to GET /api/v1/entries/{id}.
//
// Returns HTTP 200 with the entry, 400 for a malformed UUID, or 404 when no
// entry has that ID.
func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}

	e, err := s.svc.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read entry")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// verifyResponse is the body of GET /api/v1/verify.
type verifyResponse struct {
	Valid   bool   `json:"valid"`
	Reason  string `json:"reason"`
	Entries int    `json:"entries"`
}

// handleVerify responds to GET /api/v1/verify.
//
// Returns HTTP 200 when the chain is intact and 409 with the reason when an
// integrity violation is found: a failed verification is a meaningful
// result, not a server error.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Verify(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "verification could not run")
		return
	}

	status := http.StatusOK
	if !res.OK {
		status = http.StatusConflict
	}
	writeJSON(w, status, verifyResponse{Valid: res.OK, Reason: res.Reason, Entries: res.Entries})
}

// handleHealthz responds to GET /healthz.
//
// This endpoint does not require authentication and returns HTTP 200 with
// the ledger's operational snapshot so load balancers and orchestrators can
// verify liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats := s.svc.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"ledger": stats,
	})
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with the given HTTP status code.
// The response body is {"error": "<message>"}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
