package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/plantctl/internal/protocol"
)

const (
	maxCommandBytes  = 64 << 10
	defaultTickLimit = 100
	maxTickLimit     = 10000
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:          "ok",
		State:           s.loop.State().String(),
		RunID:           s.loop.RunID(),
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		QueuedSnapshots: s.mirror.Outbound().Len(),
	})
}

// handleRegistry handles GET /registry: channel metadata, the strategy
// catalog and loop counters.
func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	snap := s.loop.Peek()
	respondJSON(w, http.StatusOK, RegistryResponse{
		RunID:     s.loop.RunID(),
		Digest:    s.config.Digest,
		PeriodMS:  s.loop.Period().Milliseconds(),
		State:     s.loop.State().String(),
		Sensors:   s.loop.Sensors(),
		Actuators: s.loop.Actuators(),
		Catalog:   snap.Catalog,
		Active:    snap.ActiveLabel,
		Stats:     s.loop.Stats(),
	})
}

// handleSnapshot handles GET /snapshot: the current state without touching
// the mirror queue.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	env, err := protocol.SnapshotEnvelope(s.loop.Peek())
	if err != nil {
		s.logger.Error("failed to encode snapshot", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to encode snapshot")
		return
	}
	respondJSON(w, http.StatusOK, env)
}

// handleCommand handles POST /commands. The envelope is queued for the
// mirror sweep; payload validation happens there.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBytes))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "command body too large")
		return
	}
	env, err := protocol.Unmarshal(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if env.Type == protocol.TypeFullState {
		s.writeError(w, http.StatusBadRequest, "full_state is a snapshot, not a command")
		return
	}
	if len(env.Payload) > 0 && !json.Valid(env.Payload) {
		s.writeError(w, http.StatusBadRequest, "payload is not valid JSON")
		return
	}

	s.mirror.PushCommand(env)
	s.logger.Info("command queued", "type", env.Type)
	respondJSON(w, http.StatusAccepted, CommandResponse{Status: "queued", Type: env.Type})
}

// handleTicks handles GET /ticks?limit=N.
func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	if s.ticks == nil {
		s.writeError(w, http.StatusNotFound, "tick trace is disabled")
		return
	}

	limit := defaultTickLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTickLimit)
	}

	entries, err := s.ticks.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read tick trace", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read tick trace")
		return
	}
	respondJSON(w, http.StatusOK, TicksResponse{Ticks: entries})
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
