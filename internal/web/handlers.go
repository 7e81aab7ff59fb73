package web

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openuav/follow-gcs/internal/auth"
	"github.com/openuav/follow-gcs/pkg/location"
)

// Status is the mission state snapshot served by the API.
type Status struct {
	FlightMode     string    `json:"flight_mode"`
	Armed          bool      `json:"armed"`
	InAir          bool      `json:"in_air"`
	LatitudeDeg    float64   `json:"latitude_deg"`
	LongitudeDeg   float64   `json:"longitude_deg"`
	RelativeAltM   float64   `json:"relative_alt_m"`
	TargetLat      float64   `json:"target_latitude_deg"`
	TargetLon      float64   `json:"target_longitude_deg"`
	FixesForwarded uint64    `json:"fixes_forwarded"`
	FixesSkipped   uint64    `json:"fixes_skipped"`
	FixesThrottled uint64    `json:"fixes_throttled"`
	LastForwarded  time.Time `json:"last_forwarded,omitempty"`
	Time           time.Time `json:"time"`
}

func (s *Server) currentStatus() Status {
	pos := s.telemetry.Position()
	stats := s.stats()

	return Status{
		FlightMode:     s.telemetry.FlightMode().String(),
		Armed:          s.telemetry.Armed(),
		InAir:          s.telemetry.InAir(),
		LatitudeDeg:    pos.LatitudeDeg,
		LongitudeDeg:   pos.LongitudeDeg,
		RelativeAltM:   pos.RelativeAltitudeM,
		TargetLat:      stats.LastFix.LatitudeDeg,
		TargetLon:      stats.LastFix.LongitudeDeg,
		FixesForwarded: stats.Forwarded,
		FixesSkipped:   stats.Skipped,
		FixesThrottled: stats.Throttled,
		LastForwarded:  stats.LastForwarded,
		Time:           time.Now().UTC(),
	}
}

// handleHealth is the unauthenticated liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLogin authenticates the operator and issues a token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Single operator account. Viewers get tokens through the same
	// credentials until a real user store is warranted.
	role := ""
	switch req.Username {
	case "operator":
		role = auth.RoleOperator
	case "viewer":
		role = auth.RoleViewer
	default:
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if s.cfg.OperatorPasswordHash == "" {
		http.Error(w, "Login disabled: no operator password configured", http.StatusForbidden)
		return
	}
	if err := s.authSvc.ComparePassword(s.cfg.OperatorPasswordHash, req.Password); err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := s.authSvc.GenerateToken(req.Username, role)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"token":   token,
		"user": map[string]interface{}{
			"username": req.Username,
			"role":     role,
		},
	})
}

// handleStatus returns the current mission state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.currentStatus())
}

// handleInjectTarget accepts an operator-supplied target fix and feeds it
// into the mission's location source.
func (s *Server) handleInjectTarget(w http.ResponseWriter, r *http.Request) {
	if s.push == nil {
		http.Error(w, "Mission is using an external location source", http.StatusConflict)
		return
	}

	body, err := readBody(r)
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	fix, err := location.DecodeFix(body)
	if err != nil {
		http.Error(w, "Invalid target fix", http.StatusBadRequest)
		return
	}

	s.push.Push(fix)
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Token auth already gates the route; the API binds to loopback by
	// default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket streams status snapshots once per second.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debugf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Drain client frames so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(s.currentStatus()); err != nil {
				return
			}
		}
	}
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, 1<<20))
}
