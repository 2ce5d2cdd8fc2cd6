package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/relaykvm/relaykvm-core/internal/infrastructure/mqtt"
	"github.com/relaykvm/relaykvm-core/internal/journal"
	"github.com/relaykvm/relaykvm-core/internal/streamer"
)

// streamerResponse is the response body for GET /streamer.
type streamerResponse struct {
	State streamer.State `json:"state"`
	Stats streamer.Stats `json:"stats"`
}

// handleGetStreamer returns the current streamer state and supervisor statistics.
func (s *Server) handleGetStreamer(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, streamerResponse{
		State: s.streamer.State(),
		Stats: s.streamer.Stats(),
	})
}

// handleStreamerStart powers the capture hardware and launches the supervisor.
// Returns 409 if the streamer is already running.
func (s *Server) handleStreamerStart(w http.ResponseWriter, r *http.Request) {
	if err := s.streamer.Start(r.Context()); err != nil {
		if errors.Is(err, streamer.ErrAlreadyRunning) {
			writeConflict(w, "streamer is already running")
			return
		}
		s.logger.Error("streamer start failed", "error", err)
		writeInternalError(w, "failed to start streamer")
		return
	}

	s.announceStateChange(r.Context(), journal.EventStreamerStarted)
	writeJSON(w, http.StatusOK, streamerResponse{
		State: s.streamer.State(),
		Stats: s.streamer.Stats(),
	})
}

// handleStreamerStop stops the supervisor and powers down the capture hardware.
// Returns 409 if the streamer is not running.
func (s *Server) handleStreamerStop(w http.ResponseWriter, r *http.Request) {
	if err := s.streamer.Stop(r.Context()); err != nil {
		if errors.Is(err, streamer.ErrNotRunning) {
			writeConflict(w, "streamer is not running")
			return
		}
		s.logger.Error("streamer stop failed", "error", err)
		writeInternalError(w, "failed to stop streamer")
		return
	}

	s.announceStateChange(r.Context(), journal.EventStreamerStopped)
	writeJSON(w, http.StatusOK, streamerResponse{
		State: s.streamer.State(),
		Stats: s.streamer.Stats(),
	})
}

// handleStreamerDevice resolves the configured USB bind to its current
// /dev/video* path. The path is re-resolved on every call because device
// nodes are not stable across reconnects.
func (s *Server) handleStreamerDevice(w http.ResponseWriter, r *http.Request) {
	if s.bind == "" {
		writeNotFound(w, "no capture device bind configured")
		return
	}
	if s.locator == nil {
		writeNotFound(w, "device discovery is not available")
		return
	}

	path, err := s.locator.LocateByBind(r.Context(), s.bind)
	if err != nil {
		s.logger.Error("device lookup failed", "bind", s.bind, "error", err)
		writeInternalError(w, "device lookup failed")
		return
	}

	resp := map[string]any{
		"bind":    s.bind,
		"path":    path,
		"present": path != "",
	}
	if path != "" {
		info, exploreErr := s.locator.ExploreDevice(r.Context(), path)
		if exploreErr != nil {
			s.logger.Warn("device discovery failed", "path", path, "error", exploreErr)
		} else {
			resp["driver"] = info.Driver
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// announceStateChange records an operator-initiated lifecycle event and
// publishes the new state to WebSocket subscribers and the MQTT bus.
// Failures are logged, never surfaced: the state change itself succeeded.
func (s *Server) announceStateChange(ctx context.Context, eventType string) {
	state := s.streamer.State()

	if s.journal != nil {
		event := &journal.Event{
			Type:   eventType,
			Source: "api",
		}
		if err := s.journal.Record(ctx, event); err != nil {
			s.logger.Warn("failed to record lifecycle event", "type", eventType, "error", err)
		}
	}

	if s.hub != nil {
		s.hub.Broadcast("streamer.state_changed", state)
	}

	if s.mqtt != nil && s.mqtt.IsConnected() {
		payload, err := json.Marshal(state)
		if err != nil {
			s.logger.Error("failed to marshal streamer state", "error", err)
			return
		}
		topics := mqtt.Topics{}
		if err := s.mqtt.PublishRetained(topics.StreamerState(), payload); err != nil {
			s.logger.Warn("failed to publish streamer state", "error", err)
		}
	}
}
