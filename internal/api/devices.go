package api

import (
	"net/http"

	"github.com/relaykvm/relaykvm-core/internal/videodev"
)

// handleListDevices enumerates the video capture devices currently visible
// to the appliance, with their USB bind and driver where known.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if s.locator == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"devices": []videodev.DeviceInfo{},
			"total":   0,
		})
		return
	}

	devices, err := s.locator.Devices(r.Context())
	if err != nil {
		s.logger.Error("device enumeration failed", "error", err)
		writeInternalError(w, "device enumeration failed")
		return
	}
	if devices == nil {
		devices = []videodev.DeviceInfo{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"total":   len(devices),
	})
}
