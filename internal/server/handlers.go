package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/dhcp"
	"github.com/muurk/camstage/internal/logging"
	"github.com/muurk/camstage/internal/provision"
)

type leasesResponse struct {
	Stats  dhcp.Stats   `json:"stats"`
	Leases []dhcp.Lease `json:"leases"`
}

type summaryResponse struct {
	Finished int `json:"finished"`
	Done     int `json:"done"`
	Failed   int `json:"failed"`
	Clients  int `json:"event_clients"`
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleLeases(w http.ResponseWriter, r *http.Request) {
	if s.leases == nil {
		writeError(w, http.StatusNotFound, "responder is not running")
		return
	}
	writeJSON(w, http.StatusOK, leasesResponse{
		Stats:  s.leases.Stats(),
		Leases: s.leases.Snapshot(),
	})
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	reports := s.reports.Reports()
	if reports == nil {
		reports = []*provision.DeviceReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	hwid, err := device.NormalizeHardwareID(chi.URLParam(r, "hwid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, rep := range s.reports.Reports() {
		if rep.Target.HardwareID == hwid {
			writeJSON(w, http.StatusOK, rep)
			return
		}
	}
	writeError(w, http.StatusNotFound, "no report for "+hwid)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	done, failed := s.reports.Counts()
	writeJSON(w, http.StatusOK, summaryResponse{
		Finished: done + failed,
		Done:     done,
		Failed:   failed,
		Clients:  s.hub.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Failed to write status response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
