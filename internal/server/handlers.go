package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

// version is set by the CLI at startup via SetVersion.
var version = "dev"

// SetVersion records the binary version served by /version.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version})
}

// handleRun serves the full run snapshot.
func (s *Server) handleRun(w http.ResponseWriter, _ *http.Request) {
	snap := s.source.Status()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "NO_RUN", "no run in progress")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleRunJobs serves only the per-job states, optionally filtered by
// ?state=.
func (s *Server) handleRunJobs(w http.ResponseWriter, req *http.Request) {
	snap := s.source.Status()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "NO_RUN", "no run in progress")
		return
	}

	jobs := snap.Jobs
	if want := req.URL.Query().Get("state"); want != "" {
		filtered := jobs[:0:0]
		for _, j := range jobs {
			if string(j.State) == want {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	sort.SliceStable(jobs, func(a, b int) bool { return jobs[a].ID < jobs[b].ID })
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": snap.RunID,
		"jobs":   jobs,
	})
}
