package metrics

import (
	"encoding/json"
	"net/http"
	"time"
)

var processStart = time.Now()

// LivenessHandler reports only that the process is running and taking
// requests; it never consults GroupManager. Readiness (raft leadership,
// storage reachability) is a separate, richer check served from
// pkg/api's own /readyz handler, which has direct access to the manager.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(processStart).String(),
		})
	}
}
