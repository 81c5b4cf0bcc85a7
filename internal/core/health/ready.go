package health

import (
	"encoding/json"
	"net/http"

	"github.com/mohammed-shakir/farm-segmentation/internal/oracle"
)

// ReadinessReporter is satisfied by *oracle.Registry.
type ReadinessReporter interface {
	States() []oracle.State
	Status(checkpoint string) (oracle.State, bool)
}

// Readiness reports whether the configured checkpoint can serve. A checkpoint
// that has not been requested yet is "idle": it loads on first use, so the
// service still accepts traffic.
func Readiness(rr ReadinessReporter, checkpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status      string         `json:"status"`
			Checkpoint  string         `json:"checkpoint"`
			Checkpoints []oracle.State `json:"checkpoints,omitempty"`
		}
		out := resp{Status: "idle", Checkpoint: checkpoint, Checkpoints: rr.States()}
		code := http.StatusOK
		if st, ok := rr.Status(checkpoint); ok {
			switch st.Status {
			case oracle.StatusReady:
				out.Status = "ready"
			case oracle.StatusLoading:
				out.Status = "loading"
				code = http.StatusServiceUnavailable
			default:
				out.Status = "not_ready"
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(out)
	}
}
