package agent

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/gravito-framework/hismon-go/pkg/metrics"
	"github.com/gravito-framework/hismon-go/pkg/types"
	"github.com/gravito-framework/hismon-go/pkg/webhook"
)

const maxAlertBody = 64 << 10

// Health is the /healthz response body
type Health struct {
	Status  string             `json:"status"`
	App     string             `json:"app"`
	Sampler bool               `json:"sampler_running"`
	Pending int                `json:"webhook_pending"`
	Dropped uint64             `json:"webhook_dropped"`
	Metrics map[string]float64 `json:"metrics"`
}

// Router returns the HTTP routes served by the agent
func (a *Agent) Router() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler(a.gatherer)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/alert", a.handleAlert).Methods(http.MethodPost)
	return r
}

func (a *Agent) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap, err := metrics.Snapshot(a.gatherer)
	if err != nil {
		a.logger.Error("Metrics snapshot failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "metrics unavailable"})
		return
	}

	h := Health{
		Status:  "ok",
		App:     a.config.App,
		Sampler: a.monitor.Running(),
		Metrics: snap,
	}
	if d := webhook.Default(); d != nil {
		h.Pending = d.Pending()
		h.Dropped = d.Dropped()
	}
	writeJSON(w, http.StatusOK, h)
}

func (a *Agent) handleAlert(w http.ResponseWriter, r *http.Request) {
	var msg types.AlertMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAlertBody)).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	a.send(msg.Text)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
