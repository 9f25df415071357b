package handler

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/jonathanvineet/DAIO/internal/logger"
	"github.com/jonathanvineet/DAIO/internal/pipeline"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Pipeline is the part of the pipeline the HTTP surface controls.
type Pipeline interface {
	Stats() pipeline.Stats
	State() pipeline.State
	Stop()
}

// StatusHandler reports the pipeline counters as JSON.
func StatusHandler(p Pipeline, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, p.Stats(), logger)
	}
}

// StopHandler handles POST /api/stop by asking the pipeline to stop.
func StopHandler(p Pipeline, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		logger.Warning("Remote stop requested from %s", r.RemoteAddr)
		p.Stop()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping", "state": p.State().String()}, logger)
	}
}

// HealthHandler answers 200 while the pipeline is running and 503 otherwise.
func HealthHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := p.State()
		code := http.StatusOK
		if state != pipeline.StateRunning {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(code)
		w.Write([]byte(state.String()))
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}
