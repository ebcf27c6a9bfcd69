package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// EngineStatus probes the execution engine's queue depth. The engine URL can
// be overridden per request with ?engine_url=.
func (a *App) EngineStatus(w http.ResponseWriter, r *http.Request) {
	engineURL := a.engineURL(r.URL.Query().Get("engine_url"))
	status, err := a.Engine.Health(r.Context(), engineURL)
	if err != nil {
		a.error(w, http.StatusBadGateway, "engine_unreachable", "engine did not respond")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"online":  true,
		"running": status.Running,
		"pending": status.Pending,
	})
}
