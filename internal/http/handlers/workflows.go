package handlers

import (
	"net/http"
)

// Workflows lists the available workflow templates with their parameter
// surface, so clients can build submission forms without hardcoding tokens.
func (a *App) Workflows(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"success":   true,
		"workflows": a.Registry.List(),
	})
}
