package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"gengate/internal/feed"
)

// FeedPage returns the merged result feed. Query parameters: limit, offset,
// workflows (comma separated allow-list), completed_only.
func (a *App) FeedPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	var workflows []string
	if raw := q.Get("workflows"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				workflows = append(workflows, name)
			}
		}
	}
	completedOnly := q.Get("completed_only") != "false"

	page, err := a.Feed.Fetch(r.Context(), feed.Query{
		Limit:         limit,
		Offset:        offset,
		WorkflowNames: workflows,
		CompletedOnly: completedOnly,
	})
	if err != nil {
		if errors.Is(err, feed.ErrAllSourcesFailed) {
			a.error(w, http.StatusBadGateway, "feed_unavailable", "job store did not respond; retry shortly")
			return
		}
		a.Logger.Error().Err(err).Msg("handlers: feed fetch failed")
		a.error(w, http.StatusInternalServerError, "internal", "feed fetch failed")
		return
	}

	items := make([]map[string]any, 0, len(page.Items))
	for _, it := range page.Items {
		items = append(items, map[string]any{
			"record_id":     it.RecordID,
			"execution_id":  it.ExecutionID,
			"kind":          it.Kind,
			"status":        it.Status,
			"workflow_name": it.WorkflowName,
			"url":           it.URL,
			"width":         it.Width,
			"height":        it.Height,
			"created_at":    it.CreatedAt,
			"duration_ms":   it.Duration.Milliseconds(),
		})
	}
	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"items":   items,
		"partial": page.Partial,
	})
}
