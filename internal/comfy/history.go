package comfy

// ExecutionState classifies a history entry.
type ExecutionState string

const (
	StateRunning ExecutionState = "running"
	StateSuccess ExecutionState = "success"
	StateError   ExecutionState = "error"
)

// OutputRef identifies one produced artifact in the engine's output area.
type OutputRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// History is the normalized view of one execution's history entry.
type History struct {
	State   ExecutionState
	Message string
	// Outputs maps node id to the artifacts that node produced.
	Outputs map[string][]OutputRef
}

// OutputsFor returns the artifacts of the designated output node when nodeID
// is set, or every artifact otherwise. Callers that declare a designated slot
// must never fall back to guessing among other nodes.
func (h *History) OutputsFor(nodeID string) []OutputRef {
	if nodeID != "" {
		return h.Outputs[nodeID]
	}
	var all []OutputRef
	for _, refs := range h.Outputs {
		all = append(all, refs...)
	}
	return all
}

type historyEntry struct {
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
		Messages  []any  `json:"messages"`
	} `json:"status"`
	Outputs map[string]nodeOutput `json:"outputs"`
}

type nodeOutput struct {
	Images []OutputRef `json:"images"`
	Gifs   []OutputRef `json:"gifs"`
	Videos []OutputRef `json:"videos"`
	Audio  []OutputRef `json:"audio"`
}

func (e historyEntry) toHistory() *History {
	h := &History{Outputs: map[string][]OutputRef{}}
	for node, out := range e.Outputs {
		refs := make([]OutputRef, 0, len(out.Images)+len(out.Gifs)+len(out.Videos)+len(out.Audio))
		refs = append(refs, out.Images...)
		refs = append(refs, out.Gifs...)
		refs = append(refs, out.Videos...)
		refs = append(refs, out.Audio...)
		if len(refs) > 0 {
			h.Outputs[node] = refs
		}
	}
	switch {
	case e.Status.StatusStr == "error":
		h.State = StateError
		h.Message = extractErrorMessage(e.Status.Messages)
		if h.Message == "" {
			h.Message = "execution failed"
		}
	case e.Status.Completed || len(h.Outputs) > 0:
		h.State = StateSuccess
	default:
		h.State = StateRunning
	}
	return h
}

// extractErrorMessage digs the human-readable detail out of the engine's
// message tuples, e.g. ["execution_error", {"exception_message": "..."}].
func extractErrorMessage(messages []any) string {
	for _, msg := range messages {
		tuple, ok := msg.([]any)
		if !ok || len(tuple) < 2 {
			continue
		}
		kind, _ := tuple[0].(string)
		if kind != "execution_error" {
			continue
		}
		if detail, ok := tuple[1].(map[string]any); ok {
			if text, ok := detail["exception_message"].(string); ok && text != "" {
				return text
			}
		}
	}
	return ""
}
