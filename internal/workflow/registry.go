package workflow

import (
	"embed"
	"encoding/json"
	"fmt"
	"sort"

	"gengate/internal/domain"
)

//go:embed templates/*.json
var templateFS embed.FS

type templateSpec struct {
	file         string
	description  string
	outputNode   string
	maxSubjects  int
	placeholders []Placeholder
}

// builtinSpecs declares the shipped workflow templates and their placeholder
// sets. A template's graph may reference only the tokens declared here.
var builtinSpecs = map[string]templateSpec{
	"lipsync_multitalk": {
		file:        "templates/lipsync_multitalk.json",
		description: "Multi-person lipsync video from one image and up to four audio tracks",
		outputNode:  "131",
		maxSubjects: domain.MaxSubjects,
		placeholders: append([]Placeholder{
			{Token: "IMAGE_FILENAME", Required: true},
			{Token: "WIDTH", Required: true},
			{Token: "HEIGHT", Required: true},
			{Token: "CUSTOM_PROMPT", Required: true},
			{Token: "TRIM_TO_AUDIO", Required: true},
		}, subjectPlaceholders(domain.MaxSubjects)...),
	},
	"image_generate": {
		file:        "templates/image_generate.json",
		description: "Text-to-image generation",
		outputNode:  "9",
		placeholders: []Placeholder{
			{Token: "PROMPT", Required: true},
			{Token: "NEGATIVE_PROMPT", Default: "blurry, low quality, watermark"},
			{Token: "WIDTH", Required: true},
			{Token: "HEIGHT", Required: true},
			{Token: "SEED", Default: 0},
			{Token: "STEPS", Default: 25},
			{Token: "BATCH_SIZE", Default: 1},
		},
	},
	"style_transfer": {
		file:        "templates/style_transfer.json",
		description: "Restyle an uploaded image with a style prompt",
		outputNode:  "27",
		placeholders: []Placeholder{
			{Token: "IMAGE_FILENAME", Required: true},
			{Token: "STYLE_PROMPT", Required: true},
			{Token: "STRENGTH", Default: 0.65},
			{Token: "SEED", Default: 0},
		},
	},
}

func subjectPlaceholders(max int) []Placeholder {
	var out []Placeholder
	for i := 1; i <= max; i++ {
		out = append(out,
			Placeholder{Token: fmt.Sprintf("SUBJECT_%d_ENABLED", i), Required: true},
			Placeholder{Token: fmt.Sprintf("AUDIO_FILENAME_%d", i), Required: true},
			Placeholder{Token: fmt.Sprintf("AUDIO_START_%d", i), Required: true},
			Placeholder{Token: fmt.Sprintf("AUDIO_LENGTH_%d", i), Required: true},
			Placeholder{Token: fmt.Sprintf("MASK_X_%d", i), Required: true},
			Placeholder{Token: fmt.Sprintf("MASK_Y_%d", i), Required: true},
			Placeholder{Token: fmt.Sprintf("MASK_W_%d", i), Required: true},
			Placeholder{Token: fmt.Sprintf("MASK_H_%d", i), Required: true},
		)
	}
	return out
}

// Registry holds the loaded workflow templates by name.
type Registry struct {
	templates map[string]*Template
}

// NewRegistry loads and validates every built-in template.
func NewRegistry() (*Registry, error) {
	r := &Registry{templates: make(map[string]*Template, len(builtinSpecs))}
	for name, spec := range builtinSpecs {
		raw, err := templateFS.ReadFile(spec.file)
		if err != nil {
			return nil, fmt.Errorf("workflow: read template %q: %w", name, err)
		}
		var graph map[string]any
		if err := json.Unmarshal(raw, &graph); err != nil {
			return nil, fmt.Errorf("workflow: decode template %q: %w", name, err)
		}
		tpl := &Template{
			Name:         name,
			Description:  spec.description,
			OutputNode:   spec.outputNode,
			MaxSubjects:  spec.maxSubjects,
			Placeholders: spec.placeholders,
			graph:        graph,
		}
		if err := validateDeclaredTokens(tpl); err != nil {
			return nil, err
		}
		r.templates[name] = tpl
	}
	return r, nil
}

// validateDeclaredTokens checks at load time that the graph's tokens and the
// declared placeholder set agree in both directions.
func validateDeclaredTokens(tpl *Template) error {
	declared := make(map[string]bool, len(tpl.Placeholders))
	for _, p := range tpl.Placeholders {
		declared[p.Token] = true
	}
	found := collectTokens(tpl.graph)
	foundSet := make(map[string]bool, len(found))
	for _, tok := range found {
		foundSet[tok] = true
		if !declared[tok] {
			return fmt.Errorf("workflow: template %q uses undeclared token %s", tpl.Name, tok)
		}
	}
	for tok := range declared {
		if !foundSet[tok] {
			return fmt.Errorf("workflow: template %q declares unused token %s", tpl.Name, tok)
		}
	}
	return nil
}

// Get returns the named template.
func (r *Registry) Get(name string) (*Template, error) {
	tpl, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("workflow: template %q: %w", name, domain.ErrNotFound)
	}
	return tpl, nil
}

// TemplateInfo is the listable summary of a template, including its
// parameter surface so clients can build submission forms.
type TemplateInfo struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	MaxSubjects  int               `json:"max_subjects,omitempty"`
	Placeholders []PlaceholderInfo `json:"placeholders"`
}

// PlaceholderInfo describes one template parameter.
type PlaceholderInfo struct {
	Token    string `json:"token"`
	Required bool   `json:"required"`
}

// List returns template summaries sorted by name.
func (r *Registry) List() []TemplateInfo {
	out := make([]TemplateInfo, 0, len(r.templates))
	for _, tpl := range r.templates {
		info := TemplateInfo{Name: tpl.Name, Description: tpl.Description, MaxSubjects: tpl.MaxSubjects}
		for _, ph := range tpl.Placeholders {
			info.Placeholders = append(info.Placeholders, PlaceholderInfo{Token: ph.Token, Required: ph.Required})
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
