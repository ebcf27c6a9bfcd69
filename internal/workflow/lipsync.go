package workflow

import (
	"fmt"

	"gengate/internal/domain"
)

// LipsyncParams builds the parameter bag for the multi-person lipsync template
// from an uploaded source image and the session's subject assignments. Every
// slot up to the template maximum is filled: active subjects carry their audio
// and mask geometry, inactive slots are explicitly disabled so the graph's
// unused branches stay inert.
func LipsyncParams(imageFilename string, width, height int, prompt string, trimToAudio bool, subjects []domain.Subject) (map[string]any, error) {
	if imageFilename == "" {
		return nil, fmt.Errorf("workflow: %w: source image", domain.ErrMissingInput)
	}
	if len(subjects) == 0 {
		return nil, fmt.Errorf("workflow: %w: at least one subject", domain.ErrMissingInput)
	}
	if len(subjects) > domain.MaxSubjects {
		return nil, fmt.Errorf("workflow: %d subjects requested: %w", len(subjects), domain.ErrTooManySubjects)
	}
	params := map[string]any{
		"IMAGE_FILENAME": imageFilename,
		"WIDTH":          width,
		"HEIGHT":         height,
		"CUSTOM_PROMPT":  prompt,
		"TRIM_TO_AUDIO":  trimToAudio,
	}
	for i := 1; i <= domain.MaxSubjects; i++ {
		if i <= len(subjects) {
			s := subjects[i-1]
			if s.Track.Filename == "" {
				return nil, fmt.Errorf("workflow: %w: audio for subject %d", domain.ErrMissingInput, i)
			}
			params[fmt.Sprintf("SUBJECT_%d_ENABLED", i)] = true
			params[fmt.Sprintf("AUDIO_FILENAME_%d", i)] = s.Track.Filename
			params[fmt.Sprintf("AUDIO_START_%d", i)] = s.Track.Start.Seconds()
			params[fmt.Sprintf("AUDIO_LENGTH_%d", i)] = s.Track.Length.Seconds()
			params[fmt.Sprintf("MASK_X_%d", i)] = s.Mask.X
			params[fmt.Sprintf("MASK_Y_%d", i)] = s.Mask.Y
			params[fmt.Sprintf("MASK_W_%d", i)] = s.Mask.W
			params[fmt.Sprintf("MASK_H_%d", i)] = s.Mask.H
		} else {
			params[fmt.Sprintf("SUBJECT_%d_ENABLED", i)] = false
			params[fmt.Sprintf("AUDIO_FILENAME_%d", i)] = ""
			params[fmt.Sprintf("AUDIO_START_%d", i)] = 0.0
			params[fmt.Sprintf("AUDIO_LENGTH_%d", i)] = 0.0
			params[fmt.Sprintf("MASK_X_%d", i)] = 0.0
			params[fmt.Sprintf("MASK_Y_%d", i)] = 0.0
			params[fmt.Sprintf("MASK_W_%d", i)] = 0.0
			params[fmt.Sprintf("MASK_H_%d", i)] = 0.0
		}
	}
	return params, nil
}
