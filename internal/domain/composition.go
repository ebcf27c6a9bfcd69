package domain

import (
	"fmt"
	"time"
)

// MaxSubjects is the largest supported subject count for multi-person
// lipsync workflows. Requests above it fail validation before any network
// call is made.
const MaxSubjects = 4

// Mask is a named region of interest on the source image. Masks live only in
// the editing session; they are never persisted, only flattened into a
// submission payload.
type Mask struct {
	ID    string
	Label string
	X     float64
	Y     float64
	W     float64
	H     float64
}

// Track is a named timed media clip assigned to at most one mask.
type Track struct {
	ID       string
	Label    string
	Filename string
	Start    time.Duration
	Length   time.Duration
	MaskID   string
}

// Composition groups the masks and tracks of a multi-subject editing session.
type Composition struct {
	Masks  []Mask
	Tracks []Track
}

// AssignTrack binds a track to a mask, enforcing the at-most-one-track-per-mask
// rule.
func (c *Composition) AssignTrack(trackID, maskID string) error {
	var target *Track
	for i := range c.Tracks {
		if c.Tracks[i].ID == trackID {
			target = &c.Tracks[i]
			continue
		}
		if c.Tracks[i].MaskID == maskID {
			return fmt.Errorf("mask %s already has track %s assigned", maskID, c.Tracks[i].ID)
		}
	}
	if target == nil {
		return fmt.Errorf("track %s not found", trackID)
	}
	found := false
	for _, m := range c.Masks {
		if m.ID == maskID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("mask %s not found", maskID)
	}
	target.MaskID = maskID
	return nil
}

// Subjects returns the masks that have a track assigned, in mask order.
// Each pair becomes one activated subject branch in the workflow template.
func (c *Composition) Subjects() []Subject {
	byMask := make(map[string]Track, len(c.Tracks))
	for _, t := range c.Tracks {
		if t.MaskID != "" {
			byMask[t.MaskID] = t
		}
	}
	var subjects []Subject
	for _, m := range c.Masks {
		t, ok := byMask[m.ID]
		if !ok {
			continue
		}
		subjects = append(subjects, Subject{Mask: m, Track: t})
	}
	return subjects
}

// Subject is a mask/track pair flattened for submission.
type Subject struct {
	Mask  Mask
	Track Track
}
