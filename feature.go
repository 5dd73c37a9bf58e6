package gvio

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// TrackID identifies a feature track.
type TrackID int64

// FeatureTrack is a feature observed over consecutive frames. Observations are
// normalized image coordinates, one per frame from FrameStart to FrameEnd.
type FeatureTrack struct {
	TrackID      TrackID
	FrameStart   FrameID
	FrameEnd     FrameID
	Observations []r2.Point
}

// NewFeatureTrack returns a track whose last observation was made in frameEnd.
func NewFeatureTrack(id TrackID, frameEnd FrameID, observations ...r2.Point) FeatureTrack {
	return FeatureTrack{
		TrackID:      id,
		FrameStart:   frameEnd - FrameID(len(observations)) + 1,
		FrameEnd:     frameEnd,
		Observations: observations,
	}
}

// Len returns the number of observations.
func (t FeatureTrack) Len() int {
	return len(t.Observations)
}

// FrameIDs returns the frame of each observation.
func (t FeatureTrack) FrameIDs() []FrameID {
	ids := make([]FrameID, 0, t.Len())
	for id := t.FrameStart; id <= t.FrameEnd; id++ {
		ids = append(ids, id)
	}
	return ids
}

// Validate checks the observation count matches the frame span.
func (t FeatureTrack) Validate() error {
	if span := int(t.FrameEnd-t.FrameStart) + 1; span != t.Len() {
		return errors.Errorf("track %d spans %d frames but has %d observations", t.TrackID, span, t.Len())
	}
	return nil
}
