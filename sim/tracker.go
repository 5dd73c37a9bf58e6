package sim

import (
	"sort"

	"github.com/golang/geo/r2"

	"github.com/SiChiTong/gvio"
	"github.com/SiChiTong/gvio/camera"
)

// Tracker associates landmark observations across consecutive frames into feature
// tracks. A track completes when its landmark leaves the view or when it reaches the
// maximum length, in which case a new track of the same landmark starts on the next
// frame.
type Tracker struct {
	camera    camera.Model
	maxLength int

	nextID gvio.TrackID
	active map[int]*gvio.FeatureTrack // by landmark
}

// NewTracker returns a tracker whose tracks hold at most maxLength observations.
func NewTracker(cam camera.Model, maxLength int) *Tracker {
	return &Tracker{camera: cam, maxLength: maxLength, active: make(map[int]*gvio.FeatureTrack)}
}

// Active returns the number of tracks still being observed.
func (t *Tracker) Active() int {
	return len(t.active)
}

// Track adds the pixels observed in frame, pixels[i] being the observation of landmark
// ids[i], and returns the tracks that completed, ordered by track id.
func (t *Tracker) Track(frame gvio.FrameID, pixels []r2.Point, ids []int) []gvio.FeatureTrack {
	var done []gvio.FeatureTrack
	seen := make(map[int]bool, len(ids))
	for i, id := range ids {
		seen[id] = true
		obs := t.camera.PixelToImage(pixels[i])
		track, ok := t.active[id]
		if !ok || track.FrameEnd != frame-1 {
			if ok {
				done = append(done, *track)
			}
			track = &gvio.FeatureTrack{TrackID: t.nextID, FrameStart: frame, FrameEnd: frame - 1}
			t.nextID++
			t.active[id] = track
		}
		track.Observations = append(track.Observations, obs)
		track.FrameEnd = frame
		if track.Len() >= t.maxLength {
			done = append(done, *track)
			delete(t.active, id)
		}
	}
	for id, track := range t.active {
		if !seen[id] {
			done = append(done, *track)
			delete(t.active, id)
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i].TrackID < done[j].TrackID })
	return done
}

// Live returns the tracks still being observed.
func (t *Tracker) Live() []gvio.FeatureTrack {
	live := make([]gvio.FeatureTrack, 0, len(t.active))
	for _, track := range t.active {
		live = append(live, *track)
	}
	sort.Slice(live, func(i, j int) bool { return live[i].TrackID < live[j].TrackID })
	return live
}

// Flush completes every active track.
func (t *Tracker) Flush() []gvio.FeatureTrack {
	done := t.Live()
	t.active = make(map[int]*gvio.FeatureTrack)
	return done
}
