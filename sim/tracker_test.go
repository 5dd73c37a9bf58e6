package sim

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SiChiTong/gvio"
	"github.com/SiChiTong/gvio/camera"
)

func TestTracker(t *testing.T) {
	cam, err := camera.NewPinhole(100, 100, 10, 10, 50, 50)
	require.NoError(t, err)
	tr := NewTracker(cam, 3)
	px := func(x float64) r2.Point { return r2.Point{X: 50 + 10*x, Y: 50} }

	done := tr.Track(0, []r2.Point{px(1), px(2)}, []int{1, 2})
	assert.Empty(t, done)
	assert.Equal(t, 2, tr.Active())

	// Landmark 2 is lost.
	done = tr.Track(1, []r2.Point{px(1.1), px(3)}, []int{1, 3})
	require.Len(t, done, 1)
	assert.Equal(t, gvio.TrackID(1), done[0].TrackID)
	assert.Equal(t, gvio.FrameID(0), done[0].FrameStart)
	assert.Equal(t, gvio.FrameID(0), done[0].FrameEnd)
	assert.Equal(t, []r2.Point{{X: 2, Y: 0}}, done[0].Observations)

	// Landmark 1 reaches the maximum length and landmark 3 is lost.
	done = tr.Track(2, []r2.Point{px(1.2)}, []int{1})
	require.Len(t, done, 2)
	long, lost := done[0], done[1]
	assert.Equal(t, gvio.TrackID(0), long.TrackID)
	assert.Equal(t, 3, long.Len())
	assert.Equal(t, []gvio.FrameID{0, 1, 2}, long.FrameIDs())
	assert.InDelta(t, 1.2, long.Observations[2].X, 1e-12)
	assert.Equal(t, gvio.TrackID(2), lost.TrackID)
	assert.Equal(t, gvio.FrameID(1), lost.FrameStart)
	for _, track := range done {
		assert.NoError(t, track.Validate())
	}
	assert.Equal(t, 0, tr.Active())

	// A capped landmark starts a new track.
	done = tr.Track(3, []r2.Point{px(1.3)}, []int{1})
	assert.Empty(t, done)
	live := tr.Live()
	require.Len(t, live, 1)
	assert.Equal(t, gvio.TrackID(3), live[0].TrackID)
	assert.Equal(t, gvio.FrameID(3), live[0].FrameStart)

	flushed := tr.Flush()
	assert.Equal(t, live, flushed)
	assert.Equal(t, 0, tr.Active())
}
