package workout

import (
	"testing"
	"time"

	"backend-shaperun/internal/route"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tkrajina/gpxgo/gpx"
)

func TestEncodeGPXSplitsSegmentsOnResume(t *testing.T) {
	alt := 42.0
	path := pathOf(northLine(seoul, t0, 3, 100, 30))
	path[0].Alt = &alt
	resumed := pathOf(northLine(seoul, t0.Add(10*time.Minute), 2, 100, 30))
	resumed[0].Resumed = true
	path = append(path, resumed...)

	doc, err := EncodeGPX(Workout{Mode: route.ModeRunning, StartedAt: t0, Status: StatusCompleted, ActualPath: path})
	require.NoError(t, err)

	parsed, err := gpx.ParseBytes(doc)
	require.NoError(t, err)
	require.Len(t, parsed.Tracks, 1)
	require.Len(t, parsed.Tracks[0].Segments, 2)
	assert.Len(t, parsed.Tracks[0].Segments[0].Points, 4)
	assert.Len(t, parsed.Tracks[0].Segments[1].Points, 3)

	first := parsed.Tracks[0].Segments[0].Points[0]
	assert.InDelta(t, seoul.Lat, first.Latitude, 1e-6)
	assert.True(t, first.Elevation.NotNull())
	assert.InDelta(t, 42.0, first.Elevation.Value(), 1e-9)
	assert.True(t, first.Timestamp.Equal(t0))
}

func TestEncodeGPXEmptyPath(t *testing.T) {
	doc, err := EncodeGPX(Workout{Mode: route.ModeWalking, StartedAt: t0})
	require.NoError(t, err)
	parsed, err := gpx.ParseBytes(doc)
	require.NoError(t, err)
	require.Len(t, parsed.Tracks, 1)
	assert.Empty(t, parsed.Tracks[0].Segments)
}
