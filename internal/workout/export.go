package workout

import (
	"context"

	"backend-shaperun/internal/apperr"

	"github.com/tkrajina/gpxgo/gpx"
)

const gpxCreator = "shaperun"

// GPX renders a completed workout as a GPX 1.1 track.
func (s *Service) GPX(ctx context.Context, userID, id string) ([]byte, error) {
	w, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if w.Status != StatusCompleted {
		return nil, apperr.New(apperr.SessionStateConflict, "only completed workouts can be exported")
	}
	return EncodeGPX(w)
}

// EncodeGPX writes the actual path as one track, starting a new segment at
// every resumed fix.
func EncodeGPX(w Workout) ([]byte, error) {
	track := gpx.GPXTrack{Name: string(w.Mode) + " " + w.StartedAt.Format("2006-01-02 15:04")}
	var seg gpx.GPXTrackSegment
	for _, p := range w.ActualPath {
		if p.Resumed && len(seg.Points) > 0 {
			track.Segments = append(track.Segments, seg)
			seg = gpx.GPXTrackSegment{}
		}
		pt := gpx.GPXPoint{
			Point:     gpx.Point{Latitude: p.Lat, Longitude: p.Lng},
			Timestamp: p.Timestamp,
		}
		if p.Alt != nil {
			pt.Elevation.SetValue(*p.Alt)
		}
		seg.Points = append(seg.Points, pt)
	}
	if len(seg.Points) > 0 {
		track.Segments = append(track.Segments, seg)
	}

	doc := gpx.GPX{Creator: gpxCreator, Tracks: []gpx.GPXTrack{track}}
	return doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
}
