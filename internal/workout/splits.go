package workout

import "backend-shaperun/internal/shared/geo"

// CalculateSplits returns one split per whole kilometre of path. The
// crossing time of each boundary is interpolated between the fixes around
// it. Gaps ending in a resumed fix add neither distance nor time, and a
// trailing partial kilometre produces nothing.
func CalculateSplits(path []PathPoint) []Split {
	var (
		splits          []Split
		dist, sec, last float64
		next            = 1
	)
	for i := 1; i < len(path); i++ {
		if path[i].Resumed {
			continue
		}
		d := geo.Distance(path[i-1].LatLng(), path[i].LatLng())
		dt := path[i].Timestamp.Sub(path[i-1].Timestamp).Seconds()
		for d > 0 && dist+d >= float64(next)*1000 {
			cross := sec + dt*(float64(next)*1000-dist)/d
			splits = append(splits, Split{KmIndex: next, PaceSecPerKm: cross - last, DurationSec: cross - last})
			last = cross
			next++
		}
		dist += d
		sec += dt
	}
	return splits
}

// capSplits scales split times down when their sum exceeds the session
// duration, which fixes stamped inside a pause can cause.
func capSplits(splits []Split, durationSec float64) []Split {
	total := 0.0
	for _, sp := range splits {
		total += sp.DurationSec
	}
	if total <= durationSec || total == 0 {
		return splits
	}
	k := durationSec / total
	for i := range splits {
		splits[i].DurationSec *= k
		splits[i].PaceSecPerKm *= k
	}
	return splits
}
