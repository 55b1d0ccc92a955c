package trace

// Summary aggregates statistics from an event stream.
type Summary struct {
	TotalRecords  int
	ByKind        map[Kind]int
	TripsStarted  int
	TripsFinished int
	TripsFailed   int
	TripsStalled  int
	MeanTripTicks float64 // over finished trips
	MaxTripTicks  int64
	LastTime      int64
}

// Summarize computes aggregate statistics from records.
// Safe for nil or empty input (returns zero-value fields).
func Summarize(records []Record) *Summary {
	summary := &Summary{ByKind: make(map[Kind]int)}
	started := make(map[int]int64)
	var total int64
	for _, r := range records {
		summary.TotalRecords++
		summary.ByKind[r.Kind]++
		if r.Time > summary.LastTime {
			summary.LastTime = r.Time
		}
		switch r.Kind {
		case TripStarted:
			summary.TripsStarted++
			started[r.Trip] = r.Time
		case TripFinished:
			summary.TripsFinished++
			if t0, ok := started[r.Trip]; ok {
				d := r.Time - t0
				total += d
				if d > summary.MaxTripTicks {
					summary.MaxTripTicks = d
				}
			}
		case TripFailed:
			summary.TripsFailed++
		case TripStalled:
			summary.TripsStalled++
		}
	}
	if summary.TripsFinished > 0 {
		summary.MeanTripTicks = float64(total) / float64(summary.TripsFinished)
	}
	return summary
}
