package domain

// Segment is a time range of a video flagged as skippable content. IDs
// carries the opaque identifiers of every raw record merged into it, in
// merge order.
type Segment struct {
	Start float64  `json:"start"`
	End   float64  `json:"end"`
	IDs   []string `json:"ids"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Contains reports whether position falls inside [Start, End).
func (s Segment) Contains(position float64) bool {
	return position >= s.Start && position < s.End
}

// SegmentSet is the merged, time-sorted result of resolving one video.
// CacheForever is true when the set never needs revalidation: every
// contributing raw segment was locked by its source, the video belongs to
// a whitelisted channel, or the fetch failed and the empty result is
// pinned until restart.
type SegmentSet struct {
	Segments     []Segment `json:"segments"`
	CacheForever bool      `json:"cache_forever"`
}
