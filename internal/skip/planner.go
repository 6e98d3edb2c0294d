// Package skip decides when to jump over a segment and arms the deferred
// seek that does it. Plans are computed per playback snapshot; at most one
// armed skip exists per device and a newer snapshot always supersedes it.
package skip

import (
	"time"

	"tvskip.app/tvskip/internal/domain"
)

// nearStartWindow: when playback begins essentially at or inside a
// segment, the skip fires from the current position instead of waiting
// for the segment boundary that already passed.
const nearStartWindow = 2.0

// Action is one planned skip: wait Delay, seek to Target, then report
// SegmentIDs as consumed.
type Action struct {
	Delay      time.Duration
	Target     float64
	SegmentIDs []string
}

// NextAction picks the first actionable segment for the given snapshot:
// either the segment the position already sits inside (only when playback
// just started, position < 2s) or the next upcoming one. elapsed is the
// processing latency since the snapshot's position was sampled; offset is
// the device's configured command latency compensation. The returned
// delay may be negative, meaning "fire now". ok is false when no segment
// lies ahead of the position.
func NextAction(segments []domain.Segment, position, elapsed, offset float64) (Action, bool) {
	for _, seg := range segments {
		var effectiveStart float64
		switch {
		case position < nearStartWindow && seg.Contains(position):
			effectiveStart = position
		case seg.Start > position:
			effectiveStart = seg.Start
		default:
			continue
		}

		delaySeconds := effectiveStart - position - elapsed - offset
		return Action{
			Delay:      time.Duration(delaySeconds * float64(time.Second)),
			Target:     seg.End,
			SegmentIDs: seg.IDs,
		}, true
	}
	return Action{}, false
}
