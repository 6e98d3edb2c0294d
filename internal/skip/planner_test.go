package skip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvskip.app/tvskip/internal/domain"
)

func TestNextActionUpcomingSegment(t *testing.T) {
	segments := []domain.Segment{{Start: 30, End: 45, IDs: []string{"a"}}}

	action, ok := NextAction(segments, 10, 0.5, 2)
	require.True(t, ok)
	assert.InDelta(t, 17.5, action.Delay.Seconds(), 0.001)
	assert.Equal(t, 45.0, action.Target)
	assert.Equal(t, []string{"a"}, action.SegmentIDs)
}

func TestNextActionInsideSegmentNearStart(t *testing.T) {
	segments := []domain.Segment{{Start: 0, End: 5, IDs: []string{"a"}}}

	action, ok := NextAction(segments, 1.0, 0, 0)
	require.True(t, ok)
	// Effective start is the current position, so the skip fires now.
	assert.LessOrEqual(t, action.Delay, time.Duration(0))
	assert.Equal(t, 5.0, action.Target)
}

func TestNextActionInsideSegmentPastStartWindow(t *testing.T) {
	// Deep inside a segment (position >= 2) the inside rule no longer
	// applies; only a later segment is actionable.
	segments := []domain.Segment{
		{Start: 0, End: 30, IDs: []string{"a"}},
		{Start: 60, End: 70, IDs: []string{"b"}},
	}

	action, ok := NextAction(segments, 10, 0, 0)
	require.True(t, ok)
	assert.Equal(t, 70.0, action.Target)
	assert.InDelta(t, 50.0, action.Delay.Seconds(), 0.001)
}

func TestNextActionNothingAhead(t *testing.T) {
	segments := []domain.Segment{{Start: 0, End: 5, IDs: []string{"a"}}}

	_, ok := NextAction(segments, 100, 0, 0)
	assert.False(t, ok)

	_, ok = NextAction(nil, 0, 0, 0)
	assert.False(t, ok)
}

func TestNextActionPicksFirstActionable(t *testing.T) {
	segments := []domain.Segment{
		{Start: 20, End: 25, IDs: []string{"a"}},
		{Start: 40, End: 50, IDs: []string{"b"}},
	}

	action, ok := NextAction(segments, 10, 0, 0)
	require.True(t, ok)
	assert.Equal(t, 25.0, action.Target)
}

func TestNextActionNegativeDelayMeansFireNow(t *testing.T) {
	segments := []domain.Segment{{Start: 30, End: 45, IDs: []string{"a"}}}

	// Large device offset pushes the computed delay below zero.
	action, ok := NextAction(segments, 29, 0.5, 5)
	require.True(t, ok)
	assert.Negative(t, int64(action.Delay))
}
