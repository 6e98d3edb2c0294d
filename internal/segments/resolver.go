package segments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"time"

	"tvskip.app/tvskip/internal/cache"
	"tvskip.app/tvskip/internal/domain"
	"tvskip.app/tvskip/internal/metrics"
)

const (
	// DefaultTTL is the cache lifetime of a SegmentSet whose source
	// segments are not all locked.
	DefaultTTL = 300 * time.Second

	// DefaultCacheSize bounds the number of memoized videos.
	DefaultCacheSize = 10

	// DefaultMinGapToMerge is the largest gap, in seconds, between two
	// segments that still makes them skip as one.
	DefaultMinGapToMerge = 1.0
)

// Whitelist answers whether a video belongs to a trusted source that
// should never be skipped. Implementations live outside the core (catalog
// API lookups); a nil Whitelist disables the fast path.
type Whitelist interface {
	Contains(ctx context.Context, videoID string) (bool, error)
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Client    *Client
	Whitelist Whitelist
	// MinGapToMerge in seconds; zero means DefaultMinGapToMerge.
	MinGapToMerge float64
	// ReportViews enables viewed-segment acknowledgments.
	ReportViews bool
	CacheTTL    time.Duration
	CacheSize   int
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Resolver turns a video id into its merged SegmentSet, memoized through
// a conditional-TTL cache shared by all device monitors.
type Resolver struct {
	client      *Client
	whitelist   Whitelist
	minGap      float64
	reportViews bool
	logger      *slog.Logger
	metrics     *metrics.Metrics
	cache       *cache.Cache[domain.SegmentSet]
}

// NewResolver builds a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.MinGapToMerge <= 0 {
		cfg.MinGapToMerge = DefaultMinGapToMerge
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	store, err := cache.New[domain.SegmentSet](cache.Options{
		TTL:      cfg.CacheTTL,
		Capacity: cfg.CacheSize,
		OnHit:    cfg.Metrics.IncCacheHits,
		OnMiss:   cfg.Metrics.IncCacheMisses,
	})
	if err != nil {
		return nil, err
	}

	return &Resolver{
		client:      cfg.Client,
		whitelist:   cfg.Whitelist,
		minGap:      cfg.MinGapToMerge,
		reportViews: cfg.ReportViews,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		cache:       store,
	}, nil
}

// Resolve returns the merged skip segments for videoID. Results are
// memoized; concurrent calls for the same uncached id perform one fetch.
func (r *Resolver) Resolve(ctx context.Context, videoID string) (domain.SegmentSet, error) {
	return r.cache.GetOrCompute(ctx, videoID, func(ctx context.Context) (domain.SegmentSet, bool, error) {
		set, err := r.resolve(ctx, videoID)
		if err != nil {
			return domain.SegmentSet{}, false, err
		}
		return set, set.CacheForever, nil
	})
}

// Prefetch warms the cache for an upcoming video. Failures are logged and
// dropped; the real resolution on playback will retry if nothing was
// cached.
func (r *Resolver) Prefetch(ctx context.Context, videoID string) {
	if videoID == "" {
		return
	}
	if _, err := r.Resolve(ctx, videoID); err != nil {
		r.logger.Debug("prefetch_failed", slog.String("video_id", videoID), slog.String("error", err.Error()))
	}
}

// Invalidate drops the cached result for videoID, forcing the next
// resolution to hit the service again.
func (r *Resolver) Invalidate(videoID string) {
	r.cache.Invalidate(videoID)
}

// MarkViewed acknowledges skipped segments to the service when usage
// reporting is enabled. Best-effort; never returns an error.
func (r *Resolver) MarkViewed(ctx context.Context, ids []string) {
	if !r.reportViews || len(ids) == 0 {
		return
	}
	r.client.MarkViewed(ctx, ids)
}

func (r *Resolver) resolve(ctx context.Context, videoID string) (domain.SegmentSet, error) {
	if r.whitelist != nil {
		trusted, err := r.whitelist.Contains(ctx, videoID)
		if err != nil {
			r.logger.Warn("whitelist_lookup_failed", slog.String("video_id", videoID), slog.String("error", err.Error()))
		} else if trusted {
			return domain.SegmentSet{CacheForever: true}, nil
		}
	}

	r.metrics.IncSegmentFetches()
	raw, err := r.client.SkipSegments(ctx, videoID)
	if err != nil {
		if errors.Is(err, ErrMalformedRecord) || errors.Is(err, context.Canceled) {
			return domain.SegmentSet{}, err
		}
		// Degrade to "no segments" and pin the empty result so a single
		// outage does not cause a retry storm. The empty set stays cached
		// until restart or Invalidate.
		r.metrics.IncSegmentErrors()
		attrs := []any{
			slog.String("video_id", videoID),
			slog.String("hash_prefix", HashPrefix(videoID)),
		}
		var serviceErr *ServiceError
		if errors.As(err, &serviceErr) {
			attrs = append(attrs,
				slog.Int("status", serviceErr.Status),
				slog.String("body", serviceErr.Body),
			)
		} else {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		r.logger.Error("segment_fetch_failed", attrs...)
		return domain.SegmentSet{CacheForever: true}, nil
	}

	merged, allLocked := Merge(raw, r.minGap)
	return domain.SegmentSet{Segments: merged, CacheForever: allLocked}, nil
}

// Merge collapses raw segments into a sorted, non-overlapping set. Two
// segments merge when they overlap or when the gap between them is below
// minGap seconds; merged identifier lists preserve start order. The second
// result is true only when every raw segment was locked (vacuously true
// for an empty input).
func Merge(raw []RawSegment, minGap float64) ([]domain.Segment, bool) {
	if len(raw) == 0 {
		return nil, true
	}

	sorted := make([]RawSegment, len(raw))
	copy(sorted, raw)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	allLocked := true
	merged := make([]domain.Segment, 0, len(sorted))
	current := domain.Segment{
		Start: sorted[0].Start,
		End:   sorted[0].End,
		IDs:   []string{sorted[0].UUID},
	}
	allLocked = allLocked && sorted[0].Locked

	for _, seg := range sorted[1:] {
		allLocked = allLocked && seg.Locked
		if seg.Start-current.End < minGap || seg.Start <= current.End {
			if seg.End > current.End {
				current.End = seg.End
			}
			current.IDs = append(current.IDs, seg.UUID)
			continue
		}
		merged = append(merged, current)
		current = domain.Segment{Start: seg.Start, End: seg.End, IDs: []string{seg.UUID}}
	}
	merged = append(merged, current)
	return merged, allLocked
}
