// Package segments resolves crowd-sourced skip segments for videos:
// fetching raw records from the segment-metadata service, merging them into
// a canonical SegmentSet, and memoizing results through a conditional-TTL
// cache.
package segments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const (
	// DefaultAPIBase is the public segment-metadata service endpoint.
	DefaultAPIBase = "https://sponsor.ajay.app/api/"

	actionType  = "skip"
	serviceName = "youtube"

	requestTimeout = 10 * time.Second
)

// ErrMalformedRecord signals a contract violation in the service payload:
// a segment record missing its time pair or identifier. Resolution aborts
// and nothing is cached.
var ErrMalformedRecord = errors.New("malformed segment record")

// ServiceError is a non-success response from the segment service. The
// resolver degrades it to "no segments found" rather than propagating.
type ServiceError struct {
	Status int
	Body   string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("segment service returned %d: %s", e.Status, e.Body)
}

// RawSegment is one unmerged record from the service.
type RawSegment struct {
	Start  float64
	End    float64
	UUID   string
	Locked bool
}

// ClientConfig configures a segment service Client.
type ClientConfig struct {
	APIBase    string
	Categories []string
	UserAgent  string
	// RequestsPerSecond bounds outbound calls to the service; zero means
	// the default of 5 with a small burst.
	RequestsPerSecond float64
	Logger            *slog.Logger
}

// Client talks to the segment-metadata service. Requests are retried on
// transient transport failures and rate limited across all devices.
type Client struct {
	base       string
	categories []string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient builds a Client with retrying transport.
func NewClient(cfg ClientConfig) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = requestTimeout
	rc.Logger = nil

	return &Client{
		base:       cfg.APIBase,
		categories: cfg.Categories,
		userAgent:  cfg.UserAgent,
		httpClient: rc.StandardClient(),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 3),
		logger:     cfg.Logger,
	}
}

type apiSegment struct {
	Segment []float64 `json:"segment"`
	UUID    string    `json:"UUID"`
	Locked  int       `json:"locked"`
}

type apiRecord struct {
	VideoID  string       `json:"videoID"`
	Segments []apiSegment `json:"segments"`
}

// SkipSegments fetches the raw skip segments for videoID. The lookup is
// keyed by a 4-hex-character hash prefix of the id, so the response may
// contain unrelated videos; only the exact match is returned. A non-2xx
// response comes back as *ServiceError; structurally broken records come
// back as ErrMalformedRecord.
func (c *Client) SkipSegments(ctx context.Context, videoID string) ([]RawSegment, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	for _, category := range c.categories {
		query.Add("category", category)
	}
	query.Set("actionType", actionType)
	query.Set("service", serviceName)

	endpoint := c.base + "skipSegments/" + HashPrefix(videoID) + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{Status: resp.StatusCode, Body: string(body)}
	}

	var records []apiRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, &ServiceError{Status: resp.StatusCode, Body: string(body)}
	}

	for _, record := range records {
		if record.VideoID != videoID {
			continue
		}
		raw := make([]RawSegment, 0, len(record.Segments))
		for _, seg := range record.Segments {
			if len(seg.Segment) != 2 || seg.UUID == "" {
				return nil, fmt.Errorf("%w: video %s", ErrMalformedRecord, videoID)
			}
			raw = append(raw, RawSegment{
				Start:  seg.Segment[0],
				End:    seg.Segment[1],
				UUID:   seg.UUID,
				Locked: seg.Locked == 1,
			})
		}
		return raw, nil
	}
	return nil, nil
}

// MarkViewed tells the service a segment was skipped by a real viewer, one
// call per identifier. Best-effort: failures are logged at debug and
// swallowed.
func (c *Client) MarkViewed(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := c.markViewedOne(ctx, id); err != nil {
			c.logger.Debug("viewed_report_failed", slog.String("uuid", id), slog.String("error", err.Error()))
		}
	}
}

func (c *Client) markViewedOne(ctx context.Context, id string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.base + "viewedVideoSponsorTime/?UUID=" + url.QueryEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// HashPrefix returns the first 4 hex characters of the SHA-256 of the
// video id, the service's coarse lookup key.
func HashPrefix(videoID string) string {
	sum := sha256.Sum256([]byte(videoID))
	return hex.EncodeToString(sum[:])[:4]
}
