package segments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSkipSegmentsRequestShape(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	var gotAccept string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		gotAccept = r.Header.Get("Accept")
		require.NoError(t, json.NewEncoder(w).Encode([]map[string]any{}))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{
		APIBase:           srv.URL + "/",
		Categories:        []string{"sponsor", "selfpromo"},
		UserAgent:         "tvskip/test",
		RequestsPerSecond: 1000,
	})

	raw, err := c.SkipSegments(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Nil(t, raw)

	assert.Equal(t, "/skipSegments/"+HashPrefix("dQw4w9WgXcQ"), gotPath)
	assert.Equal(t, []string{"sponsor", "selfpromo"}, gotQuery["category"])
	assert.Equal(t, []string{"skip"}, gotQuery["actionType"])
	assert.Equal(t, []string{"youtube"}, gotQuery["service"])
	assert.Equal(t, "application/json", gotAccept)
}

func TestMarkViewedPostsOnePerID(t *testing.T) {
	var uuids []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/viewedVideoSponsorTime/", r.URL.Path)
		uuids = append(uuids, r.URL.Query().Get("UUID"))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIBase: srv.URL + "/", RequestsPerSecond: 1000})
	c.MarkViewed(context.Background(), []string{"u1", "u2"})

	assert.Equal(t, []string{"u1", "u2"}, uuids)
}

func TestMarkViewedSwallowsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIBase: srv.URL + "/", RequestsPerSecond: 1000})
	// Must not panic or surface anything.
	c.MarkViewed(context.Background(), []string{"u1"})
}
