package feed

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/chronosim/internal/domain"
)

func newTestFeed(t *testing.T, baseURL string) *AlignmentFeed {
	t.Helper()
	f := New(Config{BaseURL: baseURL, MaxAge: 30 * time.Second}, slog.New(slog.DiscardHandler))
	t.Cleanup(f.Close)
	return f
}

func TestScorePullsAndCaches(t *testing.T) {
	var pulls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pulls.Add(1)
		require.Equal(t, "/v1/timelines/tl-1/alignment", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"timeline_id":"tl-1","score":0.73}`))
	}))
	defer srv.Close()

	f := newTestFeed(t, srv.URL)
	ctx := context.Background()

	score, err := f.Score(ctx, "tl-1")
	require.NoError(t, err)
	assert.Equal(t, 0.73, score)

	// Second read inside MaxAge is served from cache.
	score, err = f.Score(ctx, "tl-1")
	require.NoError(t, err)
	assert.Equal(t, 0.73, score)
	assert.Equal(t, int64(1), pulls.Load())
}

func TestScoreRefreshesStaleReading(t *testing.T) {
	var pulls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pulls.Add(1)
		w.Write([]byte(`{"score":0.4}`))
	}))
	defer srv.Close()

	f := newTestFeed(t, srv.URL)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := f.Score(ctx, "tl-1")
	require.NoError(t, err)

	now = now.Add(31 * time.Second) // past MaxAge
	_, err = f.Score(ctx, "tl-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), pulls.Load())
}

func TestScorePropagatesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/timelines/missing/alignment":
			w.WriteHeader(http.StatusNotFound)
		case "/v1/timelines/broken/alignment":
			w.WriteHeader(http.StatusInternalServerError)
		case "/v1/timelines/bogus/alignment":
			w.Write([]byte(`{"score":1.7}`))
		}
	}))
	defer srv.Close()

	f := newTestFeed(t, srv.URL)
	ctx := context.Background()

	_, err := f.Score(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.Score(ctx, "broken")
	require.Error(t, err)

	_, err = f.Score(ctx, "bogus")
	require.ErrorContains(t, err, "outside [0,1]")
}

func TestStreamUpdatesServeWithoutPull(t *testing.T) {
	var pulls atomic.Int64
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/stream" {
			conn, err := upgrader.Upgrade(w, r, nil)
			require.NoError(t, err)
			defer conn.Close()
			require.NoError(t, conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"timeline_id":"tl-ws","score":0.61}`)))
			// Hold the connection open until the client goes away.
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
		pulls.Add(1)
		w.Write([]byte(`{"score":0.1}`))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	f := New(Config{BaseURL: srv.URL, WSURL: wsURL, MaxAge: time.Minute},
		slog.New(slog.DiscardHandler))
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	// Wait for the pushed reading to land in the cache.
	require.Eventually(t, func() bool {
		f.mu.RLock()
		_, ok := f.cache["tl-ws"]
		f.mu.RUnlock()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	score, err := f.Score(ctx, "tl-ws")
	require.NoError(t, err)
	assert.Equal(t, 0.61, score)
	assert.Equal(t, int64(0), pulls.Load())
}
