// Package feed pulls external reality-alignment scores into the engine. It
// implements domain.AlignmentSource with a pull-through cache fed two ways:
// an optional websocket stream of push updates, and on-demand HTTP pulls for
// cache misses and stale readings.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantleap/chronosim/internal/domain"
)

// Config holds the reality endpoint parameters.
type Config struct {
	// BaseURL is the HTTP endpoint, e.g. "https://reality.example.com".
	BaseURL string
	// WSURL is the optional websocket stream of push updates. Empty disables
	// the stream; Score then always pulls over HTTP when stale.
	WSURL string
	// MaxAge is how long a cached reading stays fresh.
	MaxAge time.Duration
	// Timeout bounds each HTTP pull.
	Timeout time.Duration
}

// reading is one cached alignment observation.
type reading struct {
	score float64
	at    time.Time
}

// AlignmentFeed is a caching domain.AlignmentSource over a reality endpoint.
type AlignmentFeed struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]reading

	closeOnce sync.Once
	done      chan struct{}
}

// New creates an AlignmentFeed. Call Run to start the websocket stream; Score
// works without it, pulling over HTTP on demand.
func New(cfg Config, logger *slog.Logger) *AlignmentFeed {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &AlignmentFeed{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(slog.String("component", "alignment_feed")),
		now:    time.Now,
		cache:  make(map[string]reading),
		done:   make(chan struct{}),
	}
}

// Score returns the alignment reading for a timeline, serving from cache
// while fresh and pulling over HTTP otherwise. A failed pull returns the
// error; no stale or fabricated value is ever served past MaxAge.
func (f *AlignmentFeed) Score(ctx context.Context, timelineID string) (float64, error) {
	f.mu.RLock()
	r, ok := f.cache[timelineID]
	f.mu.RUnlock()
	if ok && f.now().Sub(r.at) <= f.cfg.MaxAge {
		return r.score, nil
	}

	score, err := f.pull(ctx, timelineID)
	if err != nil {
		return 0, err
	}
	f.store(timelineID, score, f.now())
	return score, nil
}

// scorePayload is the wire form of one alignment observation, shared by the
// HTTP and websocket paths.
type scorePayload struct {
	TimelineID string  `json:"timeline_id"`
	Score      float64 `json:"score"`
}

func (f *AlignmentFeed) pull(ctx context.Context, timelineID string) (float64, error) {
	url := fmt.Sprintf("%s/v1/timelines/%s/alignment", f.cfg.BaseURL, timelineID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("feed: build request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("feed: pull alignment for %s: %w", timelineID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return 0, fmt.Errorf("feed: alignment for %s: %w", timelineID, domain.ErrNotFound)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("feed: pull alignment for %s: status %d: %s",
			timelineID, resp.StatusCode, body)
	}

	var p scorePayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return 0, fmt.Errorf("feed: decode alignment for %s: %w", timelineID, err)
	}
	if p.Score < 0 || p.Score > 1 {
		return 0, fmt.Errorf("feed: alignment %v for %s outside [0,1]", p.Score, timelineID)
	}
	return p.Score, nil
}

func (f *AlignmentFeed) store(timelineID string, score float64, at time.Time) {
	f.mu.Lock()
	f.cache[timelineID] = reading{score: score, at: at}
	f.mu.Unlock()
}

// Run consumes the websocket push stream until ctx is cancelled, reconnecting
// with backoff on disconnect. Each message refreshes the cache, keeping Score
// off the HTTP path for actively streamed timelines.
func (f *AlignmentFeed) Run(ctx context.Context) error {
	if f.cfg.WSURL == "" {
		f.logger.Info("no websocket url configured, pull-only mode")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("alignment stream disconnected, reconnecting",
			slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *AlignmentFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.cfg.WSURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", f.cfg.WSURL, err)
	}
	defer conn.Close()

	// Unblock ReadMessage on shutdown.
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		}
		_ = conn.Close()
	}()

	f.logger.Info("alignment stream connected", slog.String("url", f.cfg.WSURL))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		var p scorePayload
		if err := json.Unmarshal(data, &p); err != nil {
			f.logger.Warn("malformed alignment message", slog.String("error", err.Error()))
			continue
		}
		if p.TimelineID == "" || p.Score < 0 || p.Score > 1 {
			f.logger.Warn("invalid alignment message",
				slog.String("timeline_id", p.TimelineID),
				slog.Float64("score", p.Score),
			)
			continue
		}
		f.store(p.TimelineID, p.Score, f.now())
	}
}

// Close stops the feed's stream loop.
func (f *AlignmentFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// Compile-time interface check.
var _ domain.AlignmentSource = (*AlignmentFeed)(nil)
