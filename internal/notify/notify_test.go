package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/chronosim/internal/domain"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (s *recordingSender) Send(ctx context.Context, title, message string) error {
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	return nil
}

func (s *recordingSender) Name() string { return s.name }

func TestNotifierEventFilter(t *testing.T) {
	ctx := context.Background()
	rec := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{rec}, []string{EventParadoxDetonated}, slog.New(slog.DiscardHandler))

	require.NoError(t, n.Notify(ctx, EventParadoxSpawned, "spawned", "m"))
	require.NoError(t, n.Notify(ctx, EventParadoxDetonated, "detonated", "m"))
	require.NoError(t, n.NotifyAll(ctx, "always", "m"))

	assert.Equal(t, []string{"detonated", "always"}, rec.titles)
}

func TestNotifierCollectsSenderFailures(t *testing.T) {
	ctx := context.Background()
	good := &recordingSender{name: "good"}
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	n := NewNotifier([]Sender{bad, good}, nil, slog.New(slog.DiscardHandler))

	err := n.NotifyAll(ctx, "title", "m")
	require.ErrorContains(t, err, "bad: boom")
	assert.Equal(t, []string{"title"}, good.titles) // delivery continued
}

func TestWebhookSenderPostsJSON(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewWebhookSender("ops", srv.URL)
	require.NoError(t, s.Send(context.Background(), "Paradox detonated (minor)", "timeline tl-1"))
	assert.Contains(t, got["content"], "**Paradox detonated (minor)**")
	assert.Contains(t, got["content"], "timeline tl-1")
}

func TestWebhookSenderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewWebhookSender("ops", srv.URL).Send(context.Background(), "t", "m")
	require.ErrorContains(t, err, "status 403")
}

func TestFormatParadox(t *testing.T) {
	inc := domain.ParadoxIncident{
		ID:                "p1",
		TimelineID:        "tl-1",
		Severity:          domain.SeverityMajor,
		DivergenceAtSpawn: 52.5,
		Deadline:          time.Date(2026, 3, 14, 12, 15, 0, 0, time.UTC),
		Carrier:           "carol",
		CostPaid:          250,
	}

	event, title, msg := FormatParadox(inc, domain.ParadoxSpawned)
	assert.Equal(t, EventParadoxSpawned, event)
	assert.Contains(t, title, "major")
	assert.Contains(t, msg, "52.5")
	assert.Contains(t, msg, "2026-03-14T12:15:00Z")

	event, _, msg = FormatParadox(inc, domain.ParadoxExtracted)
	assert.Equal(t, EventParadoxExtracted, event)
	assert.Contains(t, msg, "carol")
	assert.Contains(t, msg, "250.00")

	event, _, msg = FormatParadox(inc, domain.ParadoxDetonated)
	assert.Equal(t, EventParadoxDetonated, event)
	assert.Contains(t, msg, "20")
}
