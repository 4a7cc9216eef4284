package api

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/webshot/internal/progress"
)

// RunSnapshot is the live view of the current run.
type RunSnapshot struct {
	RunID      string         `json:"run_id,omitempty"`
	Status     string         `json:"status"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Targets    int            `json:"targets"`
	Completed  int            `json:"completed"`
	InFlight   int            `json:"in_flight"`
	Outcomes   map[string]int `json:"outcomes"`
	Error      string         `json:"error,omitempty"`
}

// SiteStats aggregates captures per site label.
type SiteStats struct {
	Site       string    `json:"site"`
	LastUpdate time.Time `json:"last_update"`
	Captures   int64     `json:"captures"`
	Failures   int64     `json:"failures"`
	BytesTotal int64     `json:"bytes_total"`
	Status2xx  int64     `json:"status_2xx"`
	Status3xx  int64     `json:"status_3xx"`
	Status4xx  int64     `json:"status_4xx"`
	Status5xx  int64     `json:"status_5xx"`
}

// Tracker is a progress.Sink that keeps an in-memory snapshot of the run for
// the status endpoints.
type Tracker struct {
	mu       sync.RWMutex
	run      RunSnapshot
	inFlight map[string]struct{}
	sites    map[string]*SiteStats
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{
		run:      RunSnapshot{Status: "idle", Outcomes: map[string]int{}},
		inFlight: make(map[string]struct{}),
		sites:    make(map[string]*SiteStats),
	}
}

// Consume implements progress.Sink.
func (t *Tracker) Consume(_ context.Context, batch []progress.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, evt := range batch {
		t.apply(evt)
	}
	return nil
}

// Close implements progress.Sink.
func (t *Tracker) Close(context.Context) error { return nil }

func (t *Tracker) apply(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		ts := evt.TS
		t.run = RunSnapshot{
			RunID:     uuid.UUID(evt.RunID).String(),
			Status:    "running",
			StartedAt: &ts,
			Targets:   evt.Targets,
			Outcomes:  map[string]int{},
		}
		t.inFlight = make(map[string]struct{})
		t.sites = make(map[string]*SiteStats)
	case progress.StageCaptureStart:
		t.inFlight[flightKey(evt)] = struct{}{}
	case progress.StageCaptureDone:
		delete(t.inFlight, flightKey(evt))
		t.run.Completed++
		t.run.Outcomes[evt.Outcome]++
		t.recordSite(evt)
	case progress.StageRunDone, progress.StageRunError:
		ts := evt.TS
		t.run.FinishedAt = &ts
		t.run.Status = "success"
		if evt.Stage == progress.StageRunError {
			t.run.Status = "error"
			t.run.Error = evt.Note
		}
	}
	t.run.InFlight = len(t.inFlight)
}

func (t *Tracker) recordSite(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	stats, ok := t.sites[site]
	if !ok {
		stats = &SiteStats{Site: site}
		t.sites[site] = stats
	}
	stats.LastUpdate = evt.TS
	stats.Captures++
	stats.BytesTotal += evt.Bytes
	if evt.Outcome != "success" {
		stats.Failures++
	}
	switch progress.ClassifyStatus(evt.HTTPStatus) {
	case progress.Status2xx:
		stats.Status2xx++
	case progress.Status3xx:
		stats.Status3xx++
	case progress.Status4xx:
		stats.Status4xx++
	case progress.Status5xx:
		stats.Status5xx++
	case progress.StatusOther:
	}
}

// Snapshot returns a copy of the run view.
func (t *Tracker) Snapshot() RunSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.run
	out.Outcomes = make(map[string]int, len(t.run.Outcomes))
	for k, v := range t.run.Outcomes {
		out.Outcomes[k] = v
	}
	return out
}

// Sites returns per-site stats ordered by capture count, then name.
func (t *Tracker) Sites(limit, offset int) []SiteStats {
	t.mu.RLock()
	out := make([]SiteStats, 0, len(t.sites))
	for _, s := range t.sites {
		out = append(out, *s)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Captures != out[j].Captures {
			return out[i].Captures > out[j].Captures
		}
		return out[i].Site < out[j].Site
	})
	if offset >= len(out) {
		return []SiteStats{}
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

func flightKey(evt progress.Event) string {
	return strconv.Itoa(evt.Slot) + "|" + evt.URL
}
