// Package report renders the end-of-run summary file in JSON or YAML.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/webshot/internal/capture"
)

// Format selects the report encoding.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Settings echoes the knobs that shaped the run.
type Settings struct {
	Concurrency int    `json:"concurrency" yaml:"concurrency"`
	Timeout     string `json:"timeout" yaml:"timeout"`
	Backend     string `json:"backend" yaml:"backend"`
	Partition   string `json:"partition" yaml:"partition"`
	Sink        string `json:"sink" yaml:"sink"`
}

// Totals counts inputs and outcomes.
type Totals struct {
	Inputs    int `json:"inputs" yaml:"inputs"`
	Scheduled int `json:"scheduled" yaml:"scheduled"`
	Dropped   int `json:"dropped" yaml:"dropped"`
	Succeeded int `json:"succeeded" yaml:"succeeded"`
	TimedOut  int `json:"timed_out" yaml:"timed_out"`
	Failed    int `json:"failed" yaml:"failed"`
	// EventsDropped counts progress events lost to sink backpressure; when
	// non-zero, persisted and published outcomes are incomplete.
	EventsDropped int64 `json:"events_dropped" yaml:"events_dropped"`
}

// Entry is one target's outcome.
type Entry struct {
	Index      int    `json:"index" yaml:"index"`
	URL        string `json:"url" yaml:"url"`
	Slot       int    `json:"slot" yaml:"slot"`
	Status     string `json:"status" yaml:"status"`
	HTTPStatus int    `json:"http_status,omitempty" yaml:"http_status,omitempty"`
	Title      string `json:"title,omitempty" yaml:"title,omitempty"`
	Bytes      int    `json:"bytes,omitempty" yaml:"bytes,omitempty"`
	URI        string `json:"uri,omitempty" yaml:"uri,omitempty"`
	Reason     string `json:"reason,omitempty" yaml:"reason,omitempty"`
	DurationMS int64  `json:"duration_ms" yaml:"duration_ms"`
}

// Dropped is an input line that never entered the pipeline.
type Dropped struct {
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	Line   int    `json:"line" yaml:"line"`
	Input  string `json:"input" yaml:"input"`
	Reason string `json:"reason" yaml:"reason"`
}

// Report is the full run summary.
type Report struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	Status     string    `json:"status" yaml:"status"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	DurationMS int64     `json:"duration_ms" yaml:"duration_ms"`
	Settings   Settings  `json:"settings" yaml:"settings"`
	Totals     Totals    `json:"totals" yaml:"totals"`
	Outcomes   []Entry   `json:"outcomes" yaml:"outcomes"`
	Dropped    []Dropped `json:"dropped,omitempty" yaml:"dropped,omitempty"`
}

// Run describes the run being reported.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
	Settings   Settings
	// EventsDropped is the progress hub's backpressure drop count.
	EventsDropped int64
}

// Build assembles a Report. Outcomes are listed in input order.
func Build(run Run, outcomes []capture.Outcome, rejected []capture.Rejection) Report {
	rep := Report{
		RunID:      run.ID,
		Status:     "success",
		StartedAt:  run.StartedAt.UTC(),
		FinishedAt: run.FinishedAt.UTC(),
		DurationMS: run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
		Settings:   run.Settings,
		Outcomes:   make([]Entry, 0, len(outcomes)),
	}
	if run.Err != nil {
		rep.Status = "error"
		rep.Error = run.Err.Error()
	}

	for _, out := range outcomes {
		rep.Outcomes = append(rep.Outcomes, Entry{
			Index:      out.Target.Index,
			URL:        out.Target.Raw,
			Slot:       out.Slot,
			Status:     string(out.Status),
			HTTPStatus: out.HTTPStatus,
			Title:      out.Title,
			Bytes:      out.Bytes,
			URI:        out.URI,
			Reason:     out.Reason(),
			DurationMS: out.Duration.Milliseconds(),
		})
		switch out.Status {
		case capture.StatusSuccess:
			rep.Totals.Succeeded++
		case capture.StatusTimedOut:
			rep.Totals.TimedOut++
		case capture.StatusFailed:
			rep.Totals.Failed++
		}
	}
	sort.SliceStable(rep.Outcomes, func(i, j int) bool {
		return rep.Outcomes[i].Index < rep.Outcomes[j].Index
	})

	for _, rej := range rejected {
		rep.Dropped = append(rep.Dropped, Dropped{Source: rej.Source, Line: rej.Line, Input: rej.Input, Reason: rej.Reason()})
	}
	rep.Totals.Scheduled = len(outcomes)
	rep.Totals.Dropped = len(rejected)
	rep.Totals.Inputs = rep.Totals.Scheduled + rep.Totals.Dropped
	rep.Totals.EventsDropped = run.EventsDropped
	return rep
}

// FormatFor picks the encoding from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported report extension %q", filepath.Ext(path))
	}
}

// Encode writes rep to w in the given format.
func Encode(w io.Writer, format Format, rep Report) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("encode json report: %w", err)
		}
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("encode yaml report: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("flush yaml report: %w", err)
		}
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
	return nil
}

// WriteFile encodes rep to path, choosing the format from the extension.
// Parent directories are created as needed.
func WriteFile(path string, rep Report) (err error) {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	f, err := os.Create(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close report: %w", cerr)
		}
	}()
	return Encode(f, format, rep)
}
