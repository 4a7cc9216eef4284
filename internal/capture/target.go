package capture

import (
	"fmt"
	"net/url"
	"strings"
)

// Target is a validated absolute http(s) URL scheduled for capture.
type Target struct {
	// Index is the position of the target among the accepted inputs.
	Index int
	// Raw is the trimmed input string; file names are derived from it.
	Raw string
	// URL is the parsed form of Raw.
	URL *url.URL
}

// String returns the raw URL.
func (t Target) String() string {
	return t.Raw
}

// Host returns the lowercase host (with port) of the target.
func (t Target) Host() string {
	if t.URL == nil {
		return ""
	}
	return strings.ToLower(t.URL.Host)
}

// Line is one raw input line and where it came from.
type Line struct {
	Text string
	// Source names the origin: a file path, "stdin", or "args".
	Source string
	// Number is the 1-based line in Source (argument position for "args").
	Number int
}

// Rejection records an input line that could not be turned into a Target.
type Rejection struct {
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	Line   int    `json:"line" yaml:"line"`
	Input  string `json:"input" yaml:"input"`
	Err    error  `json:"-" yaml:"-"`
}

// Location formats the rejection as source:line, or just the line number
// when the source is unknown.
func (r Rejection) Location() string {
	if r.Source == "" {
		return fmt.Sprintf("line %d", r.Line)
	}
	return fmt.Sprintf("%s:%d", r.Source, r.Line)
}

// Reason returns the rejection error text.
func (r Rejection) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// ParseTarget validates a single raw URL. Only absolute http and https URLs
// with a host are accepted.
func ParseTarget(raw string) (Target, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Target{}, fmt.Errorf("%w: empty input", ErrInvalidTarget)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "":
		return Target{}, fmt.Errorf("%w: missing scheme in %q", ErrInvalidTarget, trimmed)
	default:
		return Target{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
	if u.Hostname() == "" {
		return Target{}, fmt.Errorf("%w: missing host in %q", ErrInvalidTarget, trimmed)
	}
	return Target{Raw: trimmed, URL: u}, nil
}

// ParseTargets validates raw strings numbered by position (1-based).
func ParseTargets(lines []string) ([]Target, []Rejection) {
	numbered := make([]Line, len(lines))
	for i, text := range lines {
		numbered[i] = Line{Text: text, Number: i + 1}
	}
	return ParseLines(numbered)
}

// ParseLines validates every line, returning the accepted targets in input
// order together with the rejected lines, which keep their source location.
// Malformed input never aborts parsing.
func ParseLines(lines []Line) ([]Target, []Rejection) {
	targets := make([]Target, 0, len(lines))
	var rejected []Rejection
	for _, line := range lines {
		target, err := ParseTarget(line.Text)
		if err != nil {
			rejected = append(rejected, Rejection{Source: line.Source, Line: line.Number, Input: line.Text, Err: err})
			continue
		}
		target.Index = len(targets)
		targets = append(targets, target)
	}
	return targets, rejected
}
