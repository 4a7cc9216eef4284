package storage

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JakeFAU/webshot/internal/capture"
)

const maxReadableLen = 120

var unsafeRun = regexp.MustCompile(`[^A-Za-z0-9.-]+`)

// FileName derives the screenshot name for target:
// <scheme>_<host>[_<port>]_<path>_<digest>.png. The readable part is
// sanitized and truncated; the digest comes from hasher over the raw input
// string, so distinct inputs never share a name.
func FileName(target capture.Target, hasher capture.Hasher) (string, error) {
	if hasher == nil {
		return "", fmt.Errorf("hasher is required")
	}
	digest, err := hasher.Hash([]byte(target.Raw))
	if err != nil {
		return "", fmt.Errorf("hash target: %w", err)
	}
	return readable(target) + "_" + digest + ".png", nil
}

func readable(target capture.Target) string {
	u := target.URL
	if u == nil {
		return sanitize(target.Raw)
	}
	parts := []string{u.Scheme, strings.ToLower(u.Hostname())}
	if port := u.Port(); port != "" {
		parts = append(parts, port)
	}
	rest := strings.Trim(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		rest += "_" + u.RawQuery
	}
	if rest != "" {
		parts = append(parts, rest)
	}
	return sanitize(strings.Join(parts, "_"))
}

func sanitize(s string) string {
	s = strings.Trim(unsafeRun.ReplaceAllString(s, "_"), "_")
	if len(s) > maxReadableLen {
		s = strings.TrimRight(s[:maxReadableLen], "_")
	}
	if s == "" {
		return "target"
	}
	return s
}
