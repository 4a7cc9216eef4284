// Package input turns command-line arguments into raw URL lines that keep
// their source location.
package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/webshot/internal/capture"
)

const maxLineBytes = 1 << 20

// Sources used for lines that do not come from a file.
const (
	SourceStdin = "stdin"
	SourceArgs  = "args"
)

// Load resolves each argument in order. "-" reads lines from stdin, an
// existing regular file is read line by line, and anything else is taken as a
// literal URL numbered by its argument position. Validation happens later;
// Load only gathers lines.
func Load(args []string, stdin io.Reader) ([]capture.Line, error) {
	var lines []capture.Line
	for i, arg := range args {
		switch {
		case arg == "-":
			if stdin == nil {
				return nil, errors.New("stdin is not available")
			}
			read, err := ReadLines(stdin, SourceStdin)
			if err != nil {
				return nil, fmt.Errorf("read stdin: %w", err)
			}
			lines = append(lines, read...)
		case isFile(arg):
			read, err := readFile(arg)
			if err != nil {
				return nil, err
			}
			lines = append(lines, read...)
		default:
			lines = append(lines, capture.Line{Text: arg, Source: SourceArgs, Number: i + 1})
		}
	}
	return lines, nil
}

// ReadLines returns the non-blank, non-comment lines of r, numbered by their
// 1-based position in r.
func ReadLines(r io.Reader, source string) ([]capture.Line, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var lines []capture.Line
	n := 0
	for scanner.Scan() {
		n++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		lines = append(lines, capture.Line{Text: text, Source: source, Number: n})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan lines: %w", err)
	}
	return lines, nil
}

func readFile(path string) ([]capture.Line, error) {
	// #nosec G304 -- the path is an operator-supplied URL list.
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url list: %w", err)
	}
	defer file.Close() //nolint:errcheck // read-only handle
	lines, err := ReadLines(file, path)
	if err != nil {
		return nil, fmt.Errorf("read url list %s: %w", path, err)
	}
	return lines, nil
}

func isFile(arg string) bool {
	if strings.Contains(arg, "://") {
		return false
	}
	info, err := os.Stat(arg)
	return err == nil && info.Mode().IsRegular()
}
