package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/JakeFAU/webshot/internal/capture"
)

// EnvOverride names the environment variable consulted before searching PATH.
const EnvOverride = "WEBSHOT_CHROME"

var defaultNames = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
	"headless-shell",
	"headless_shell",
	"msedge",
}

// Finder locates a browser executable.
type Finder struct {
	// Getenv reads environment overrides; defaults to os.Getenv.
	Getenv func(string) string
	// PathList is the PATH value to search; read from Getenv when empty.
	PathList string
	// Names are executable names probed on each PATH entry.
	Names []string
	// Locations are absolute install paths checked after PATH.
	Locations []string
}

// DefaultFinder returns a Finder for the host OS.
func DefaultFinder() Finder {
	return Finder{
		Getenv:    os.Getenv,
		Names:     defaultNames,
		Locations: installLocations(runtime.GOOS),
	}
}

// Discover resolves the browser executable using the host defaults.
func Discover(hint string) (string, error) {
	return DefaultFinder().Find(hint)
}

// Find resolves an executable in order: the explicit hint, the EnvOverride
// and CHROME_PATH variables, well-known names on PATH, then install
// locations. A hint without a path separator is looked up on PATH.
func (f Finder) Find(hint string) (string, error) {
	getenv := f.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if hint = strings.TrimSpace(hint); hint != "" {
		if path, ok := f.resolve(hint, getenv); ok {
			return path, nil
		}
		return "", fmt.Errorf("%w: %q is not an executable", capture.ErrDriverNotFound, hint)
	}
	for _, key := range []string{EnvOverride, "CHROME_PATH"} {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			if path, ok := f.resolve(v, getenv); ok {
				return path, nil
			}
			return "", fmt.Errorf("%w: %s=%q is not an executable", capture.ErrDriverNotFound, key, v)
		}
	}
	for _, name := range f.Names {
		if path, ok := f.lookPath(name, getenv); ok {
			return path, nil
		}
	}
	for _, loc := range f.Locations {
		if isExecutable(loc) {
			return loc, nil
		}
	}
	return "", fmt.Errorf("%w: set driver.path or %s", capture.ErrDriverNotFound, EnvOverride)
}

func (f Finder) resolve(candidate string, getenv func(string) string) (string, bool) {
	if strings.ContainsRune(candidate, filepath.Separator) || strings.Contains(candidate, "/") {
		if isExecutable(candidate) {
			return candidate, true
		}
		return "", false
	}
	return f.lookPath(candidate, getenv)
}

func (f Finder) lookPath(name string, getenv func(string) string) (string, bool) {
	pathList := f.PathList
	if pathList == "" {
		pathList = getenv("PATH")
	}
	for _, dir := range filepath.SplitList(pathList) {
		if dir == "" {
			continue
		}
		for _, candidate := range executableNames(name) {
			full := filepath.Join(dir, candidate)
			if isExecutable(full) {
				return full, true
			}
		}
	}
	return "", false
}

func executableNames(name string) []string {
	if runtime.GOOS == "windows" && !strings.HasSuffix(strings.ToLower(name), ".exe") {
		return []string{name + ".exe", name}
	}
	return []string{name}
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

func installLocations(goos string) []string {
	switch goos {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`,
		}
	default:
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
			"/opt/google/chrome/chrome",
		}
	}
}
