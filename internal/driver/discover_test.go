package driver

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webshot/internal/capture"
)

func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	path := filepath.Join(dir, name)
	// #nosec G306 -- test fixture must be executable.
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	return path
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFindOrder(t *testing.T) {
	t.Parallel()

	binDir := t.TempDir()
	onPath := writeExecutable(t, binDir, "chromium")
	explicit := writeExecutable(t, t.TempDir(), "my-chrome")
	fromEnv := writeExecutable(t, t.TempDir(), "env-chrome")
	location := writeExecutable(t, t.TempDir(), "installed")

	base := Finder{
		Names:     []string{"google-chrome", "chromium"},
		Locations: []string{location},
	}

	t.Run("explicit path wins", func(t *testing.T) {
		t.Parallel()
		f := base
		f.Getenv = envMap(map[string]string{EnvOverride: fromEnv, "PATH": binDir})
		got, err := f.Find(explicit)
		require.NoError(t, err)
		assert.Equal(t, explicit, got)
	})

	t.Run("explicit name resolved on path", func(t *testing.T) {
		t.Parallel()
		f := base
		f.Getenv = envMap(map[string]string{"PATH": binDir})
		got, err := f.Find("chromium")
		require.NoError(t, err)
		assert.Equal(t, onPath, got)
	})

	t.Run("env override before path", func(t *testing.T) {
		t.Parallel()
		f := base
		f.Getenv = envMap(map[string]string{EnvOverride: fromEnv, "PATH": binDir})
		got, err := f.Find("")
		require.NoError(t, err)
		assert.Equal(t, fromEnv, got)
	})

	t.Run("chrome path variable", func(t *testing.T) {
		t.Parallel()
		f := base
		f.Getenv = envMap(map[string]string{"CHROME_PATH": fromEnv})
		got, err := f.Find("")
		require.NoError(t, err)
		assert.Equal(t, fromEnv, got)
	})

	t.Run("well known name on path", func(t *testing.T) {
		t.Parallel()
		f := base
		f.Getenv = envMap(map[string]string{"PATH": binDir})
		got, err := f.Find("")
		require.NoError(t, err)
		assert.Equal(t, onPath, got)
	})

	t.Run("install location last", func(t *testing.T) {
		t.Parallel()
		f := base
		f.Getenv = envMap(map[string]string{"PATH": t.TempDir()})
		got, err := f.Find("")
		require.NoError(t, err)
		assert.Equal(t, location, got)
	})
}

func TestFindNotFound(t *testing.T) {
	t.Parallel()

	f := Finder{
		Getenv:    envMap(map[string]string{"PATH": t.TempDir()}),
		Names:     []string{"chromium"},
		Locations: []string{filepath.Join(t.TempDir(), "missing")},
	}
	_, err := f.Find("")
	assert.ErrorIs(t, err, capture.ErrDriverNotFound)

	_, err = f.Find(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, capture.ErrDriverNotFound)

	f.Getenv = envMap(map[string]string{EnvOverride: "/definitely/not/here"})
	_, err = f.Find("")
	assert.ErrorIs(t, err, capture.ErrDriverNotFound)
}

func TestFindSkipsNonExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chromium"), []byte("x"), 0o600))
	f := Finder{Getenv: envMap(map[string]string{"PATH": dir}), Names: []string{"chromium"}}
	_, err := f.Find("")
	assert.ErrorIs(t, err, capture.ErrDriverNotFound)
}
