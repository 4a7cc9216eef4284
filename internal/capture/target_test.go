package capture

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr bool
		host    string
	}{
		{name: "https", input: "https://example.com", host: "example.com"},
		{name: "http with path", input: "http://example.com/a/b?q=1", host: "example.com"},
		{name: "surrounding whitespace", input: "  https://Example.com/page \t", host: "example.com"},
		{name: "port kept", input: "http://localhost:8080/", host: "localhost:8080"},
		{name: "empty", input: "   ", wantErr: true},
		{name: "no scheme", input: "example.com", wantErr: true},
		{name: "plain words", input: "not a url", wantErr: true},
		{name: "ftp", input: "ftp://example.com/file", wantErr: true},
		{name: "no host", input: "https:///path", wantErr: true},
		{name: "bad escape", input: "http://%zz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTarget(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTarget), "expected ErrInvalidTarget, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, got.Host())
			assert.NotNil(t, got.URL)
		})
	}
}

func TestParseTargetsDropsMalformed(t *testing.T) {
	t.Parallel()

	targets, rejected := ParseTargets([]string{
		"https://example.com",
		"not a url",
		"https://example.com/page",
	})

	require.Len(t, targets, 2)
	require.Len(t, rejected, 1)
	assert.Equal(t, "https://example.com", targets[0].Raw)
	assert.Equal(t, 0, targets[0].Index)
	assert.Equal(t, "https://example.com/page", targets[1].Raw)
	assert.Equal(t, 1, targets[1].Index)
	assert.Equal(t, 2, rejected[0].Line)
	assert.Equal(t, "not a url", rejected[0].Input)
	assert.NotEmpty(t, rejected[0].Reason())
}

func TestParseTargetsKeepsDuplicates(t *testing.T) {
	t.Parallel()

	targets, rejected := ParseTargets([]string{"https://a.test", "https://a.test"})
	require.Empty(t, rejected)
	require.Len(t, targets, 2)
	assert.Equal(t, targets[0].Raw, targets[1].Raw)
}

func TestParseLinesKeepsSourceLocation(t *testing.T) {
	t.Parallel()

	targets, rejected := ParseLines([]Line{
		{Text: "https://a.test", Source: "urls.txt", Number: 1},
		{Text: "ftp://b.test", Source: "urls.txt", Number: 4},
		{Text: "nope", Source: "stdin", Number: 2},
	})
	require.Len(t, targets, 1)
	require.Len(t, rejected, 2)
	assert.Equal(t, 4, rejected[0].Line)
	assert.Equal(t, "urls.txt:4", rejected[0].Location())
	assert.Equal(t, "stdin:2", rejected[1].Location())
	assert.Equal(t, "line 3", Rejection{Line: 3}.Location())
}
