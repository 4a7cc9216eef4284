package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webshot/internal/capture"
	"github.com/JakeFAU/webshot/internal/hash/sha256"
	"github.com/JakeFAU/webshot/internal/storage/memory"
)

func TestSinkStoreWritesUnderPrefix(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	sink, err := NewSink(blobs, sha256.NewTruncated(12), "shots")
	require.NoError(t, err)

	target := mustTarget(t, "https://example.com/page")
	uri, err := sink.Store(context.Background(), target, []byte("png-bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "memory://shots/https_example.com_page_"), uri)

	name, err := FileName(target, sha256.NewTruncated(12))
	require.NoError(t, err)
	data, ok := blobs.Get("shots/" + name)
	require.True(t, ok)
	assert.Equal(t, "png-bytes", string(data))
	assert.Equal(t, "image/png", blobs.ContentType("shots/"+name))
}

func TestSinkStoreErrorsWrapResultWrite(t *testing.T) {
	t.Parallel()

	sink, err := NewSink(failingBlobs{}, sha256.New(), "")
	require.NoError(t, err)
	target := mustTarget(t, "https://example.com")

	_, err = sink.Store(context.Background(), target, []byte("x"))
	require.ErrorIs(t, err, capture.ErrResultWrite)
	assert.ErrorContains(t, err, "disk full")

	_, err = sink.Store(context.Background(), target, nil)
	require.ErrorIs(t, err, capture.ErrResultWrite)
}

func TestNewSinkValidates(t *testing.T) {
	t.Parallel()

	_, err := NewSink(nil, sha256.New(), "")
	require.Error(t, err)
	_, err = NewSink(memory.NewBlobStore(), nil, "")
	require.Error(t, err)
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("disk full")
}
