package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/JakeFAU/webshot/internal/capture"
)

const pngContentType = "image/png"

// Sink implements capture.ResultSink on top of a BlobStore.
type Sink struct {
	blobs  capture.BlobStore
	hasher capture.Hasher
	prefix string
}

var _ capture.ResultSink = (*Sink)(nil)

// NewSink stores screenshots in blobs under prefix (may be empty).
func NewSink(blobs capture.BlobStore, hasher capture.Hasher, prefix string) (*Sink, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	return &Sink{blobs: blobs, hasher: hasher, prefix: prefix}, nil
}

// Store writes png under the target's deterministic name and returns its URI.
// Every failure wraps capture.ErrResultWrite.
func (s *Sink) Store(ctx context.Context, target capture.Target, png []byte) (string, error) {
	if len(png) == 0 {
		return "", fmt.Errorf("%w: empty image for %s", capture.ErrResultWrite, target)
	}
	name, err := FileName(target, s.hasher)
	if err != nil {
		return "", fmt.Errorf("%w: %w", capture.ErrResultWrite, err)
	}
	key := name
	if s.prefix != "" {
		key = path.Join(s.prefix, name)
	}
	uri, err := s.blobs.PutObject(ctx, key, pngContentType, bytes.NewReader(png))
	if err != nil {
		return "", fmt.Errorf("%w: put %s: %w", capture.ErrResultWrite, key, err)
	}
	return uri, nil
}
