package capture

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// Handle drives one browser tab (or one-shot process) for one worker slot.
// A handle is never shared between concurrently running tasks.
type Handle interface {
	// Capture navigates to the target and returns a full-page PNG.
	Capture(ctx context.Context, target Target) (Shot, error)
	// Reset abandons any in-flight work and leaves the handle ready for reuse.
	Reset(ctx context.Context) error
	Close() error
}

// HandleFactory opens one Handle per worker slot.
type HandleFactory interface {
	Open(ctx context.Context, slot int) (Handle, error)
	Close() error
}

// Prober answers whether a target is reachable within the budget.
type Prober interface {
	Probe(ctx context.Context, target Target, budget time.Duration) Verdict
}

// ResultSink persists the bytes of a successful capture.
type ResultSink interface {
	Store(ctx context.Context, target Target, png []byte) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Hasher computes hex digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
