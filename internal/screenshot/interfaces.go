package screenshot

import (
	"context"
	"io"
	"time"
)

// Launcher starts headless browser processes.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is a live browser process handle.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab on a Browser.
type Page interface {
	SetUserAgent(ctx context.Context, ua UserAgent) error
	SetViewport(ctx context.Context, width, height int) error
	BlockURLs(ctx context.Context, patterns []string) error
	Navigate(ctx context.Context, url string, wait WaitCondition) error
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Close() error
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// RecordStore persists screenshot metadata.
type RecordStore interface {
	Save(ctx context.Context, record Record) error
	Get(ctx context.Context, id string) (Record, error)
	// List returns records newest first. limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]Record, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Recorder receives capture telemetry. Implementations must not block.
type Recorder interface {
	RecordCapture(m CaptureMetrics)
}

// Hasher computes digests for integrity checks.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces screenshot IDs.
type IDGenerator interface {
	NewID() (string, error)
}
