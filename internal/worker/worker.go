// Package worker runs one admitted screenshot job: capture, then persist and
// announce the artifact.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/screenshot-service/internal/capture"
	"github.com/JakeFAU/screenshot-service/internal/screenshot"
)

// Capturer renders a request to a file.
type Capturer interface {
	Capture(ctx context.Context, req screenshot.Request, outputPath string) (capture.Result, error)
}

// Config controls Worker behavior.
type Config struct {
	OutputDir   string
	ContentType string
	BlobPrefix  string
	Topic       string
}

// Job is a screenshot request bound to its artifact ID.
type Job struct {
	ID      string
	Request screenshot.Request
}

// Worker executes jobs handed to it by the dispatcher. The blob store, record
// store and publisher are optional.
type Worker struct {
	capturer  Capturer
	blobStore screenshot.BlobStore
	records   screenshot.RecordStore
	publisher screenshot.Publisher
	hasher    screenshot.Hasher
	clock     screenshot.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	capturer Capturer,
	blobStore screenshot.BlobStore,
	records screenshot.RecordStore,
	publisher screenshot.Publisher,
	hasher screenshot.Hasher,
	clock screenshot.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ContentType == "" {
		cfg.ContentType = "image/png"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "data/screenshots"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		capturer:  capturer,
		blobStore: blobStore,
		records:   records,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// OutputPath is where the image for id is written.
func (w *Worker) OutputPath(id string) string {
	return filepath.Join(w.cfg.OutputDir, id+".png")
}

// Process captures job and persists its metadata. Capture errors carry their
// screenshot error kind; persistence errors are internal.
func (w *Worker) Process(ctx context.Context, job Job) (screenshot.Record, error) {
	if job.ID == "" {
		return screenshot.Record{}, fmt.Errorf("%w: job id is required", screenshot.ErrInvalidRequest)
	}
	path := w.OutputPath(job.ID)
	res, err := w.capturer.Capture(ctx, job.Request, path)
	if err != nil {
		return screenshot.Record{}, err
	}
	w.logger.Debug("capture written", zap.String("screenshot_id", job.ID), zap.String("path", path))

	record := screenshot.Record{
		ID:         job.ID,
		URL:        job.Request.URL,
		Resolution: job.Request.Resolution,
		UserAgent:  job.Request.UserAgent,
		Path:       path,
		Bytes:      res.Bytes,
		Width:      res.Width,
		Height:     res.Height,
		CreatedAt:  w.clock.Now(),
		DurationMs: res.Duration.Milliseconds(),
	}
	if err := w.persist(ctx, &record); err != nil {
		w.logger.Error("persist screenshot failed", zap.String("screenshot_id", job.ID), zap.Error(err))
		return screenshot.Record{}, err
	}
	w.publishResult(ctx, record)
	return record, nil
}

func (w *Worker) buildBlobPath(id string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return id + ".png"
	}
	return fmt.Sprintf("%s/%s.png", prefix, id)
}

func (w *Worker) persist(ctx context.Context, record *screenshot.Record) error {
	data, err := os.ReadFile(record.Path)
	if err != nil {
		return fmt.Errorf("read capture: %w", err)
	}
	if w.hasher != nil {
		hash, err := w.hasher.Hash(data)
		if err != nil {
			return fmt.Errorf("hash capture: %w", err)
		}
		record.Hash = hash
	}
	if w.blobStore != nil {
		uri, err := w.blobStore.PutObject(ctx, w.buildBlobPath(record.ID), w.cfg.ContentType, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("put object: %w", err)
		}
		record.BlobURI = uri
	}
	if w.records != nil {
		if err := w.records.Save(ctx, *record); err != nil {
			return fmt.Errorf("save record: %w", err)
		}
	}
	return nil
}

// publishResult announces a stored screenshot. A failed publish is logged
// and does not fail the job.
func (w *Worker) publishResult(ctx context.Context, record screenshot.Record) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	event := screenshot.CaptureEvent{
		ID:         record.ID,
		URL:        record.URL,
		Resolution: record.Resolution,
		BlobURI:    record.BlobURI,
		Hash:       record.Hash,
		CreatedAt:  record.CreatedAt,
	}
	msgID, err := w.publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		w.logger.Warn("publish capture event failed", zap.String("screenshot_id", record.ID), zap.Error(err))
		return
	}
	w.logger.Info("capture event published",
		zap.String("screenshot_id", record.ID),
		zap.String("message_id", msgID),
		zap.String("blob_uri", record.BlobURI),
		zap.String("hash", record.Hash),
	)
}
