// Package archive periodically exports recorded login events to S3 as
// gzipped JSON lines, for retention beyond the live store.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"loginwatch/internal/storage"
)

// exportFloor bounds the first export scan.
var exportFloor = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Config holds S3 export settings.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // For S3-compatible stores (MinIO, LocalStack)
	AccessKeyID     string
	SecretAccessKey string
	Interval        time.Duration
}

// DefaultConfig returns the default export configuration.
func DefaultConfig() Config {
	return Config{
		Prefix:   "login-events",
		Region:   "us-east-1",
		Interval: time.Hour,
	}
}

// Validate checks the export configuration.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("archive: bucket is required")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("archive: interval must be positive")
	}
	return nil
}

// Uploader is the S3 surface the exporter needs.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Metrics is a snapshot of the exporter counters.
type Metrics struct {
	Runs            uint64 `json:"runs"`
	EventsExported  uint64 `json:"events_exported"`
	ObjectsUploaded uint64 `json:"objects_uploaded"`
	Errors          uint64 `json:"errors"`
}

// Exporter ships login events to S3 on a fixed interval. Each run
// covers the window since the previous successful run, so restarting
// the process re-exports at most one window.
type Exporter struct {
	config   Config
	uploader Uploader
	store    storage.Store
	now      func() time.Time

	lastExport time.Time

	runs     uint64
	exported uint64
	uploaded uint64
	errors   uint64
}

// NewExporter creates an exporter backed by a real S3 client.
func NewExporter(ctx context.Context, cfg Config, store storage.Store) (*Exporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	slog.Info("s3 exporter initialized", "bucket", cfg.Bucket, "interval", cfg.Interval)

	return newExporter(cfg, client, store), nil
}

// newExporter wires an exporter to any uploader, for tests.
func newExporter(cfg Config, uploader Uploader, store storage.Store) *Exporter {
	return &Exporter{
		config:   cfg,
		uploader: uploader,
		store:    store,
		now:      time.Now,
	}
}

// WithClock overrides the exporter clock, for tests.
func (e *Exporter) WithClock(now func() time.Time) *Exporter {
	e.now = now
	return e
}

// Run exports on the configured interval until the context ends.
func (e *Exporter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.ExportOnce(ctx); err != nil {
				slog.Error("archive export failed", "error", err)
			}
		}
	}
}

// ExportOnce exports the events recorded since the previous successful
// export. A window with no events uploads nothing.
func (e *Exporter) ExportOnce(ctx context.Context) error {
	atomic.AddUint64(&e.runs, 1)

	start := e.lastExport
	if start.IsZero() {
		start = exportFloor
	}
	end := e.now().UTC()

	events, err := e.store.EventsInRange(ctx, start, end)
	if err != nil {
		atomic.AddUint64(&e.errors, 1)
		return fmt.Errorf("archive: query events: %w", err)
	}

	if len(events) == 0 {
		e.lastExport = end
		return nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			atomic.AddUint64(&e.errors, 1)
			return fmt.Errorf("archive: encode event %d: %w", ev.ID, err)
		}
	}
	if err := gz.Close(); err != nil {
		atomic.AddUint64(&e.errors, 1)
		return fmt.Errorf("archive: compress batch: %w", err)
	}

	key := e.objectKey(end)
	_, err = e.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		atomic.AddUint64(&e.errors, 1)
		return fmt.Errorf("archive: upload %s: %w", key, err)
	}

	e.lastExport = end
	atomic.AddUint64(&e.exported, uint64(len(events)))
	atomic.AddUint64(&e.uploaded, 1)

	slog.Info("exported login events",
		"key", key,
		"events", len(events),
		"bytes", buf.Len(),
	)

	return nil
}

// objectKey builds a date-partitioned object key.
func (e *Exporter) objectKey(at time.Time) string {
	return path.Join(
		e.config.Prefix,
		at.Format("2006/01/02"),
		fmt.Sprintf("login-events-%s-%s.jsonl.gz", at.Format("150405"), uuid.NewString()[:8]),
	)
}

// MetricsSnapshot returns the current counter values.
func (e *Exporter) MetricsSnapshot() Metrics {
	return Metrics{
		Runs:            atomic.LoadUint64(&e.runs),
		EventsExported:  atomic.LoadUint64(&e.exported),
		ObjectsUploaded: atomic.LoadUint64(&e.uploaded),
		Errors:          atomic.LoadUint64(&e.errors),
	}
}
