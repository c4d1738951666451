package storage

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/athena/internal/athena/core"
	"github.com/autopeer-io/athena/pkg/log"
	"github.com/autopeer-io/athena/pkg/options"
)

var _ core.AuditSink = (*ObjectSink)(nil)

const defaultQueueSize = 5000

// objectStore is the part of *minio.Client the sink uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ObjectSink batches audit records and writes them to an S3 bucket as JSON
// lines, one object per flush.
type ObjectSink struct {
	log    log.Logger
	client objectStore
	clock  clock.WithTicker

	bucket string
	prefix string

	inputCh chan *core.AuditRecord
	buffer  []*core.AuditRecord

	flushInterval time.Duration
	batchSize     int
}

// NewMinIO connects to the S3 endpoint described by opts.
func NewMinIO(opts *options.S3Options, clk clock.WithTicker, logger log.Logger) (*ObjectSink, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure:    opts.UseSSL,
		Region:    opts.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return newObjectSink(client, opts, clk, logger), nil
}

func newObjectSink(client objectStore, opts *options.S3Options, clk clock.WithTicker, logger log.Logger) *ObjectSink {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 1
	}
	return &ObjectSink{
		log:           logger.WithName("audit"),
		client:        client,
		clock:         clk,
		bucket:        opts.BucketName,
		prefix:        opts.Prefix,
		inputCh:       make(chan *core.AuditRecord, defaultQueueSize),
		flushInterval: opts.FlushInterval,
		batchSize:     batch,
	}
}

// CheckBucket creates the bucket if it does not exist yet.
func (s *ObjectSink) CheckBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		s.log.Info("Bucket does not exist, creating...", "bucket", s.bucket)
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

// Record queues rec. It never blocks; when the queue is full the record is
// dropped and a warning logged.
func (s *ObjectSink) Record(rec *core.AuditRecord) {
	select {
	case s.inputCh <- rec:
	default:
		s.log.Warn("Audit queue full, dropping record", "eventID", rec.EventID, "outcome", rec.Outcome)
	}
}

// Start runs the batching loop until ctx is done, then flushes what is left.
func (s *ObjectSink) Start(ctx context.Context) error {
	if err := s.CheckBucket(ctx); err != nil {
		return err
	}

	ticker := s.clock.NewTicker(s.flushInterval)
	defer ticker.Stop()

	s.log.Info("Audit sink started", "bucket", s.bucket, "interval", s.flushInterval, "batch", s.batchSize)

	for {
		select {
		case rec := <-s.inputCh:
			s.buffer = append(s.buffer, rec)
			if len(s.buffer) >= s.batchSize {
				s.flush(ctx)
			}

		case <-ticker.C():
			if len(s.buffer) > 0 {
				s.flush(ctx)
			}

		case <-ctx.Done():
			s.drain()
			s.flush(context.Background())
			return nil
		}
	}
}

// drain moves records still queued into the buffer.
func (s *ObjectSink) drain() {
	for {
		select {
		case rec := <-s.inputCh:
			s.buffer = append(s.buffer, rec)
		default:
			return
		}
	}
}

func (s *ObjectSink) flush(ctx context.Context) {
	if len(s.buffer) == 0 {
		return
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, rec := range s.buffer {
		if err := enc.Encode(rec); err != nil {
			s.log.Error(err, "Failed to encode audit record", "eventID", rec.EventID)
		}
	}

	key := s.objectKey(s.clock.Now())
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body.Bytes()), int64(body.Len()),
		minio.PutObjectOptions{ContentType: "application/x-ndjson"})
	if err != nil {
		// The batch is lost; the decision path already completed.
		s.log.Error(err, "Failed to upload audit batch", "bucket", s.bucket, "key", key, "records", len(s.buffer))
	} else {
		s.log.Debug("Audit batch uploaded", "key", key, "records", len(s.buffer))
	}

	s.buffer = s.buffer[:0]
}

// objectKey returns {prefix}/YYYY/MM/DD/<timestamp>-<uuid>.jsonl.
func (s *ObjectSink) objectKey(now time.Time) string {
	now = now.UTC()
	name := fmt.Sprintf("%s-%s.jsonl", now.Format("20060102T150405.000Z"), uuid.NewString())
	return path.Join(s.prefix, now.Format("2006/01/02"), name)
}
