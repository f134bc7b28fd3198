// Package archive copies the ledger to S3-compatible object storage.
//
// Each upload is one JSON-lines object named <prefix>/<first>-<last>.jsonl
// holding entries first..last. Object names are the only archive state: on
// start the archiver lists the prefix and resumes after the highest archived
// sequence number.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"organmatch/internal/ledger"
)

const (
	DefaultInterval  = time.Minute
	DefaultBatchSize = 1000

	contentType = "application/x-ndjson"
)

type Source interface {
	Since(ctx context.Context, after uint64, limit int) ([]ledger.Entry, error)
}

// ObjectStore is the subset of *s3.Client the archiver uses.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type Archiver struct {
	source     Source
	objects    ObjectStore
	bucket     string
	prefix     string
	interval   time.Duration
	batchSize  int
	logger     *slog.Logger
	metrics    *ledger.Metrics
	checkpoint atomic.Uint64
}

type Option func(*Archiver)

func WithPrefix(prefix string) Option {
	return func(a *Archiver) {
		a.prefix = strings.Trim(prefix, "/")
	}
}

func WithInterval(d time.Duration) Option {
	return func(a *Archiver) {
		if d > 0 {
			a.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(a *Archiver) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Archiver) {
		a.logger = logger
	}
}

func WithMetrics(m *ledger.Metrics) Option {
	return func(a *Archiver) {
		a.metrics = m
	}
}

func New(source Source, objects ObjectStore, bucket string, opts ...Option) *Archiver {
	a := &Archiver{
		source:    source,
		objects:   objects,
		bucket:    bucket,
		prefix:    "ledger",
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ObjectKey names the object holding entries first..last.
func (a *Archiver) ObjectKey(first, last uint64) string {
	name := fmt.Sprintf("%020d-%020d.jsonl", first, last)
	if a.prefix == "" {
		return name
	}
	return a.prefix + "/" + name
}

func (a *Archiver) Checkpoint() uint64 {
	return a.checkpoint.Load()
}

// Resume sets the checkpoint to the highest sequence already archived.
func (a *Archiver) Resume(ctx context.Context) error {
	listPrefix := ""
	if a.prefix != "" {
		listPrefix = a.prefix + "/"
	}
	var highest uint64
	paginator := s3.NewListObjectsV2Paginator(a.objects, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(listPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list archive objects: %w", err)
		}
		for _, obj := range page.Contents {
			_, last, ok := parseObjectKey(strings.TrimPrefix(aws.ToString(obj.Key), listPrefix))
			if ok && last > highest {
				highest = last
			}
		}
	}
	a.checkpoint.Store(highest)
	return nil
}

func (a *Archiver) Run(ctx context.Context) error {
	if err := a.Resume(ctx); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "ledger archiver started",
		"bucket", a.bucket,
		"prefix", a.prefix,
		"checkpoint", a.Checkpoint(),
	)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				n, err := a.Tick(ctx)
				if err != nil {
					if ctx.Err() == nil {
						a.logger.WarnContext(ctx, "ledger archive upload failed", "error", err, "checkpoint", a.Checkpoint())
					}
					break
				}
				if n < a.batchSize {
					break
				}
			}
		}
	}
}

// Tick uploads at most one object and returns how many entries it holds.
func (a *Archiver) Tick(ctx context.Context) (int, error) {
	after := a.Checkpoint()
	entries, err := a.source.Since(ctx, after, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("read ledger after %d: %w", after, err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return 0, fmt.Errorf("encode entry %d: %w", e.Seq, err)
		}
	}

	first, last := entries[0].Seq, entries[len(entries)-1].Seq
	key := a.ObjectKey(first, last)
	_, err = a.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body.Bytes()),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"first-seq": strconv.FormatUint(first, 10),
			"last-seq":  strconv.FormatUint(last, 10),
			"last-hash": entries[len(entries)-1].Hash,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, err)
	}

	a.checkpoint.Store(last)
	a.metrics.IncArchiveObject()
	a.logger.DebugContext(ctx, "ledger archive object uploaded", "key", key, "entries", len(entries))
	return len(entries), nil
}

func parseObjectKey(name string) (first, last uint64, ok bool) {
	name, found := strings.CutSuffix(name, ".jsonl")
	if !found {
		return 0, 0, false
	}
	lo, hi, found := strings.Cut(name, "-")
	if !found {
		return 0, 0, false
	}
	first, err := strconv.ParseUint(lo, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	last, err = strconv.ParseUint(hi, 10, 64)
	if err != nil || last < first {
		return 0, 0, false
	}
	return first, last, true
}
