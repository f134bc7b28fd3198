package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"organmatch/internal/ledger"
)

// fakeBucket keeps objects in memory and pages listings two keys at a time.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	putErr  error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (f *fakeBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.objects[key] = body
	f.meta[key] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		start = sort.SearchStrings(keys, aws.ToString(in.ContinuationToken))
	}
	end := min(start+2, len(keys))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func (f *fakeBucket) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type ArchiveSuite struct {
	suite.Suite
	ctx     context.Context
	ledger  *ledger.Ledger
	bucket  *fakeBucket
	metrics *ledger.Metrics
}

func TestArchiveSuite(t *testing.T) {
	suite.Run(t, new(ArchiveSuite))
}

func (s *ArchiveSuite) SetupTest() {
	s.ctx = context.Background()
	s.ledger = ledger.New(ledger.NewMemoryStore())
	s.bucket = newFakeBucket()
	s.metrics = ledger.NewMetricsWith(prometheus.NewRegistry())
}

func (s *ArchiveSuite) publish(n int) {
	for i := 0; i < n; i++ {
		_, err := s.ledger.Publish(s.ctx, ledger.Event{Type: "tick", Payload: i})
		s.Require().NoError(err)
	}
}

func (s *ArchiveSuite) TestTickUploadsJSONLines() {
	s.publish(3)
	a := New(s.ledger, s.bucket, "audit", WithPrefix("/organmatch/ledger/"), WithMetrics(s.metrics))

	n, err := a.Tick(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, n)

	key := a.ObjectKey(1, 3)
	s.Equal("organmatch/ledger/00000000000000000001-00000000000000000003.jsonl", key)
	s.Equal([]string{key}, s.bucket.keys())
	s.Equal("3", s.bucket.meta[key]["last-seq"])

	var seqs []uint64
	sc := bufio.NewScanner(bytes.NewReader(s.bucket.objects[key]))
	for sc.Scan() {
		var e ledger.Entry
		s.Require().NoError(json.Unmarshal(sc.Bytes(), &e))
		s.Equal(e.ComputeHash(), e.Hash)
		seqs = append(seqs, e.Seq)
	}
	s.Equal([]uint64{1, 2, 3}, seqs)
	s.Equal(float64(1), promtest.ToFloat64(s.metrics.ArchiveObjects))

	n, err = a.Tick(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *ArchiveSuite) TestFailedUploadKeepsCheckpoint() {
	s.publish(2)
	s.bucket.putErr = errors.New("access denied")
	a := New(s.ledger, s.bucket, "audit")

	_, err := a.Tick(s.ctx)
	s.Require().Error(err)
	s.Zero(a.Checkpoint())
	s.Empty(s.bucket.keys())
}

func (s *ArchiveSuite) TestResumeContinuesAfterHighestObject() {
	s.publish(7)
	first := New(s.ledger, s.bucket, "audit", WithBatchSize(2))
	for first.Checkpoint() < 7 {
		_, err := first.Tick(s.ctx)
		s.Require().NoError(err)
	}
	s.Len(s.bucket.keys(), 4)

	s.publish(1)
	second := New(s.ledger, s.bucket, "audit", WithBatchSize(2))
	s.Require().NoError(second.Resume(s.ctx))
	s.Equal(uint64(7), second.Checkpoint())

	n, err := second.Tick(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Contains(s.bucket.keys(), second.ObjectKey(8, 8))
}

func (s *ArchiveSuite) TestParseObjectKey() {
	first, last, ok := parseObjectKey("00000000000000000004-00000000000000000009.jsonl")
	s.True(ok)
	s.Equal(uint64(4), first)
	s.Equal(uint64(9), last)

	for _, bad := range []string{"notes.txt", "9-4.jsonl", "a-b.jsonl", "12.jsonl"} {
		_, _, ok := parseObjectKey(bad)
		s.False(ok, bad)
	}
}
