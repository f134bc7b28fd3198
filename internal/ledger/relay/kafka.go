package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"organmatch/internal/ledger"
)

// Header keys set on every produced record.
const (
	HeaderSeq  = "seq"
	HeaderHash = "hash"
)

// RecordKey is the key of every produced record. One key keeps the whole
// ledger on one partition, so consumers see entries in seq order whatever
// the topic's partition count.
const RecordKey = "ledger"

// KafkaSink produces ledger entries to one topic. The record key is
// RecordKey and the value is the JSON-encoded entry; the entry type travels
// in the value.
type KafkaSink struct {
	client  *kgo.Client
	brokers []string
	topic   string
}

func NewKafkaSink(brokers []string, topic string, opts ...kgo.Opt) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sink requires at least one broker")
	}
	if topic == "" {
		return nil, errors.New("kafka sink requires a topic")
	}
	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaSink{client: client, brokers: brokers, topic: topic}, nil
}

// EnsureTopic creates the topic when it does not exist yet.
func (k *KafkaSink) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(k.client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, k.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", k.topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

func (k *KafkaSink) Publish(ctx context.Context, entries []ledger.Entry) error {
	records := make([]*kgo.Record, 0, len(entries))
	for _, e := range entries {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry %d: %w", e.Seq, err)
		}
		records = append(records, &kgo.Record{
			Key:   []byte(RecordKey),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: HeaderSeq, Value: []byte(strconv.FormatUint(e.Seq, 10))},
				{Key: HeaderHash, Value: []byte(e.Hash)},
			},
		})
	}
	return k.client.ProduceSync(ctx, records...).FirstErr()
}

// LastSeq reads the seq header of the newest record on every partition of
// the topic and returns the highest. An empty topic yields 0. The relay
// starts after it so a restart does not replay what the topic already holds.
func (k *KafkaSink) LastSeq(ctx context.Context) (uint64, error) {
	adm := kadm.NewClient(k.client)
	starts, err := adm.ListStartOffsets(ctx, k.topic)
	if err != nil {
		return 0, fmt.Errorf("list start offsets of %s: %w", k.topic, err)
	}
	ends, err := adm.ListEndOffsets(ctx, k.topic)
	if err != nil {
		return 0, fmt.Errorf("list end offsets of %s: %w", k.topic, err)
	}
	if err := ends.Error(); err != nil {
		return 0, fmt.Errorf("list end offsets of %s: %w", k.topic, err)
	}

	// partition -> offset of its newest record
	tails := make(map[int32]int64)
	ends.Each(func(end kadm.ListedOffset) {
		start, ok := starts.Lookup(end.Topic, end.Partition)
		if ok && end.Offset > start.Offset {
			tails[end.Partition] = end.Offset - 1
		}
	})
	if len(tails) == 0 {
		return 0, nil
	}

	assign := make(map[int32]kgo.Offset, len(tails))
	for partition, offset := range tails {
		assign[partition] = kgo.NewOffset().At(offset)
	}
	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(k.brokers...),
		kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{k.topic: assign}),
	)
	if err != nil {
		return 0, fmt.Errorf("create kafka consumer: %w", err)
	}
	defer consumer.Close()

	var last uint64
	var parseErr error
	for len(tails) > 0 {
		fetches := consumer.PollFetches(ctx)
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("read tail of %s: %w", k.topic, err)
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			return 0, fmt.Errorf("read tail of %s/%d: %w", errs[0].Topic, errs[0].Partition, errs[0].Err)
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			tail, ok := tails[rec.Partition]
			if !ok || rec.Offset < tail {
				return
			}
			delete(tails, rec.Partition)
			seq, err := recordSeq(rec)
			if err != nil {
				parseErr = err
				return
			}
			if seq > last {
				last = seq
			}
		})
		if parseErr != nil {
			return 0, parseErr
		}
	}
	return last, nil
}

func recordSeq(rec *kgo.Record) (uint64, error) {
	for _, h := range rec.Headers {
		if h.Key == HeaderSeq {
			seq, err := strconv.ParseUint(string(h.Value), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("record %d/%d: bad %s header: %w", rec.Partition, rec.Offset, HeaderSeq, err)
			}
			return seq, nil
		}
	}
	return 0, fmt.Errorf("record %d/%d has no %s header", rec.Partition, rec.Offset, HeaderSeq)
}

func (k *KafkaSink) Close() {
	k.client.Close()
}
