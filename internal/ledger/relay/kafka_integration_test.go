//go:build integration

package relay_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"organmatch/internal/ledger"
	"organmatch/internal/ledger/relay"
	"organmatch/pkg/testutil/containers"
)

func TestKafkaRelayDeliversEntriesInOrder(t *testing.T) {
	kafka := containers.NewKafkaContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	const topic = "organmatch.ledger"
	sink, err := relay.NewKafkaSink(kafka.Brokers, topic)
	require.NoError(t, err)
	defer sink.Close()
	require.NoError(t, sink.EnsureTopic(ctx, 1, 1))
	require.NoError(t, sink.EnsureTopic(ctx, 1, 1), "existing topic is not an error")

	l := ledger.New(ledger.NewMemoryStore())
	for i := 0; i < 5; i++ {
		_, err := l.Publish(ctx, ledger.Event{Type: "tick", Payload: i})
		require.NoError(t, err)
	}

	r := relay.New(l, sink)
	n, err := r.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(kafka.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	var got []ledger.Entry
	for len(got) < 5 {
		fetches := consumer.PollFetches(ctx)
		require.NoError(t, ctx.Err())
		fetches.EachRecord(func(rec *kgo.Record) {
			var e ledger.Entry
			require.NoError(t, json.Unmarshal(rec.Value, &e))
			require.Equal(t, relay.RecordKey, string(rec.Key))
			got = append(got, e)
		})
	}
	for i, e := range got {
		require.Equal(t, uint64(i+1), e.Seq)
		require.Equal(t, e.ComputeHash(), e.Hash)
	}
}

func TestKafkaSinkResumesAfterLastProducedSeq(t *testing.T) {
	kafka := containers.NewKafkaContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	const topic = "organmatch.ledger.resume"
	sink, err := relay.NewKafkaSink(kafka.Brokers, topic)
	require.NoError(t, err)
	defer sink.Close()
	require.NoError(t, sink.EnsureTopic(ctx, 3, 1))

	seq, err := sink.LastSeq(ctx)
	require.NoError(t, err)
	require.Zero(t, seq, "empty topic")

	l := ledger.New(ledger.NewMemoryStore())
	for i := 0; i < 4; i++ {
		_, err := l.Publish(ctx, ledger.Event{Type: "tick", Payload: i})
		require.NoError(t, err)
	}
	_, err = relay.New(l, sink).Tick(ctx)
	require.NoError(t, err)

	restarted, err := relay.NewKafkaSink(kafka.Brokers, topic)
	require.NoError(t, err)
	defer restarted.Close()
	seq, err = restarted.LastSeq(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 4, seq)

	_, err = l.Publish(ctx, ledger.Event{Type: "tock", Payload: 5})
	require.NoError(t, err)
	r := relay.New(l, restarted, relay.WithCheckpoint(seq))
	n, err := r.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n, "only the entry past the topic tail is produced")

	seq, err = restarted.LastSeq(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 5, seq)
}
