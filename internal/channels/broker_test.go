package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeNATS struct {
	subject  string
	data     []byte
	flushErr error
}

func (f *fakeNATS) Publish(subject string, data []byte) error {
	f.subject = subject
	f.data = data
	return nil
}

func (f *fakeNATS) FlushWithContext(context.Context) error { return f.flushErr }

func TestNATSPublishesJSONDigest(t *testing.T) {
	pub := &fakeNATS{}
	ch := &NATS{name: "bus", subject: "latency.anomalies", conn: pub}

	require.NoError(t, ch.Deliver(context.Background(), testDigest(2)))
	assert.Equal(t, "latency.anomalies", pub.subject)

	var payload digestPayload
	require.NoError(t, json.Unmarshal(pub.data, &payload))
	require.Len(t, payload.Anomalies, 2)
	assert.Equal(t, "http://127.0.0.1:5001/slow", payload.Anomalies[0].Endpoint)
	assert.Equal(t, 2000.0, *payload.Anomalies[0].LatencyMs)
	assert.Equal(t, generatedAt, payload.GeneratedAt)
}

func TestNATSFlushFailure(t *testing.T) {
	ch := &NATS{name: "bus", subject: "s", conn: &fakeNATS{flushErr: errors.New("nats: connection closed")}}
	assert.Error(t, ch.Deliver(context.Background(), testDigest(1)))
	assert.NoError(t, ch.Close())
}

type fakeKafkaWriter struct {
	mock.Mock
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	args := f.Called(msgs)
	return args.Error(0)
}

func (f *fakeKafkaWriter) Close() error { return nil }

func TestKafkaWritesOneMessagePerDigest(t *testing.T) {
	fw := &fakeKafkaWriter{}
	fw.On("WriteMessages", mock.MatchedBy(func(msgs []kafkago.Message) bool {
		return len(msgs) == 1 && bytes.Contains(msgs[0].Value, []byte(`"anomaly_score":0.75`))
	})).Return(nil).Once()

	ch := NewKafka("stream", []string{"127.0.0.1:9092"}, "latency-anomalies", 0)
	ch.writer = fw

	require.NoError(t, ch.Deliver(context.Background(), testDigest(3)))
	fw.AssertExpectations(t)
}

func TestKafkaWriteFailure(t *testing.T) {
	fw := &fakeKafkaWriter{}
	fw.On("WriteMessages", mock.Anything).Return(errors.New("leader not available"))

	ch := NewKafka("stream", []string{"127.0.0.1:9092"}, "latency-anomalies", 0)
	ch.writer = fw
	assert.ErrorContains(t, ch.Deliver(context.Background(), testDigest(1)), "leader not available")
}
