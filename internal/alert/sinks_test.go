package alert

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAlert(id string) Alert {
	return Alert{
		ID:        uuid.New(),
		PatientID: id,
		Direction: High,
		Threshold: 180,
		Values:    []float64{190, 200, 210},
		RaisedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLogSink(t *testing.T) {
	logger, hook := test.NewNullLogger()
	require.NoError(t, LogSink{Log: logrus.NewEntry(logger)}.Send(context.Background(), sampleAlert("P1")))

	e := hook.LastEntry()
	require.NotNil(t, e)
	assert.Equal(t, logrus.WarnLevel, e.Level)
	assert.Contains(t, e.Message, "ALERT: P1 high")
	assert.Equal(t, "P1", e.Data["patient_id"])
}

func TestMultiSink_ContinuesPastFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	rec := &recordSink{}
	m := &MultiSink{
		Sinks: []Sink{
			FuncSink(func(context.Context, Alert) error { return errors.New("boom") }),
			rec,
		},
		Log: logrus.NewEntry(logger),
	}
	err := m.Send(context.Background(), sampleAlert("P1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, rec.all(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

type closerSink struct {
	recordSink
	closed bool
}

func (c *closerSink) Close() error { c.closed = true; return nil }

func TestMultiSink_Close(t *testing.T) {
	c := &closerSink{}
	m := &MultiSink{Sinks: []Sink{c, &recordSink{}}}
	require.NoError(t, m.Close())
	assert.True(t, c.closed)
}

func TestFileSink_WritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "alerts.jsonl")
	s, err := NewFileSink(path, 4, nullLog())
	require.NoError(t, err)

	a1, a2 := sampleAlert("P1"), sampleAlert("P2")
	require.NoError(t, s.Send(context.Background(), a1))
	require.NoError(t, s.Send(context.Background(), a2))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "second close is a no-op")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var got []Alert
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var a Alert
		require.NoError(t, json.Unmarshal(sc.Bytes(), &a))
		got = append(got, a)
	}
	require.Len(t, got, 2)
	assert.Equal(t, a1.ID, got[0].ID)
	assert.Equal(t, "P2", got[1].PatientID)
	assert.Equal(t, a1.Values, got[0].Values)
	assert.True(t, a1.RaisedAt.Equal(got[0].RaisedAt))
}

func TestFileSink_SendAfterClose(t *testing.T) {
	s, err := NewFileSink(filepath.Join(t.TempDir(), "a.jsonl"), 1, nullLog())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Error(t, s.Send(context.Background(), sampleAlert("P1")))
}

// fakeToken is an already completed mqtt.Token.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	d := make(chan struct{})
	close(d)
	return &fakeToken{err: err, done: d}
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakePublisher struct {
	mu      sync.Mutex
	topics  []string
	qos     []byte
	payload [][]byte
	err     error
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.qos = append(p.qos, qos)
	p.payload = append(p.payload, payload.([]byte))
	return newFakeToken(p.err)
}

func TestMQTTSink_PublishesPerPatientTopic(t *testing.T) {
	pub := &fakePublisher{}
	s := NewMQTTSink(pub, MQTTConfig{Topic: "glucose/alerts", QoS: 1})
	a := sampleAlert("P3")
	require.NoError(t, s.Send(context.Background(), a))

	require.Len(t, pub.topics, 1)
	assert.Equal(t, "glucose/alerts/P3", pub.topics[0])
	assert.Equal(t, byte(1), pub.qos[0])

	var got Alert
	require.NoError(t, json.Unmarshal(pub.payload[0], &got))
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, High, got.Direction)
	require.NoError(t, s.Close())
}

func TestMQTTSink_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	s := NewMQTTSink(pub, MQTTConfig{})
	err := s.Send(context.Background(), sampleAlert("P1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestDialMQTT_RequiresBroker(t *testing.T) {
	_, err := DialMQTT(MQTTConfig{}, nullLog())
	assert.Error(t, err)
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { w.closed = true; return nil }

func TestKafkaSink_KeysByPatient(t *testing.T) {
	w := &fakeWriter{}
	s := NewKafkaSink(w)
	a := sampleAlert("P2")
	require.NoError(t, s.Send(context.Background(), a))

	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, "P2", string(m.Key))
	assert.True(t, a.RaisedAt.Equal(m.Time))
	require.Len(t, m.Headers, 1)
	assert.Equal(t, "high", string(m.Headers[0].Value))

	var got Alert
	require.NoError(t, json.Unmarshal(m.Value, &got))
	assert.Equal(t, a.ID, got.ID)

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestKafkaSink_WriteError(t *testing.T) {
	s := NewKafkaSink(&fakeWriter{err: errors.New("leader not available")})
	assert.Error(t, s.Send(context.Background(), sampleAlert("P1")))
}

func TestNewKafkaWriter(t *testing.T) {
	_, err := NewKafkaWriter(nil, "t")
	assert.Error(t, err)

	w, err := NewKafkaWriter([]string{"localhost:9092"}, "")
	require.NoError(t, err)
	assert.Equal(t, "glucose-alerts", w.Topic)
}
