package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"frameworks/purser-recharge/pkg/logging"
)

type recordingSink struct {
	mu    sync.Mutex
	sent  []Notification
	err   error
	block chan struct{}
}

func (s *recordingSink) Send(ctx context.Context, n Notification) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeProducer struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
	err     error
}

func (p *fakeProducer) ProduceMessage(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	p.topic, p.key, p.value, p.headers = topic, key, value, headers
	return p.err
}

func sample() Notification {
	return Notification{
		OrganizationID: "org-1",
		Type:           TypeAutoRechargeSucceeded,
		Title:          "Auto-Recharge Successful",
		Message:        "Added 50.00 EUR",
		Severity:       SeverityInfo,
		Category:       CategoryBilling,
		Metadata:       map[string]any{"amount_cents": 5000},
	}
}

func TestDispatcher_DeliversAndSwallowsErrors(t *testing.T) {
	sink := &recordingSink{err: errors.New("db down")}
	d := NewDispatcher(sink, logging.NewDiscardLogger(), DispatcherConfig{})

	d.Notify(sample())
	d.Notify(sample())
	d.Wait()

	require.Equal(t, 2, sink.count())
}

func TestDispatcher_DropsWhenSaturated(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(sink, logging.NewDiscardLogger(), DispatcherConfig{MaxInFlight: 1, SendTimeout: time.Second})

	d.Notify(sample())
	d.Notify(sample())
	close(sink.block)
	d.Wait()

	require.Equal(t, 1, sink.count())
}

func TestDispatcher_SendTimeout(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(sink, logging.NewDiscardLogger(), DispatcherConfig{SendTimeout: 10 * time.Millisecond})

	d.Notify(sample())
	d.Wait()

	require.Equal(t, 0, sink.count())
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("kafka unavailable")}

	err := Multi{ok, nil, failing}.Send(context.Background(), sample())
	require.Error(t, err)
	require.Contains(t, err.Error(), "kafka unavailable")
	require.Equal(t, 1, ok.count())
	require.Equal(t, 1, failing.count())
}

func TestKafkaPublisher_Envelope(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewKafkaPublisher(producer, "billing.events", "purser-recharge")
	pub.now = func() time.Time { return time.Date(2026, 7, 3, 8, 0, 0, 0, time.UTC) }

	require.NoError(t, pub.Send(context.Background(), sample()))
	require.Equal(t, "billing.events", producer.topic)
	require.Equal(t, "org-1", string(producer.key))
	require.Equal(t, TypeAutoRechargeSucceeded, producer.headers["event_type"])

	var event BillingEvent
	require.NoError(t, json.Unmarshal(producer.value, &event))
	require.NotEmpty(t, event.EventID)
	require.Equal(t, "purser-recharge", event.Source)
	require.Equal(t, "org-1", event.OrganizationID)
	require.Equal(t, float64(5000), event.Metadata["amount_cents"])
}

func TestKafkaPublisher_WrapsProducerError(t *testing.T) {
	cause := errors.New("broker not available")
	pub := NewKafkaPublisher(&fakeProducer{err: cause}, "billing.events", "purser-recharge")

	err := pub.Send(context.Background(), sample())
	require.ErrorIs(t, err, cause)
}

func TestPostgresSink_Insert(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	n := sample()
	mock.ExpectExec("INSERT INTO purser.notifications").
		WithArgs(sqlmock.AnyArg(), "org-1", TypeAutoRechargeSucceeded, n.Title, n.Message, SeverityInfo, CategoryBilling, `{"amount_cents":5000}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewPostgresSink(mockDB).Send(context.Background(), n))
	require.NoError(t, mock.ExpectationsWereMet())
}
