package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klinikgigi/queue-engine/internal/appointment"
	"github.com/klinikgigi/queue-engine/pkg/logging"
)

func sampleJob() Job {
	return NewJob(appointment.Transition{
		AppointmentID: uuid.New(),
		Clinic:        appointment.ClinicNilai,
		From:          appointment.StatusBooked,
		To:            appointment.StatusCheckedIn,
		Reason:        "front desk",
		At:            time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	})
}

func TestDecodeJobRejectsIncompletePayload(t *testing.T) {
	_, err := decodeJob([]byte(`{"to":"checked_in"}`))
	assert.Error(t, err)
	_, err = decodeJob([]byte(`not json`))
	assert.Error(t, err)

	job := sampleJob()
	raw, err := encodeJob(job)
	require.NoError(t, err)
	got, err := decodeJob(raw)
	require.NoError(t, err)
	assert.Equal(t, job.AppointmentID, got.AppointmentID)
	assert.True(t, job.OccurredAt.Equal(got.OccurredAt))
}

func TestInlineDispatcherDeliversAndDrains(t *testing.T) {
	var mu sync.Mutex
	var got []Job
	d := NewInlineDispatcher(func(_ context.Context, job Job) {
		mu.Lock()
		got = append(got, job)
		mu.Unlock()
	}, 2, 8, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Enqueue(context.Background(), sampleJob()))
	}
	d.Close()

	assert.Len(t, got, 5)
	assert.ErrorIs(t, d.Enqueue(context.Background(), sampleJob()), ErrQueueFull)
}

func TestInlineDispatcherRejectsWhenFull(t *testing.T) {
	release := make(chan struct{})
	d := NewInlineDispatcher(func(context.Context, Job) { <-release }, 1, 1, nil)
	defer func() {
		close(release)
		d.Close()
	}()

	var rejected bool
	for i := 0; i < 5; i++ {
		if errors.Is(d.Enqueue(context.Background(), sampleJob()), ErrQueueFull) {
			rejected = true
			break
		}
	}
	assert.True(t, rejected)
}

func TestRedisQueueRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := NewRedisQueue(client, "", nil).WithBlockTimeout(50 * time.Millisecond)
	_, err := mr.Lpush(DefaultQueueKey, "garbage")
	require.NoError(t, err)
	first, second := sampleJob(), sampleJob()
	require.NoError(t, q.Enqueue(context.Background(), first))
	require.NoError(t, q.Enqueue(context.Background(), second))

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got []uuid.UUID
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, func(_ context.Context, job Job) {
			got = append(got, job.ID)
			if len(got) == 2 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, got, "fifo order, malformed job dropped")
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	msgs []kafka.Message
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) Close() error { return nil }

func TestKafkaQueueKeysByAppointment(t *testing.T) {
	w := &fakeWriter{}
	q := &KafkaQueue{writer: w}
	job := sampleJob()

	require.NoError(t, q.Enqueue(context.Background(), job))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, job.AppointmentID.String(), string(msg.Key))
	assert.Contains(t, msg.Headers, kafka.Header{Key: "event_type", Value: []byte("appointment.checked_in")})

	var decoded Job
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, job.ID, decoded.ID)

	w.err = errors.New("broker down")
	assert.Error(t, q.Enqueue(context.Background(), job))
}

func TestKafkaConsumerSkipsMalformed(t *testing.T) {
	good, err := jobMessage(sampleJob())
	require.NoError(t, err)
	r := &fakeReader{msgs: []kafka.Message{{Value: []byte("{}")}, good}}
	c := &KafkaConsumer{reader: r, logger: logging.Default()}

	ctx, cancel := context.WithCancel(context.Background())
	var got []Job
	err = c.Consume(ctx, func(_ context.Context, job Job) {
		got = append(got, job)
		cancel()
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, appointment.StatusCheckedIn, got[0].To)
}

func TestNewKafkaQueueRequiresBrokers(t *testing.T) {
	_, err := NewKafkaQueue(KafkaConfig{Brokers: " , "})
	assert.Error(t, err)
	assert.Equal(t, []string{"a:9092", "b:9092"}, KafkaConfig{Brokers: "a:9092, b:9092"}.brokers())
	assert.Equal(t, DefaultTopic, KafkaConfig{}.topic())
}

func TestWebhookSender(t *testing.T) {
	var body map[string]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "secret")
	require.NoError(t, s.Send(context.Background(), "+60123456789", "hello"))
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, map[string]string{"to": "+60123456789", "body": "hello"}, body)
}

func TestWebhookSenderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	assert.ErrorContains(t, NewWebhookSender(srv.URL, "").Send(context.Background(), "1", "x"), "502")
	assert.Error(t, NewWebhookSender("", "").Send(context.Background(), "1", "x"))
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("m-1")}, nil
}

func TestSESSender(t *testing.T) {
	api := &fakeSES{}
	s := newSESSender(api, SESConfig{FromEmail: "noreply@klinik.test"}, nil)

	err := s.Send(context.Background(), EmailMessage{To: "p@example.com", Subject: "Hi", Body: "Body"})
	require.NoError(t, err)
	assert.Equal(t, "Klinik Pergigian <noreply@klinik.test>", aws.ToString(api.input.FromEmailAddress))
	assert.Equal(t, []string{"p@example.com"}, api.input.Destination.ToAddresses)
	assert.Equal(t, "Body", aws.ToString(api.input.Content.Simple.Body.Text.Data))

	api.err = errors.New("throttled")
	assert.Error(t, s.Send(context.Background(), EmailMessage{To: "p@example.com"}))
	assert.Nil(t, NewSESSender(nil, SESConfig{}, nil))
}

func TestSendGridSenderNeedsKey(t *testing.T) {
	assert.Nil(t, NewSendGridSender(SendGridConfig{}, nil))
	var s *SendGridSender
	assert.Error(t, s.Send(context.Background(), EmailMessage{}))
}
