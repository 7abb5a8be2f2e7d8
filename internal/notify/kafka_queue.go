package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/klinikgigi/queue-engine/pkg/logging"
)

const DefaultTopic = "queue.appointment.transition.v1"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type KafkaConfig struct {
	Brokers string // comma separated
	Topic   string
	GroupID string
}

func (c KafkaConfig) brokers() []string {
	var out []string
	for _, b := range strings.Split(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (c KafkaConfig) topic() string {
	if c.Topic == "" {
		return DefaultTopic
	}
	return c.Topic
}

// KafkaQueue publishes jobs keyed by appointment id, so the jobs of one
// appointment land on one partition in commit order.
type KafkaQueue struct {
	writer messageWriter
}

func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	brokers := cfg.brokers()
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka queue: no brokers configured")
	}
	return &KafkaQueue{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  cfg.topic(),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}}, nil
}

func (q *KafkaQueue) Enqueue(ctx context.Context, job Job) error {
	msg, err := jobMessage(job)
	if err != nil {
		return err
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (q *KafkaQueue) Close() error {
	return q.writer.Close()
}

func jobMessage(job Job) (kafka.Message, error) {
	raw, err := encodeJob(job)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(job.AppointmentID.String()),
		Value: raw,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(job.ID.String())},
			{Key: "event_type", Value: []byte("appointment." + string(job.To))},
		},
	}, nil
}

// KafkaConsumer reads jobs as a member of a consumer group.
type KafkaConsumer struct {
	reader messageReader
	logger *logging.Logger
}

func NewKafkaConsumer(cfg KafkaConfig, logger *logging.Logger) (*KafkaConsumer, error) {
	brokers := cfg.brokers()
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer: no brokers configured")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "notification-worker"
	}
	if logger == nil {
		logger = logging.Default()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.topic(),
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &KafkaConsumer{reader: reader, logger: logger}, nil
}

func (c *KafkaConsumer) Consume(ctx context.Context, handler Handler) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("kafka read error", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		job, err := decodeJob(msg.Value)
		if err != nil {
			c.logger.Error("dropping malformed notification job", "offset", msg.Offset, "error", err)
			continue
		}
		handler(ctx, job)
	}
}
