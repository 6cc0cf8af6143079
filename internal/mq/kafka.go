package mq

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github/chapool/tx-signer/internal/util"
)

const fetchErrorPause = time.Second

type KafkaConsumer struct {
	brokers []string
	groupID string

	mu      sync.Mutex
	readers []*kafka.Reader
}

var _ Consumer = (*KafkaConsumer)(nil)

func NewKafkaConsumer(brokers []string, groupID string) *KafkaConsumer {
	return &KafkaConsumer{
		brokers: brokers,
		groupID: groupID,
	}
}

// Subscribe reads topic as a member of the consumer group and commits each offset after handler succeeded.
func (c *KafkaConsumer) Subscribe(ctx context.Context, topic string, handler Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.brokers,
		GroupID:     c.groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})

	c.mu.Lock()
	c.readers = append(c.readers, reader)
	c.mu.Unlock()

	log := util.LogFromContext(ctx)
	log.Info().Str("topic", topic).Str("group", c.groupID).Msg("Consuming kafka topic")

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, kafka.ErrGroupClosed) {
				return nil
			}

			log.Error().Err(err).Str("topic", topic).Msg("Failed to fetch kafka message")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchErrorPause):
			}
			continue
		}

		msg := &Message{
			ID:      m.Topic + "/" + strconv.Itoa(m.Partition) + "/" + strconv.FormatInt(m.Offset, 10),
			Topic:   m.Topic,
			Key:     string(m.Key),
			Payload: m.Value,
		}

		if err := deliver(ctx, handler, msg); err != nil {
			return nil //nolint:nilerr // only a cancelled context ends delivery
		}

		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to commit kafka offset")
		}
	}
}

func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var first error
	for _, r := range c.readers {
		if err := r.Close(); err != nil && first == nil {
			first = errors.Wrap(err, "failed to close kafka reader")
		}
	}
	c.readers = nil

	return first
}

type KafkaProducer struct {
	writer *kafka.Writer
}

var _ Producer = (*KafkaProducer)(nil)

// NewKafkaProducer writes to any topic; messages with equal keys land on the same partition.
func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
		},
	}
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to write to kafka topic %s", topic)
	}

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
