package server

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github/chapool/tx-signer/internal/config"
	"github/chapool/tx-signer/internal/mq"
)

type transportSet struct {
	consumers []mq.Consumer
	producer  mq.Producer
}

// newTransport builds n consumers and one producer for cfg.Kind. Kind none yields an empty set.
func newTransport(cfg config.Transport, n int) (*transportSet, error) {
	t := &transportSet{}

	switch cfg.Kind {
	case config.TransportKafka:
		if len(cfg.Brokers) == 0 {
			return nil, errors.New("kafka transport requires TRANSPORT_KAFKA_BROKERS")
		}

		// one consumer holds a reader per subscription, all in the same group
		c := mq.NewKafkaConsumer(cfg.Brokers, cfg.GroupID)
		for range n {
			t.consumers = append(t.consumers, c)
		}
		t.producer = mq.NewKafkaProducer(cfg.Brokers)

	case config.TransportRedis:
		for i := range n {
			name := cfg.ConsumerName
			if n > 1 {
				name += "-" + strconv.Itoa(i)
			}
			t.consumers = append(t.consumers, mq.NewRedisConsumer(newRedisClient(cfg), cfg.GroupID, name))
		}
		t.producer = mq.NewRedisProducer(newRedisClient(cfg))

	case config.TransportNone:

	default:
		return nil, errors.Errorf("unknown transport %q", cfg.Kind)
	}

	return t, nil
}

func newRedisClient(cfg config.Transport) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// Close releases every consumer once and the producer.
func (t *transportSet) Close() {
	seen := make(map[mq.Consumer]bool, len(t.consumers))
	for _, c := range t.consumers {
		if seen[c] {
			continue
		}
		seen[c] = true

		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close transport consumer")
		}
	}

	if t.producer != nil {
		if err := t.producer.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close transport producer")
		}
	}
}
