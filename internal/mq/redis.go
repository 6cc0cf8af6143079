package mq

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github/chapool/tx-signer/internal/util"
)

const (
	fieldKey     = "key"
	fieldPayload = "payload"

	readBlock = 2 * time.Second
	readCount = 10
)

type RedisConsumer struct {
	client *redis.Client
	group  string
	name   string
}

var _ Consumer = (*RedisConsumer)(nil)

func NewRedisConsumer(client *redis.Client, group string, name string) *RedisConsumer {
	return &RedisConsumer{
		client: client,
		group:  group,
		name:   name,
	}
}

// Subscribe reads the stream as a member of the consumer group. Entries left pending by a previous
// run of this consumer are delivered first.
func (c *RedisConsumer) Subscribe(ctx context.Context, topic string, handler Handler) error {
	err := c.client.XGroupCreateMkStream(ctx, topic, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return errors.Wrapf(err, "failed to create consumer group on %s", topic)
	}

	log := util.LogFromContext(ctx)
	log.Info().Str("topic", topic).Str("group", c.group).Str("consumer", c.name).Msg("Consuming redis stream")

	cursor := "0"
	for ctx.Err() == nil {
		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{topic, cursor},
			Count:    readCount,
			Block:    readBlock,
		}).Result()

		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Str("topic", topic).Msg("Failed to read redis stream")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchErrorPause):
			}
			continue
		}

		delivered := 0
		for _, stream := range streams {
			for _, x := range stream.Messages {
				delivered++

				msg, ok := decodeStreamMessage(topic, x)
				if !ok {
					log.Warn().Str("message_id", x.ID).Msg("Dropping stream entry without payload")
					c.ack(ctx, topic, x.ID)
					continue
				}

				if err := deliver(ctx, handler, msg); err != nil {
					return nil //nolint:nilerr // only a cancelled context ends delivery
				}
				c.ack(ctx, topic, x.ID)
			}
		}

		if cursor == "0" && delivered == 0 {
			cursor = ">"
		}
	}

	return nil
}

func (c *RedisConsumer) ack(ctx context.Context, topic string, id string) {
	if err := c.client.XAck(ctx, topic, c.group, id).Err(); err != nil && ctx.Err() == nil {
		util.LogFromContext(ctx).Error().Err(err).Str("message_id", id).Msg("Failed to ack stream entry")
	}
}

func (c *RedisConsumer) Close() error {
	return c.client.Close()
}

func decodeStreamMessage(topic string, x redis.XMessage) (*Message, bool) {
	payload, ok := x.Values[fieldPayload].(string)
	if !ok {
		return nil, false
	}

	key, _ := x.Values[fieldKey].(string)

	return &Message{
		ID:      x.ID,
		Topic:   topic,
		Key:     key,
		Payload: []byte(payload),
	}, true
}

type RedisProducer struct {
	client *redis.Client
}

var _ Producer = (*RedisProducer)(nil)

func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

func (p *RedisProducer) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{
			fieldKey:     key,
			fieldPayload: payload,
		},
	}).Err()
	if err != nil {
		return errors.Wrapf(err, "failed to add to stream %s", topic)
	}

	return nil
}

func (p *RedisProducer) Close() error {
	return p.client.Close()
}
