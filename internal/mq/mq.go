// Package mq moves signing requests and envelopes over Kafka or Redis Streams.
package mq

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github/chapool/tx-signer/internal/util"
)

// Message is one delivered record.
type Message struct {
	ID      string
	Topic   string
	Key     string
	Payload []byte
}

// Handler processes a message. A returned error leaves the message unacknowledged and it is
// handed to the handler again.
type Handler func(ctx context.Context, msg *Message) error

type Consumer interface {
	// Subscribe blocks, delivering messages of topic to handler until ctx is done.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key string, payload []byte) error
	Close() error
}

const (
	redeliverInitial = 200 * time.Millisecond
	redeliverMax     = 30 * time.Second
)

// deliver runs handler until it succeeds or ctx is done.
func deliver(ctx context.Context, handler Handler, msg *Message) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = redeliverInitial
	exp.MaxInterval = redeliverMax
	exp.MaxElapsedTime = 0

	attempt := 0

	return backoff.Retry(func() error {
		attempt++
		err := handler(ctx, msg)
		if err != nil {
			util.LogFromContext(ctx).Warn().Err(err).
				Str("topic", msg.Topic).
				Str("message_id", msg.ID).
				Int("attempt", attempt).
				Msg("Message handler failed, redelivering")
		}
		return err
	}, backoff.WithContext(exp, ctx))
}
