// Package transport connects the signing service to the message bus.
package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/mq"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/util"
	"github/chapool/tx-signer/internal/util/retry"
)

// Signer handles one request by its operation.
type Signer interface {
	Handle(ctx context.Context, req *signing.Request) *signing.Envelope
}

// Inbound is the message published to the request topic.
type Inbound struct {
	Operation signing.Operation `json:"operation"`
	Request   *signing.Request  `json:"request"`
}

// Handler signs inbound requests and publishes each envelope to the reply topic keyed by transaction id.
// A message is signed at most once: an envelope whose publish failed is kept until a redelivery of
// the same message publishes it.
type Handler struct {
	signer        Signer
	producer      mq.Producer
	replyTopic    string
	publishPolicy retry.Policy

	mu      sync.Mutex
	pending map[string]*reply
}

type reply struct {
	key     string
	payload []byte
}

type Option func(h *Handler)

// WithPublishRetry bounds the publish attempts made within one delivery.
func WithPublishRetry(p retry.Policy) Option {
	return func(h *Handler) {
		h.publishPolicy = p
	}
}

func NewHandler(signer Signer, producer mq.Producer, replyTopic string, opts ...Option) *Handler {
	h := &Handler{
		signer:        signer,
		producer:      producer,
		replyTopic:    replyTopic,
		publishPolicy: retry.Policy{Attempts: 5, BaseDelay: 100 * time.Millisecond},
		pending:       make(map[string]*reply),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Pending returns the number of signed envelopes still waiting to be published.
func (h *Handler) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.pending)
}

// Handle implements mq.Handler. Only publish failures are returned, so malformed messages are
// acknowledged once they are answered or logged.
func (h *Handler) Handle(ctx context.Context, msg *mq.Message) error {
	ctx = util.WithLogFields(ctx, map[string]string{"message_id": msg.ID})
	log := util.LogFromContext(ctx)

	id := msg.Topic + "/" + msg.ID
	if r := h.takePending(id); r != nil {
		log.Info().Str("transaction_id", r.key).Msg("Republishing envelope signed on an earlier delivery")
		return h.send(ctx, id, r)
	}

	var in Inbound
	err := json.Unmarshal(msg.Payload, &in)
	if err == nil && in.Request == nil {
		err = errors.New("message has no request")
	}
	if err != nil {
		txID := recoverTransactionID(msg)
		if txID == "" {
			log.Error().Err(err).Msg("Dropping malformed message without transaction id")
			return nil
		}

		log.Warn().Err(err).Str("transaction_id", txID).Msg("Answering malformed message with an error envelope")
		return h.publish(ctx, id, signing.NewErrorEnvelope(txID, signing.WrapError(err, signing.CodeInvalidRequest, "malformed message")))
	}

	req := in.Request
	if in.Operation != "" {
		req.Operation = in.Operation
	}

	return h.publish(ctx, id, h.signer.Handle(ctx, req))
}

func (h *Handler) publish(ctx context.Context, id string, env *signing.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		payload, err = json.Marshal(signing.NewErrorEnvelope(env.TransactionID, signing.WrapError(err, signing.CodeInternal, "envelope is not serializable")))
		if err != nil {
			return errors.Wrap(err, "failed to marshal error envelope")
		}
	}

	return h.send(ctx, id, &reply{key: env.TransactionID, payload: payload})
}

// send publishes r with bounded retries. On failure r is parked under id for the next delivery.
func (h *Handler) send(ctx context.Context, id string, r *reply) error {
	err := retry.Do(ctx, h.publishPolicy, func(ctx context.Context) error {
		return h.producer.Publish(ctx, h.replyTopic, r.key, r.payload)
	})
	if err != nil {
		h.mu.Lock()
		h.pending[id] = r
		h.mu.Unlock()

		return errors.Wrap(err, "failed to publish envelope")
	}

	return nil
}

func (h *Handler) takePending(id string) *reply {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.pending[id]
	if !ok {
		return nil
	}
	delete(h.pending, id)

	return r
}

// recoverTransactionID reads just the transaction id out of a payload that failed to decode,
// falling back to the message key.
func recoverTransactionID(msg *mq.Message) string {
	var partial struct {
		Request struct {
			TransactionID string `json:"transactionId"`
		} `json:"request"`
	}
	if err := json.Unmarshal(msg.Payload, &partial); err == nil && partial.Request.TransactionID != "" {
		return partial.Request.TransactionID
	}

	return msg.Key
}
