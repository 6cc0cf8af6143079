package signing

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/util"
)

// ChainCatalog resolves network ids.
type ChainCatalog interface {
	GetChainFromNetwork(networkID string) (chain.Descriptor, error)
}

// KeyMaterialProvider reconstructs private key bytes. The returned slice is owned by the caller.
type KeyMaterialProvider interface {
	GetFullPrivateKey(ctx context.Context, keyID string, secondaryShare string, corporateID string) ([]byte, error)
}

// Recorder receives per-request outcomes.
type Recorder interface {
	ObserveSign(family chain.Family, op Operation, code Code, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveSign(chain.Family, Operation, Code, time.Duration) {}

// Service turns validated requests into envelopes.
type Service struct {
	catalog    ChainCatalog
	dispatcher *Dispatcher
	keys       KeyMaterialProvider
	recorder   Recorder
	timeout    time.Duration
}

func NewService(catalog ChainCatalog, dispatcher *Dispatcher, keys KeyMaterialProvider, recorder Recorder, timeout time.Duration) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Service{
		catalog:    catalog,
		dispatcher: dispatcher,
		keys:       keys,
		recorder:   recorder,
		timeout:    timeout,
	}
}

func (s *Service) SignTransaction(ctx context.Context, req *Request) *Envelope {
	return s.run(ctx, OperationSignTransaction, req)
}

func (s *Service) SignContractTransaction(ctx context.Context, req *Request) *Envelope {
	return s.run(ctx, OperationSignContractTransaction, req)
}

func (s *Service) SignSwapTransaction(ctx context.Context, req *Request) *Envelope {
	return s.run(ctx, OperationSignSwapTransaction, req)
}

// Handle routes req by its Operation field.
func (s *Service) Handle(ctx context.Context, req *Request) *Envelope {
	if req == nil {
		return NewErrorEnvelope("", NewError(CodeInvalidRequest, "empty request"))
	}

	return s.run(ctx, req.Operation, req)
}

// CreateWallet generates fresh key material for networkID.
func (s *Service) CreateWallet(ctx context.Context, networkID string) (*Wallet, error) {
	descriptor, err := s.catalog.GetChainFromNetwork(networkID)
	if err != nil {
		return nil, err
	}

	strategy, err := s.dispatcher.GetStrategy(ctx, Asset{Kind: AssetCoin}, descriptor)
	if err != nil {
		return nil, err
	}
	defer release(strategy)

	return strategy.CreateWallet(ctx)
}

func (s *Service) run(parent context.Context, op Operation, req *Request) (envelope *Envelope) {
	if req == nil {
		return NewErrorEnvelope("", NewError(CodeInvalidRequest, "empty request"))
	}

	start := time.Now()
	family := chain.Family("")

	ctx := parent
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.timeout)
		defer cancel()
	}

	ctx = util.WithLogFields(ctx, map[string]string{
		"transaction_id": req.TransactionID,
		"network_id":     req.NetworkID,
		"operation":      string(op),
	})
	log := util.LogFromContext(ctx)

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("Strategy panicked")
			envelope = NewErrorEnvelope(req.TransactionID, NewError(CodeInternal, "%v", p))
		}

		code := Code("")
		if envelope.Error != nil {
			code = envelope.Error.Code
		}
		s.recorder.ObserveSign(family, op, code, time.Since(start))
	}()

	result, fam, err := s.sign(ctx, op, req)
	family = fam

	if err != nil {
		if ctx.Err() != nil && CodeOf(err) != CodeTimeout {
			err = WrapError(err, CodeTimeout, "signing deadline exceeded")
		}
		log.Warn().Err(err).Str("family", string(family)).Str("code", string(CodeOf(err))).Msg("Signing request failed")
		return NewErrorEnvelope(req.TransactionID, err)
	}

	result.TransactionID = req.TransactionID
	if err := result.Validate(); err != nil {
		log.Error().Err(err).Str("family", string(family)).Msg("Strategy produced malformed envelope")
		return NewErrorEnvelope(req.TransactionID, WrapError(err, CodeInternal, "malformed envelope"))
	}

	if result.Error != nil {
		log.Warn().Str("family", string(family)).Str("code", string(result.Error.Code)).Msg("Signing request reported an error")
	} else {
		log.Info().Str("family", string(family)).Dur("elapsed", time.Since(start)).Msg("Signed transaction")
	}

	return result
}

func (s *Service) sign(ctx context.Context, op Operation, req *Request) (*Envelope, chain.Family, error) {
	if err := req.Validate(op); err != nil {
		return nil, "", err
	}

	descriptor, err := s.catalog.GetChainFromNetwork(req.NetworkID)
	if err != nil {
		return nil, "", err
	}

	strategy, err := s.dispatcher.GetStrategy(ctx, req.Asset, descriptor)
	if err != nil {
		return nil, descriptor.Family, err
	}
	defer release(strategy)

	keys, err := s.loadKeys(ctx, req)
	if err != nil {
		return nil, descriptor.Family, err
	}
	defer keys.Wipe()

	var envelope *Envelope
	switch op {
	case OperationSignTransaction:
		envelope, err = strategy.SignTransaction(ctx, req, keys)
	case OperationSignContractTransaction:
		envelope, err = strategy.SignContractTransaction(ctx, req, keys)
	case OperationSignSwapTransaction:
		envelope, err = strategy.SignSwapTransaction(ctx, req, keys)
	default:
		err = NewError(CodeInvalidRequest, "unknown operation %q", op)
	}

	if err != nil {
		return nil, descriptor.Family, err
	}
	if envelope == nil {
		return nil, descriptor.Family, NewError(CodeInternal, "%s strategy returned no envelope", descriptor.Family)
	}

	return envelope, descriptor.Family, nil
}

func (s *Service) loadKeys(ctx context.Context, req *Request) (*KeyMaterial, error) {
	sender, err := s.keys.GetFullPrivateKey(ctx, req.KeyID, req.SecondaryKeyShare, req.CorporateID)
	if err != nil {
		return nil, asKeyError(err, "sender")
	}

	keys := &KeyMaterial{Sender: sender}

	if fp := req.FeePayer(); fp != nil {
		corporateID := fp.CorporateID
		if corporateID == "" {
			corporateID = req.CorporateID
		}

		feePayer, err := s.keys.GetFullPrivateKey(ctx, fp.KeyID, fp.SecondaryKeyShare, corporateID)
		if err != nil {
			keys.Wipe()
			return nil, asKeyError(err, "fee payer")
		}
		keys.FeePayer = feePayer
	}

	return keys, nil
}

func asKeyError(err error, who string) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}

	return WrapError(err, CodeKeyReconstruction, fmt.Sprintf("failed to reconstruct %s key", who))
}

func release(strategy Strategy) {
	if c, ok := strategy.(Closer); ok {
		c.Close()
	}
}
