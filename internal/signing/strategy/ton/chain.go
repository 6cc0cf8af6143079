package ton

import (
	"context"

	"github.com/pkg/errors"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"github/chapool/tx-signer/internal/signing"
)

// Chain reads wallet and jetton state.
type Chain interface {
	// Seqno returns the wallet seqno and whether the wallet contract is deployed.
	Seqno(ctx context.Context, wallet *address.Address) (uint32, bool, error)
	// JettonWallet returns owner's jetton wallet for the jetton master.
	JettonWallet(ctx context.Context, master *address.Address, owner *address.Address) (*address.Address, error)
}

// LiteChain reads state from a liteserver pool.
type LiteChain struct {
	pool *liteclient.ConnectionPool
	api  ton.APIClientWrapped
}

var _ Chain = (*LiteChain)(nil)

// DialLite connects to the liteservers listed in the global config at configURL.
func DialLite(ctx context.Context, configURL string) (*LiteChain, error) {
	pool := liteclient.NewConnectionPool()
	if err := pool.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
		return nil, signing.Transient(err, "failed to connect to liteservers")
	}

	return &LiteChain{
		pool: pool,
		api:  ton.NewAPIClient(pool, ton.ProofCheckPolicyFast).WithRetry(),
	}, nil
}

func (c *LiteChain) Close() {
	c.pool.Stop()
}

func (c *LiteChain) Seqno(ctx context.Context, wallet *address.Address) (uint32, bool, error) {
	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return 0, false, signing.Transient(err, "failed to get masterchain info")
	}

	acc, err := c.api.GetAccount(ctx, block, wallet)
	if err != nil {
		return 0, false, signing.Transient(err, "failed to get wallet account")
	}
	if !acc.IsActive || acc.State == nil || acc.State.Status != tlb.AccountStatusActive {
		return 0, false, nil
	}

	res, err := c.api.RunGetMethod(ctx, block, wallet, "seqno")
	if err != nil {
		return 0, false, signing.Transient(err, "failed to run seqno")
	}

	seq, err := res.Int(0)
	if err != nil {
		return 0, false, errors.Wrap(err, "seqno returned no integer")
	}

	return uint32(seq.Uint64()), true, nil //nolint:gosec
}

func (c *LiteChain) JettonWallet(ctx context.Context, master *address.Address, owner *address.Address) (*address.Address, error) {
	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, signing.Transient(err, "failed to get masterchain info")
	}

	res, err := c.api.RunGetMethod(ctx, block, master, "get_wallet_address", cell.BeginCell().MustStoreAddr(owner).EndCell().BeginParse())
	if err != nil {
		return nil, signing.WrapError(err, signing.CodeInvalidRequest, "jetton master rejected get_wallet_address")
	}

	s, err := res.Slice(0)
	if err != nil {
		return nil, errors.Wrap(err, "get_wallet_address returned no slice")
	}

	addr, err := s.LoadAddr()
	if err != nil {
		return nil, errors.Wrap(err, "get_wallet_address returned no address")
	}

	return addr, nil
}
