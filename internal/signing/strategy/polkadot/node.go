package polkadot

import (
	"context"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/signing"
)

const transferCall = "Balances.transfer_keep_alive"

// Runtime is the chain state a signed transfer commits to.
type Runtime struct {
	TransferCall       types.CallIndex
	GenesisHash        types.Hash
	SpecVersion        types.U32
	TransactionVersion types.U32
}

// Node reads runtime information and account nonces.
type Node interface {
	Runtime(ctx context.Context) (*Runtime, error)
	AccountNonce(ctx context.Context, accountID []byte) (uint32, error)
}

// RPCNode talks to a substrate node over websocket.
type RPCNode struct {
	api  *gsrpc.SubstrateAPI
	meta *types.Metadata
}

var _ Node = (*RPCNode)(nil)

func DialNode(url string) (*RPCNode, error) {
	api, err := gsrpc.NewSubstrateAPI(url)
	if err != nil {
		return nil, signing.Transient(err, "failed to connect to polkadot node")
	}

	return &RPCNode{api: api}, nil
}

func (n *RPCNode) Close() {
	n.api.Client.Close()
}

func (n *RPCNode) metadata() (*types.Metadata, error) {
	if n.meta != nil {
		return n.meta, nil
	}

	meta, err := n.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return nil, signing.Transient(err, "failed to fetch runtime metadata")
	}
	n.meta = meta

	return meta, nil
}

func (n *RPCNode) Runtime(context.Context) (*Runtime, error) {
	meta, err := n.metadata()
	if err != nil {
		return nil, err
	}

	idx, err := meta.FindCallIndex(transferCall)
	if err != nil {
		return nil, signing.WrapError(err, signing.CodeConfiguration, "runtime has no "+transferCall)
	}

	genesis, err := n.api.RPC.Chain.GetBlockHash(0)
	if err != nil {
		return nil, signing.Transient(err, "failed to fetch genesis hash")
	}

	rv, err := n.api.RPC.State.GetRuntimeVersionLatest()
	if err != nil {
		return nil, signing.Transient(err, "failed to fetch runtime version")
	}

	return &Runtime{
		TransferCall:       idx,
		GenesisHash:        genesis,
		SpecVersion:        rv.SpecVersion,
		TransactionVersion: rv.TransactionVersion,
	}, nil
}

func (n *RPCNode) AccountNonce(_ context.Context, accountID []byte) (uint32, error) {
	meta, err := n.metadata()
	if err != nil {
		return 0, err
	}

	key, err := types.CreateStorageKey(meta, "System", "Account", accountID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to build System.Account storage key")
	}

	var info types.AccountInfo
	ok, err := n.api.RPC.State.GetStorageLatest(key, &info)
	if err != nil {
		return 0, signing.Transient(err, "failed to read account info")
	}
	if !ok {
		return 0, signing.NewError(signing.CodeInsufficientFunds, "account is not funded")
	}

	return uint32(info.Nonce), nil
}
