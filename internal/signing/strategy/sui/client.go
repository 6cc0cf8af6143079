package sui

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/util/retry"
)

// NativeCoinType is the coin type of SUI.
const NativeCoinType = "0x2::sui::SUI"

const coinPageSize = 50

// Coin is an owned coin object with its balance.
type Coin struct {
	CoinType     string `json:"coinType"`
	CoinObjectID string `json:"coinObjectId"`
	Version      string `json:"version"`
	Digest       string `json:"digest"`
	Balance      string `json:"balance"`
}

// Ref converts the RPC representation into an object reference.
func (c Coin) Ref() (ObjectRef, error) {
	var ref ObjectRef

	id, err := ParseAddress(c.CoinObjectID)
	if err != nil {
		return ref, err
	}
	version, err := strconv.ParseUint(c.Version, 10, 64)
	if err != nil {
		return ref, errors.Wrapf(err, "coin %s has invalid version", c.CoinObjectID)
	}
	digest, err := ParseDigest(c.Digest)
	if err != nil {
		return ref, err
	}

	return ObjectRef{ID: id, Version: version, Digest: digest}, nil
}

func (c Coin) Amount() (uint64, error) {
	v, err := strconv.ParseUint(c.Balance, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "coin %s has invalid balance", c.CoinObjectID)
	}

	return v, nil
}

type coinPage struct {
	Data        []Coin  `json:"data"`
	NextCursor  *string `json:"nextCursor"`
	HasNextPage bool    `json:"hasNextPage"`
}

// RPC is the part of the Sui JSON-RPC API the strategy reads.
type RPC interface {
	Coins(ctx context.Context, owner Address, coinType string) ([]Coin, error)
	ReferenceGasPrice(ctx context.Context) (uint64, error)
}

// Client reads coins and gas prices from a full node.
type Client struct {
	rpc    *rpc.Client
	policy retry.Policy
}

var _ RPC = (*Client)(nil)

func Dial(ctx context.Context, url string, httpClient *http.Client, policy retry.Policy) (*Client, error) {
	c, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, signing.Configuration("invalid sui rpc URL: %v", err)
	}

	return &Client{rpc: c, policy: policy}, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

// Coins lists every coin of coinType owned by owner.
func (c *Client) Coins(ctx context.Context, owner Address, coinType string) ([]Coin, error) {
	var (
		out    []Coin
		cursor *string
	)

	for {
		page, err := retry.Value(ctx, c.policy, func(ctx context.Context) (*coinPage, error) {
			var p coinPage
			err := c.rpc.CallContext(ctx, &p, "suix_getCoins", owner.String(), coinType, cursor, coinPageSize)
			return &p, classify(err)
		})
		if err != nil {
			return nil, wrapRPC(err, "suix_getCoins")
		}

		out = append(out, page.Data...)
		if !page.HasNextPage || page.NextCursor == nil {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

func (c *Client) ReferenceGasPrice(ctx context.Context) (uint64, error) {
	price, err := retry.Value(ctx, c.policy, func(ctx context.Context) (string, error) {
		var s string
		err := c.rpc.CallContext(ctx, &s, "suix_getReferenceGasPrice")
		return s, classify(err)
	})
	if err != nil {
		return 0, wrapRPC(err, "suix_getReferenceGasPrice")
	}

	v, err := strconv.ParseUint(price, 10, 64)
	if err != nil {
		return 0, signing.Transient(err, "node returned an invalid gas price")
	}

	return v, nil
}

// classify marks JSON-RPC errors permanent.
func classify(err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return retry.Permanent(err)
	}

	return err
}

func wrapRPC(err error, what string) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return signing.WrapError(err, signing.CodeInvalidRequest, what)
	}

	return signing.Transient(err, what)
}
