package evm

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/util"
	"github/chapool/tx-signer/internal/util/retry"
)

// Backend is the chain state the EVM strategies read.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Client spreads calls over several RPC endpoints. A failing endpoint is rotated out
// and the call retried on the next one within the retry policy.
type Client struct {
	urls    []string
	clients []*ethclient.Client
	policy  retry.Policy
	mu      sync.Mutex
	current int
}

var _ Backend = (*Client)(nil)

// Dial prepares clients for every URL. No request is sent until the first call.
func Dial(ctx context.Context, urls []string, policy retry.Policy, opts ...rpc.ClientOption) (*Client, error) {
	if len(urls) == 0 {
		return nil, signing.Configuration("at least one RPC URL is required")
	}

	clients := make([]*ethclient.Client, 0, len(urls))
	for _, url := range urls {
		rc, err := rpc.DialOptions(ctx, url, opts...)
		if err != nil {
			return nil, signing.Configuration("invalid RPC URL %q: %v", url, err)
		}
		clients = append(clients, ethclient.NewClient(rc))
	}

	return &Client{
		urls:    urls,
		clients: clients,
		policy:  policy,
	}, nil
}

func (c *Client) Close() {
	for _, cl := range c.clients {
		cl.Close()
	}
}

// RPC exposes the raw client of the current endpoint for calls ethclient does not wrap.
func (c *Client) RPC() *rpc.Client {
	cl, _ := c.pick()
	return cl.Client()
}

func (c *Client) pick() (*ethclient.Client, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.clients[c.current], c.current
}

func (c *Client) rotate(failed int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == failed {
		c.current = (c.current + 1) % len(c.clients)
	}
}

func (c *Client) do(ctx context.Context, what string, fn func(ctx context.Context, cl *ethclient.Client) error) error {
	return retry.Do(ctx, c.policy, func(ctx context.Context) error {
		cl, idx := c.pick()

		err := fn(ctx, cl)
		if err == nil {
			return nil
		}

		if classified := classify(err, what); !signing.IsRetryable(classified) {
			return retry.Permanent(classified)
		}

		util.LogFromContext(ctx).Warn().Err(err).Str("url", c.urls[idx]).Str("call", what).Msg("RPC call failed, rotating endpoint")
		c.rotate(idx)

		return signing.Transient(err, what)
	})
}

// classify turns node-side JSON-RPC errors into request errors. Transport failures stay retryable.
func classify(err error, what string) error {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return signing.WrapError(err, signing.CodeTimeout, what)
		}

		return signing.Transient(err, what)
	}

	msg := strings.ToLower(rpcErr.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return signing.WrapError(err, signing.CodeInsufficientFunds, what)
	case strings.Contains(msg, "revert"):
		return signing.WrapError(err, signing.CodeInvalidRequest, what+": execution reverted")
	default:
		return signing.Transient(err, what)
	}
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := c.do(ctx, "eth_chainId", func(ctx context.Context, cl *ethclient.Client) error {
		v, err := cl.ChainID(ctx)
		out = v
		return err
	})

	return out, err
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var out uint64
	err := c.do(ctx, "eth_getTransactionCount", func(ctx context.Context, cl *ethclient.Client) error {
		v, err := cl.PendingNonceAt(ctx, account)
		out = v
		return err
	})

	return out, err
}

func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := c.do(ctx, "eth_maxPriorityFeePerGas", func(ctx context.Context, cl *ethclient.Client) error {
		v, err := cl.SuggestGasTipCap(ctx)
		out = v
		return err
	})

	return out, err
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := c.do(ctx, "eth_gasPrice", func(ctx context.Context, cl *ethclient.Client) error {
		v, err := cl.SuggestGasPrice(ctx)
		out = v
		return err
	})

	return out, err
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var out *types.Header
	err := c.do(ctx, "eth_getBlockByNumber", func(ctx context.Context, cl *ethclient.Client) error {
		v, err := cl.HeaderByNumber(ctx, number)
		out = v
		return err
	})

	return out, err
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var out uint64
	err := c.do(ctx, "eth_estimateGas", func(ctx context.Context, cl *ethclient.Client) error {
		v, err := cl.EstimateGas(ctx, msg)
		out = v
		return err
	})

	return out, err
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.do(ctx, "eth_call", func(ctx context.Context, cl *ethclient.Client) error {
		v, err := cl.CallContract(ctx, msg, blockNumber)
		out = v
		return err
	})

	return out, err
}

func (c *Client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.do(ctx, "eth_getCode", func(ctx context.Context, cl *ethclient.Client) error {
		v, err := cl.CodeAt(ctx, account, blockNumber)
		out = v
		return err
	})

	return out, err
}
