package erc4337

import (
	"context"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/signing"
)

// GasEstimate is the eth_estimateUserOperationGas result.
type GasEstimate struct {
	PreVerificationGas            *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit          *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit                  *hexutil.Big `json:"callGasLimit"`
	PaymasterVerificationGasLimit *hexutil.Big `json:"paymasterVerificationGasLimit,omitempty"`
}

// Sponsorship is a pm_sponsorUserOperation result. v0.6 paymasters answer with
// paymasterAndData, v0.7 paymasters with the split fields.
type Sponsorship struct {
	PaymasterAndData              hexutil.Bytes   `json:"paymasterAndData,omitempty"`
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
	PreVerificationGas            *hexutil.Big    `json:"preVerificationGas,omitempty"`
	VerificationGasLimit          *hexutil.Big    `json:"verificationGasLimit,omitempty"`
	CallGasLimit                  *hexutil.Big    `json:"callGasLimit,omitempty"`
}

type Bundler interface {
	EstimateUserOperationGas(ctx context.Context, op *UserOperation, entryPoint common.Address) (*GasEstimate, error)
}

type Paymaster interface {
	SponsorUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address) (*Sponsorship, error)
}

// RPCClient talks to a bundler or paymaster over JSON-RPC.
type RPCClient struct {
	rpc *rpc.Client
}

var (
	_ Bundler   = (*RPCClient)(nil)
	_ Paymaster = (*RPCClient)(nil)
)

func DialRPC(ctx context.Context, url string, httpClient *http.Client) (*RPCClient, error) {
	c, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, signing.Configuration("invalid bundler URL: %v", err)
	}

	return &RPCClient{rpc: c}, nil
}

func (c *RPCClient) Close() {
	c.rpc.Close()
}

func (c *RPCClient) EstimateUserOperationGas(ctx context.Context, op *UserOperation, entryPoint common.Address) (*GasEstimate, error) {
	var out GasEstimate
	if err := c.rpc.CallContext(ctx, &out, "eth_estimateUserOperationGas", op, entryPoint); err != nil {
		return nil, classifyBundlerError(err, "eth_estimateUserOperationGas")
	}
	if out.CallGasLimit == nil || out.VerificationGasLimit == nil || out.PreVerificationGas == nil {
		return nil, signing.Transient(errors.New("incomplete gas estimate"), "eth_estimateUserOperationGas")
	}

	return &out, nil
}

func (c *RPCClient) SponsorUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address) (*Sponsorship, error) {
	var out Sponsorship
	ctxArg := map[string]any{"mode": "SPONSORED"}
	if err := c.rpc.CallContext(ctx, &out, "pm_sponsorUserOperation", op, ctxArg, entryPoint); err != nil {
		return nil, classifyBundlerError(err, "pm_sponsorUserOperation")
	}

	return &out, nil
}

// classifyBundlerError maps AA21 (prefund) to insufficient funds and other AA validation codes to
// request errors. Everything else is retried.
func classifyBundlerError(err error, what string) error {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return signing.WrapError(err, signing.CodeTimeout, what)
		}

		return signing.Transient(err, what)
	}

	msg := rpcErr.Error()
	switch {
	case strings.Contains(msg, "AA21"):
		return signing.WrapError(err, signing.CodeInsufficientFunds, what)
	case strings.Contains(msg, "AA2"), strings.Contains(msg, "AA1"):
		return signing.WrapError(err, signing.CodeInvalidRequest, what)
	case rpcErr.ErrorCode() == -32602:
		return signing.WrapError(err, signing.CodeInvalidRequest, what)
	default:
		return signing.Transient(err, what)
	}
}

// applyEstimate copies bundler gas limits onto op.
func applyEstimate(op *UserOperation, est *GasEstimate) {
	op.PreVerificationGas = est.PreVerificationGas.ToInt()
	op.VerificationGasLimit = est.VerificationGasLimit.ToInt()
	op.CallGasLimit = est.CallGasLimit.ToInt()
	if est.PaymasterVerificationGasLimit != nil {
		op.PaymasterVerificationGasLimit = est.PaymasterVerificationGasLimit.ToInt()
	}
}

// applySponsorship copies paymaster fields onto op. Gas limits returned by the paymaster win.
func applySponsorship(op *UserOperation, sp *Sponsorship) error {
	switch {
	case sp.Paymaster != nil:
		pm := *sp.Paymaster
		op.Paymaster = &pm
		op.PaymasterData = sp.PaymasterData
	case len(sp.PaymasterAndData) >= common.AddressLength:
		pm := common.BytesToAddress(sp.PaymasterAndData[:common.AddressLength])
		op.Paymaster = &pm
		op.PaymasterData = append([]byte{}, sp.PaymasterAndData[common.AddressLength:]...)
	default:
		return signing.Transient(errors.New("paymaster returned no paymaster"), "pm_sponsorUserOperation")
	}

	set := func(dst **big.Int, v *hexutil.Big) {
		if v != nil {
			*dst = v.ToInt()
		}
	}
	set(&op.PaymasterVerificationGasLimit, sp.PaymasterVerificationGasLimit)
	set(&op.PaymasterPostOpGasLimit, sp.PaymasterPostOpGasLimit)
	set(&op.PreVerificationGas, sp.PreVerificationGas)
	set(&op.VerificationGasLimit, sp.VerificationGasLimit)
	set(&op.CallGasLimit, sp.CallGasLimit)

	return nil
}

// ExpandURL fills the {chainId} and {apiKey} placeholders of a bundler or paymaster template.
func ExpandURL(template string, chainID int64, apiKey string) (string, error) {
	if template == "" {
		return "", nil
	}
	if strings.Contains(template, "{apiKey}") && apiKey == "" {
		return "", signing.Configuration("API key required for %s", redact(template))
	}

	url := strings.ReplaceAll(template, "{chainId}", strconv.FormatInt(chainID, 10))

	return strings.ReplaceAll(url, "{apiKey}", apiKey), nil
}

func redact(template string) string {
	if i := strings.Index(template, "{"); i > 0 {
		return template[:i]
	}

	return template
}
