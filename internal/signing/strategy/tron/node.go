package tron

import (
	"context"
	"time"

	"github.com/fbsobreira/gotron-sdk/pkg/client"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/api"
	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/signing"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const dialTimeout = 15 * time.Second

// Node builds unsigned transactions on a full node.
type Node interface {
	Transfer(from string, to string, amount int64) (*api.TransactionExtention, error)
	TriggerContract(from string, contract string, method string, params string,
		feeLimit int64, callValue int64, tokenID string, tokenValue int64) (*api.TransactionExtention, error)
}

// GRPCNode is a Node backed by the gotron gRPC client.
type GRPCNode struct {
	*client.GrpcClient
}

var _ Node = (*GRPCNode)(nil)

// Dial connects to addr. TronGrid endpoints take the API key as request metadata.
func Dial(addr string, apiKey string) (*GRPCNode, error) {
	c := client.NewGrpcClientWithTimeout(addr, dialTimeout)
	if apiKey != "" {
		if err := c.SetAPIKey(apiKey); err != nil {
			return nil, signing.WrapError(err, signing.CodeConfiguration, "invalid tron api key")
		}
	}

	if err := c.Start(grpc.WithTransportCredentials(insecure.NewCredentials())); err != nil {
		return nil, signing.Transient(err, "failed to connect to tron node "+addr)
	}

	return &GRPCNode{GrpcClient: c}, nil
}

func (n *GRPCNode) Close() {
	n.Stop()
}

// build runs fn and classifies its failure.
func build(ctx context.Context, what string, fn func() (*api.TransactionExtention, error)) (*api.TransactionExtention, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext, err := fn()
	if err != nil {
		switch status.Code(errors.Cause(err)) {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return nil, signing.Transient(err, what)
		default:
			return nil, signing.WrapError(err, signing.CodeInvalidRequest, what)
		}
	}

	if ext == nil || ext.GetTransaction() == nil || ext.GetTransaction().GetRawData() == nil {
		return nil, signing.NewError(signing.CodeTransientRPC, "%s: node returned no transaction", what)
	}

	if r := ext.GetResult(); r != nil && r.GetCode() != api.Return_SUCCESS {
		msg := string(r.GetMessage())
		if r.GetCode() == api.Return_CONTRACT_VALIDATE_ERROR && containsBalance(msg) {
			return nil, signing.NewError(signing.CodeInsufficientFunds, "%s: %s", what, msg)
		}

		return nil, signing.NewError(signing.CodeInvalidRequest, "%s: %s: %s", what, r.GetCode(), msg)
	}

	return ext, nil
}
