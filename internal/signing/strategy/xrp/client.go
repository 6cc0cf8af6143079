package xrp

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/util/httpjson"
	"github/chapool/tx-signer/internal/util/retry"
)

// ErrAccountNotFound is returned for accounts that are not in the ledger.
var ErrAccountNotFound = errors.New("account not found")

// Ledger is the rippled state the strategy reads.
type Ledger interface {
	AccountSequence(ctx context.Context, account string) (uint32, error)
	CurrentLedger(ctx context.Context) (uint32, error)
	// OpenLedgerFee returns the fee in drops for inclusion in the open ledger.
	OpenLedgerFee(ctx context.Context) (uint64, error)
}

// Client calls the rippled JSON-RPC API.
type Client struct {
	url    string
	client *http.Client
	policy retry.Policy
}

var _ Ledger = (*Client)(nil)

func NewClient(url string, client *http.Client, policy retry.Policy) *Client {
	return &Client{url: url, client: client, policy: policy}
}

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type rpcResult struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

func (c *Client) call(ctx context.Context, method string, params map[string]any, out any) error {
	if params == nil {
		params = map[string]any{}
	}

	return retry.Do(ctx, c.policy, func(ctx context.Context) error {
		var envelope struct {
			Result json.RawMessage `json:"result"`
		}

		err := httpjson.Post(ctx, c.client, c.url, rpcRequest{Method: method, Params: []any{params}}, &envelope)
		if err != nil {
			if !httpjson.IsTemporary(err) {
				return retry.Permanent(signing.WrapError(err, signing.CodeInvalidRequest, "rippled rejected "+method))
			}
			return signing.Transient(err, "rippled "+method)
		}

		var status rpcResult
		if err := json.Unmarshal(envelope.Result, &status); err != nil {
			return signing.Transient(err, "rippled returned malformed "+method+" result")
		}

		switch {
		case status.Error == "actNotFound":
			return retry.Permanent(ErrAccountNotFound)
		case status.Error == "tooBusy" || status.Error == "noNetwork" || status.Error == "noCurrent":
			return signing.Transient(errors.New(status.Error), "rippled "+method)
		case status.Status != "success":
			return retry.Permanent(signing.NewError(signing.CodeInvalidRequest, "rippled %s: %s %s", method, status.Error, status.ErrorMessage))
		}

		return errors.Wrapf(json.Unmarshal(envelope.Result, out), "failed to decode %s result", method)
	})
}

func (c *Client) AccountSequence(ctx context.Context, account string) (uint32, error) {
	var res struct {
		AccountData struct {
			Sequence uint32 `json:"Sequence"`
		} `json:"account_data"`
	}

	err := c.call(ctx, "account_info", map[string]any{"account": account, "ledger_index": "current"}, &res)

	return res.AccountData.Sequence, err
}

func (c *Client) CurrentLedger(ctx context.Context) (uint32, error) {
	var res struct {
		LedgerCurrentIndex uint32 `json:"ledger_current_index"`
	}

	err := c.call(ctx, "ledger_current", nil, &res)

	return res.LedgerCurrentIndex, err
}

func (c *Client) OpenLedgerFee(ctx context.Context) (uint64, error) {
	var res struct {
		Drops struct {
			BaseFee       string `json:"base_fee"`
			OpenLedgerFee string `json:"open_ledger_fee"`
		} `json:"drops"`
	}

	if err := c.call(ctx, "fee", nil, &res); err != nil {
		return 0, err
	}

	base, err := strconv.ParseUint(res.Drops.BaseFee, 10, 64)
	if err != nil {
		return 0, signing.Transient(err, "rippled returned malformed base fee")
	}

	open, err := strconv.ParseUint(res.Drops.OpenLedgerFee, 10, 64)
	if err != nil {
		return base, nil //nolint:nilerr
	}

	return max(base, open), nil
}
