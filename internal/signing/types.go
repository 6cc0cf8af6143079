package signing

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/util"
)

type Operation string

const (
	OperationSignTransaction         Operation = "signTransaction"
	OperationSignContractTransaction Operation = "signContractTransaction"
	OperationSignSwapTransaction     Operation = "signSwapTransaction"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationSignTransaction, OperationSignContractTransaction, OperationSignSwapTransaction:
		return true
	default:
		return false
	}
}

type AssetKind string

const (
	AssetCoin        AssetKind = "COIN"
	AssetToken       AssetKind = "TOKEN"
	AssetCustomToken AssetKind = "CUSTOM_TOKEN"
)

// Asset describes what is being moved. Coins have no contract address.
type Asset struct {
	Kind            AssetKind `json:"type"`
	Symbol          string    `json:"symbol,omitempty"`
	ContractAddress string    `json:"contractAddress,omitempty"`
	Decimals        int32     `json:"decimals"`
}

func (a Asset) IsToken() bool {
	return a.Kind == AssetToken || a.Kind == AssetCustomToken
}

type SignerRole string

const (
	RoleSender   SignerRole = "SENDER"
	RoleFeePayer SignerRole = "FEE_PAYER"
)

// Signer names an additional key taking part in the transaction.
type Signer struct {
	Role              SignerRole `json:"role"`
	KeyID             string     `json:"keyId"`
	SecondaryKeyShare string     `json:"secondaryKeyShare,omitempty"`
	CorporateID       string     `json:"corporateId,omitempty"`
}

// Call is one contract invocation. Data is raw calldata for EVM families. Tron takes Method and
// Params (JSON argument list) instead. GasLimit skips estimation when set; EOA batches need it on
// any call that only succeeds after an earlier call of the batch is mined.
type Call struct {
	To       string        `json:"to"`
	Data     hexutil.Bytes `json:"data,omitempty"`
	Value    string        `json:"value,omitempty"`
	Method   string        `json:"method,omitempty"`
	Params   string        `json:"params,omitempty"`
	GasLimit uint64        `json:"gasLimit,omitempty"`
}

// Swap is an aggregator swap. Permit2 holds EIP-712 typed data whose signature is appended to Data.
type Swap struct {
	To        string          `json:"to"`
	Data      hexutil.Bytes   `json:"data"`
	Value     string          `json:"value,omitempty"`
	Permit2   json.RawMessage `json:"permit2,omitempty"`
	Approvals []Call          `json:"approvals,omitempty"`
	GasLimit  uint64          `json:"gasLimit,omitempty"`
}

// Calls returns the approvals followed by the swap itself.
func (s *Swap) Calls() []Call {
	out := make([]Call, 0, len(s.Approvals)+1)
	out = append(out, s.Approvals...)

	return append(out, Call{To: s.To, Data: s.Data, Value: s.Value, GasLimit: s.GasLimit})
}

// Request is one inbound signing request.
type Request struct {
	Operation         Operation       `json:"operation"`
	KeyID             string          `json:"keyId"`
	NetworkID         string          `json:"networkId"`
	CorporateID       string          `json:"corporateId,omitempty"`
	SecondaryKeyShare string          `json:"secondaryKeyShare,omitempty"`
	TransactionID     string          `json:"transactionId"`
	Asset             Asset           `json:"assetDescriptor"`
	To                string          `json:"to,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Memo              string          `json:"memo,omitempty"`
	Signers           []Signer        `json:"signerRoles,omitempty"`
	Calls             []Call          `json:"calls,omitempty"`
	Swap              *Swap           `json:"swap,omitempty"`
}

// FeePayer returns the sponsoring signer if the request names one.
func (r *Request) FeePayer() *Signer {
	for i := range r.Signers {
		if r.Signers[i].Role == RoleFeePayer {
			return &r.Signers[i]
		}
	}

	return nil
}

// Validate checks the fields every family relies on for op.
func (r *Request) Validate(op Operation) error {
	if strings.TrimSpace(r.KeyID) == "" {
		return NewError(CodeInvalidRequest, "keyId is required")
	}
	if strings.TrimSpace(r.NetworkID) == "" {
		return NewError(CodeInvalidRequest, "networkId is required")
	}
	if strings.TrimSpace(r.TransactionID) == "" {
		return NewError(CodeInvalidRequest, "transactionId is required")
	}
	if r.Asset.IsToken() && r.Asset.ContractAddress == "" {
		return NewError(CodeInvalidRequest, "token asset requires contractAddress")
	}
	if r.Asset.Decimals < 0 {
		return NewError(CodeInvalidRequest, "asset decimals must not be negative")
	}

	for _, s := range r.Signers {
		if s.Role != RoleSender && s.Role != RoleFeePayer {
			return NewError(CodeInvalidRequest, "unknown signer role %q", s.Role)
		}
		if s.Role == RoleFeePayer && s.KeyID == "" {
			return NewError(CodeInvalidRequest, "fee payer requires keyId")
		}
	}

	switch op {
	case OperationSignTransaction:
		if strings.TrimSpace(r.To) == "" {
			return NewError(CodeInvalidRequest, "to is required")
		}
		if !r.Amount.IsPositive() {
			return NewError(CodeInvalidRequest, "amount must be positive")
		}
	case OperationSignContractTransaction:
		if len(r.Calls) == 0 {
			return NewError(CodeInvalidRequest, "at least one call is required")
		}
		for i, c := range r.Calls {
			if c.To == "" {
				return NewError(CodeInvalidRequest, "call %d has no target", i)
			}
		}
	case OperationSignSwapTransaction:
		if r.Swap == nil || r.Swap.To == "" || len(r.Swap.Data) == 0 {
			return NewError(CodeInvalidRequest, "swap requires target and calldata")
		}
	default:
		return NewError(CodeInvalidRequest, "unknown operation %q", op)
	}

	return nil
}

// BaseUnits converts the request amount into the smallest unit of the asset on d.
func (r *Request) BaseUnits(d chain.Descriptor) (*big.Int, error) {
	decimals := d.NativeDecimals
	if r.Asset.IsToken() {
		decimals = r.Asset.Decimals
	}

	return ToBaseUnits(r.Amount, decimals)
}

// ToBaseUnits shifts amount by decimals and rejects values that do not fit the unit.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, NewError(CodeInvalidRequest, "amount %s is negative", amount)
	}

	shifted := amount.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, NewError(CodeInvalidRequest, "amount %s has more than %d decimals", amount, decimals)
	}

	return shifted.BigInt(), nil
}

// ParseBaseUnits parses a base-unit integer string. Empty means zero.
func ParseBaseUnits(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}

	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 {
		return nil, NewError(CodeInvalidRequest, "invalid base unit value %q", s)
	}

	return v, nil
}

// KeyMaterial holds the reconstructed keys for one request. Call Wipe when done.
type KeyMaterial struct {
	Sender   []byte
	FeePayer []byte
}

func (k *KeyMaterial) Sponsored() bool {
	return k != nil && len(k.FeePayer) > 0
}

func (k *KeyMaterial) Wipe() {
	if k == nil {
		return
	}

	util.Wipe(k.Sender)
	util.Wipe(k.FeePayer)
}

// Wallet is freshly generated key material. PrivateKey is encoded the way the family's tooling imports it.
type Wallet struct {
	PrivateKey string `json:"privateKey,omitempty"`
	Address    string `json:"address"`
	EOAAddress string `json:"eoaAddress,omitempty"`
}
