package bitcoin

import (
	"context"
	"math"
	"net/http"
	"strings"

	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/util/httpjson"
	"github/chapool/tx-signer/internal/util/retry"
)

// feeTarget is the confirmation target, in blocks, read from the fee estimates.
const feeTarget = "6"

// UTXO is an unspent output as reported by an Esplora-style explorer.
type UTXO struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  int64  `json:"value"`
	Status struct {
		Confirmed bool `json:"confirmed"`
	} `json:"status"`
}

type Explorer interface {
	UTXOs(ctx context.Context, address string) ([]UTXO, error)
	// FeeRate returns sat/vB for feeTarget.
	FeeRate(ctx context.Context) (int64, error)
}

// RESTExplorer reads the Esplora REST API (/address/{a}/utxo, /fee-estimates).
type RESTExplorer struct {
	baseURL string
	client  *http.Client
	policy  retry.Policy
}

var _ Explorer = (*RESTExplorer)(nil)

func NewRESTExplorer(baseURL string, client *http.Client, policy retry.Policy) *RESTExplorer {
	return &RESTExplorer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		policy:  policy,
	}
}

// BroadcastURL is where the hex transaction is POSTed.
func (e *RESTExplorer) BroadcastURL() string {
	return e.baseURL + "/tx"
}

func (e *RESTExplorer) UTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var out []UTXO
	err := e.get(ctx, "/address/"+address+"/utxo", &out)

	return out, err
}

func (e *RESTExplorer) FeeRate(ctx context.Context) (int64, error) {
	var estimates map[string]float64
	if err := e.get(ctx, "/fee-estimates", &estimates); err != nil {
		return 0, err
	}

	rate, ok := estimates[feeTarget]
	if !ok || rate <= 0 {
		return 0, signing.Transient(nil, "explorer returned no fee estimate for target "+feeTarget)
	}

	return int64(math.Ceil(rate)), nil
}

func (e *RESTExplorer) get(ctx context.Context, path string, out any) error {
	return retry.Do(ctx, e.policy, func(ctx context.Context) error {
		err := httpjson.Get(ctx, e.client, e.baseURL+path, out)
		if err == nil {
			return nil
		}
		if !httpjson.IsTemporary(err) {
			return retry.Permanent(signing.WrapError(err, signing.CodeInvalidRequest, "explorer rejected "+path))
		}

		return signing.Transient(err, "explorer request "+path)
	})
}
