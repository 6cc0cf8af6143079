package networks

import (
	"github/chapool/tx-signer/internal/signing/chain"
)

// NetworkItem is the public view of a catalog entry. Endpoints stay server-side since they may embed credentials.
type NetworkItem struct {
	NetworkID      string       `json:"networkId"`
	Family         chain.Family `json:"family"`
	ChainID        int64        `json:"chainId,omitempty"`
	IsTestnet      bool         `json:"isTestnet"`
	NativeSymbol   string       `json:"nativeSymbol"`
	NativeDecimals int32        `json:"nativeDecimals"`
	ExplorerURL    string       `json:"explorerUrl,omitempty"`
	SmartAccount   bool         `json:"smartAccount"`
}

type GetNetworksResponse struct {
	Networks []NetworkItem `json:"networks"`
}

func networkItem(d chain.Descriptor) NetworkItem {
	return NetworkItem{
		NetworkID:      d.NetworkID,
		Family:         d.Family,
		ChainID:        d.ChainID,
		IsTestnet:      d.IsTestnet,
		NativeSymbol:   d.NativeSymbol,
		NativeDecimals: d.NativeDecimals,
		ExplorerURL:    d.ExplorerURL,
		SmartAccount:   d.SmartAccount != nil,
	}
}
