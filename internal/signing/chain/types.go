package chain

import "slices"

// Family is the protocol family a network belongs to. The set is closed.
type Family string

const (
	FamilyEVM      Family = "EVM"
	FamilyERC4337  Family = "EVM_ERC4337"
	FamilyBitcoin  Family = "BITCOIN"
	FamilyTron     Family = "TRON"
	FamilySolana   Family = "SOLANA"
	FamilyStellar  Family = "STELLAR"
	FamilyXRP      Family = "XRP"
	FamilyTON      Family = "TON"
	FamilySui      Family = "SUI"
	FamilyPolkadot Family = "POLKADOT"
)

// Families lists every known protocol family.
func Families() []Family {
	return []Family{
		FamilyEVM, FamilyERC4337, FamilyBitcoin, FamilyTron, FamilySolana,
		FamilyStellar, FamilyXRP, FamilyTON, FamilySui, FamilyPolkadot,
	}
}

func (f Family) Valid() bool {
	return slices.Contains(Families(), f)
}

// BundlerConfig holds ERC-4337 bundler URL templates. {chainId} and {apiKey} are substituted at init.
type BundlerConfig struct {
	V2URL string `toml:"v2_url" json:"v2Url"`
	V3URL string `toml:"v3_url" json:"v3Url"`
}

// PaymasterConfig holds paymaster URL templates per entry point generation.
type PaymasterConfig struct {
	V2URL string `toml:"v2_url" json:"v2Url"`
	V3URL string `toml:"v3_url" json:"v3Url"`
}

// SmartAccountConfig carries the contract addresses used by the smart account strategy.
type SmartAccountConfig struct {
	NexusSupported      bool   `toml:"nexus_supported" json:"nexusSupported"`
	EntryPointV6        string `toml:"entry_point_v6" json:"entryPointV6"`
	EntryPointV7        string `toml:"entry_point_v7" json:"entryPointV7"`
	V2Factory           string `toml:"v2_factory" json:"v2Factory"`
	V2ECDSAModule       string `toml:"v2_ecdsa_module" json:"v2EcdsaModule"`
	NexusImplementation string `toml:"nexus_implementation" json:"nexusImplementation"`
	NexusBootstrap      string `toml:"nexus_bootstrap" json:"nexusBootstrap"`
	NexusK1Validator    string `toml:"nexus_k1_validator" json:"nexusK1Validator"`
	NexusRegistry       string `toml:"nexus_registry" json:"nexusRegistry"`
}

// Descriptor is the immutable description of one network.
type Descriptor struct {
	NetworkID      string   `toml:"id" json:"networkId"`
	Family         Family   `toml:"family" json:"family"`
	ChainID        int64    `toml:"chain_id" json:"chainId,omitempty"`
	IsTestnet      bool     `toml:"testnet" json:"isTestnet"`
	NativeSymbol   string   `toml:"native_symbol" json:"nativeSymbol"`
	NativeDecimals int32    `toml:"native_decimals" json:"nativeDecimals"`
	RPCEndpoints   []string `toml:"rpc" json:"rpcEndpoints"`
	ExplorerURL    string   `toml:"explorer" json:"explorerUrl,omitempty"`

	Bundler      *BundlerConfig      `toml:"bundler" json:"bundler,omitempty"`
	Paymaster    *PaymasterConfig    `toml:"paymaster" json:"paymaster,omitempty"`
	SmartAccount *SmartAccountConfig `toml:"smart_account" json:"smartAccount,omitempty"`

	// BitcoinNet selects chaincfg params: mainnet, testnet3, signet or regtest.
	BitcoinNet        string `toml:"bitcoin_net" json:"bitcoinNet,omitempty"`
	NetworkPassphrase string `toml:"network_passphrase" json:"networkPassphrase,omitempty"`
	SS58Prefix        uint16 `toml:"ss58_prefix" json:"ss58Prefix,omitempty"`
	// LiteConfigURL is the TON global config used to discover liteservers.
	LiteConfigURL string `toml:"lite_config_url" json:"liteConfigUrl,omitempty"`
}

// PrimaryRPC returns the first configured RPC endpoint or "".
func (d Descriptor) PrimaryRPC() string {
	if len(d.RPCEndpoints) == 0 {
		return ""
	}

	return d.RPCEndpoints[0]
}

// Clone returns a deep copy so callers can never mutate registry state.
func (d Descriptor) Clone() Descriptor {
	c := d
	c.RPCEndpoints = slices.Clone(d.RPCEndpoints)

	if d.Bundler != nil {
		b := *d.Bundler
		c.Bundler = &b
	}
	if d.Paymaster != nil {
		p := *d.Paymaster
		c.Paymaster = &p
	}
	if d.SmartAccount != nil {
		sa := *d.SmartAccount
		c.SmartAccount = &sa
	}

	return c
}
