package erc4337

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/signing/strategy/evm"
)

// Contracts are the parsed smart account addresses of one network.
type Contracts struct {
	NexusSupported      bool
	EntryPointV6        common.Address
	EntryPointV7        common.Address
	V2Factory           common.Address
	V2ECDSAModule       common.Address
	NexusImplementation common.Address
	NexusBootstrap      common.Address
	NexusK1Validator    common.Address
	NexusRegistry       common.Address
}

// ParseContracts validates cfg. Nexus addresses are only required when the upgrade is supported.
func ParseContracts(cfg *chain.SmartAccountConfig) (Contracts, error) {
	if cfg == nil {
		return Contracts{}, signing.Configuration("smart account contracts are not configured")
	}

	var c Contracts
	var err error
	parse := func(name string, s string, dst *common.Address) {
		if err != nil {
			return
		}
		if !common.IsHexAddress(s) {
			err = signing.Configuration("smart account %s %q is not an address", name, s)
			return
		}
		*dst = common.HexToAddress(s)
	}

	parse("entry_point_v6", cfg.EntryPointV6, &c.EntryPointV6)
	parse("v2_factory", cfg.V2Factory, &c.V2Factory)
	parse("v2_ecdsa_module", cfg.V2ECDSAModule, &c.V2ECDSAModule)

	c.NexusSupported = cfg.NexusSupported
	if cfg.NexusSupported {
		parse("entry_point_v7", cfg.EntryPointV7, &c.EntryPointV7)
		parse("nexus_implementation", cfg.NexusImplementation, &c.NexusImplementation)
		parse("nexus_bootstrap", cfg.NexusBootstrap, &c.NexusBootstrap)
		parse("nexus_k1_validator", cfg.NexusK1Validator, &c.NexusK1Validator)
		if cfg.NexusRegistry != "" {
			parse("nexus_registry", cfg.NexusRegistry, &c.NexusRegistry)
		}
	}

	return c, err
}

// Accounts answers questions about a key's smart account on chain.
type Accounts struct {
	backend   evm.Backend
	contracts Contracts
}

func NewAccounts(backend evm.Backend, contracts Contracts) *Accounts {
	return &Accounts{backend: backend, contracts: contracts}
}

func (a *Accounts) moduleSetupData(owner common.Address) ([]byte, error) {
	return pack("initForSmartAccount", owner)
}

// V2Address returns the counterfactual v2 address of owner at index 0.
func (a *Accounts) V2Address(ctx context.Context, owner common.Address) (common.Address, error) {
	setup, err := a.moduleSetupData(owner)
	if err != nil {
		return common.Address{}, err
	}

	data, err := pack("getAddressForCounterFactualAccount", a.contracts.V2ECDSAModule, setup, new(big.Int))
	if err != nil {
		return common.Address{}, err
	}

	factory := a.contracts.V2Factory
	out, err := a.backend.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, err
	}

	values, err := accountABI.Unpack("getAddressForCounterFactualAccount", out)
	if err != nil {
		return common.Address{}, signing.Transient(err, "failed to decode factory response")
	}

	var addr common.Address
	if len(values) == 1 {
		addr, _ = values[0].(common.Address)
	}
	if addr == (common.Address{}) {
		return common.Address{}, signing.Transient(errors.New("factory returned no address"), "getAddressForCounterFactualAccount")
	}

	return addr, nil
}

// InitCode returns the factory and calldata deploying owner's v2 account.
func (a *Accounts) InitCode(owner common.Address) (common.Address, []byte, error) {
	setup, err := a.moduleSetupData(owner)
	if err != nil {
		return common.Address{}, nil, err
	}

	data, err := pack("deployCounterFactualAccount", a.contracts.V2ECDSAModule, setup, new(big.Int))
	if err != nil {
		return common.Address{}, nil, err
	}

	return a.contracts.V2Factory, data, nil
}

func (a *Accounts) IsDeployed(ctx context.Context, account common.Address) (bool, error) {
	code, err := a.backend.CodeAt(ctx, account, nil)
	if err != nil {
		return false, err
	}

	return len(code) > 0, nil
}

// IsNexus reports whether account already runs the Nexus implementation. v2 accounts
// have no accountId and revert.
func (a *Accounts) IsNexus(ctx context.Context, account common.Address) (bool, error) {
	data, err := pack("accountId")
	if err != nil {
		return false, err
	}

	out, err := a.backend.CallContract(ctx, ethereum.CallMsg{To: &account, Data: data}, nil)
	if err != nil {
		if signing.CodeOf(err) == signing.CodeInvalidRequest {
			return false, nil
		}

		return false, err
	}
	if len(out) == 0 {
		return false, nil
	}

	values, err := accountABI.Unpack("accountId", out)
	if err != nil || len(values) != 1 {
		return false, nil //nolint:nilerr // undecodable means not a Nexus account
	}

	id, _ := values[0].(string)

	return strings.Contains(strings.ToLower(id), "nexus"), nil
}

// Observe gathers the inputs of Decide.
func (a *Accounts) Observe(ctx context.Context, keyID string, account common.Address, versions signing.VersionStore) (Observation, error) {
	obs := Observation{NexusSupported: a.contracts.NexusSupported}
	if !obs.NexusSupported {
		return obs, nil
	}

	if versions != nil {
		version, found, err := versions.GetVersion(ctx, keyID)
		if err != nil {
			return obs, signing.WrapError(err, signing.CodeInternal, "failed to read smart account version")
		}
		if found {
			obs.PersistedVersion = version
		}
	}
	if obs.PersistedVersion >= 1 {
		return obs, nil
	}

	deployed, err := a.IsDeployed(ctx, account)
	if err != nil {
		return obs, err
	}
	obs.V2Deployed = deployed
	if !deployed {
		return obs, nil
	}

	obs.NexusDeployed, err = a.IsNexus(ctx, account)

	return obs, err
}

// personalHash is the EIP-191 digest both account generations verify.
func personalHash(hash []byte) []byte {
	return accounts.TextHash(hash)
}
