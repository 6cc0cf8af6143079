package erc4337

// AccountType is the smart account generation that signs a user operation.
type AccountType int

const (
	AccountV2 AccountType = iota
	AccountNexus
)

func (t AccountType) String() string {
	if t == AccountNexus {
		return "nexus"
	}

	return "v2"
}

// Observation is what is known about a key's smart account when a request arrives.
type Observation struct {
	NexusSupported bool
	// PersistedVersion is the stored version of the key, 0 when none is stored.
	PersistedVersion int
	V2Deployed       bool
	NexusDeployed    bool
}

// Decision is the account chosen for one request.
type Decision struct {
	Account       AccountType
	ShouldMigrate bool
}

// Decide maps an observation to an account. It never migrates an undeployed account.
//
//	Nexus unsupported                 -> V2
//	persisted version >= 1            -> Nexus
//	V2 not deployed                   -> V2 (deployed by this operation)
//	V2 deployed, Nexus active         -> Nexus
//	V2 deployed, Nexus not active     -> V2, migrate in the same batch
func Decide(o Observation) Decision {
	switch {
	case !o.NexusSupported:
		return Decision{Account: AccountV2}
	case o.PersistedVersion >= 1:
		return Decision{Account: AccountNexus}
	case !o.V2Deployed:
		return Decision{Account: AccountV2}
	case o.NexusDeployed:
		return Decision{Account: AccountNexus}
	default:
		return Decision{Account: AccountV2, ShouldMigrate: true}
	}
}
