package signing

import (
	"context"

	"github/chapool/tx-signer/internal/signing/chain"
)

// Dispatcher maps protocol families to strategy factories.
type Dispatcher struct {
	factories map[chain.Family]Factory
	nonces    NonceAllocator
	versions  VersionStore
	options   Options
}

func NewDispatcher(factories map[chain.Family]Factory, nonces NonceAllocator, versions VersionStore, options Options) *Dispatcher {
	table := make(map[chain.Family]Factory, len(factories))
	for f, fn := range factories {
		table[f] = fn
	}

	return &Dispatcher{
		factories: table,
		nonces:    nonces,
		versions:  versions,
		options:   options,
	}
}

// GetStrategy builds and initializes a request-scoped strategy for the descriptor's family.
//
//nolint:ireturn // strategies are selected at runtime
func (d *Dispatcher) GetStrategy(ctx context.Context, asset Asset, descriptor chain.Descriptor) (Strategy, error) {
	factory, ok := d.factories[descriptor.Family]
	if !ok {
		return nil, NewError(CodeUnsupportedProtocol, "no strategy for family %q of network %s", descriptor.Family, descriptor.NetworkID)
	}

	return factory(ctx, Env{
		Chain:    descriptor.Clone(),
		Asset:    asset,
		Nonces:   d.nonces,
		Versions: d.versions,
		Options:  d.options,
	})
}

// Families returns the families with a registered strategy.
func (d *Dispatcher) Families() []chain.Family {
	out := make([]chain.Family, 0, len(d.factories))
	for _, f := range chain.Families() {
		if _, ok := d.factories[f]; ok {
			out = append(out, f)
		}
	}

	return out
}
