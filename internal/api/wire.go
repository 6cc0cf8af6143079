//go:build wireinject

package api

import (
	"database/sql"
	"testing"

	"github.com/google/wire"
	"github/chapool/tx-signer/internal/config"
	"github/chapool/tx-signer/internal/keymaterial/seed"
	"github/chapool/tx-signer/internal/signing/smartaccount"
)

// INJECTORS - https://github.com/google/wire/blob/main/docs/guide.md#injectors

// serviceSet groups the default set of providers that are required for initing a server
var serviceSet = wire.NewSet(
	newServerWithComponents,
	NewMetrics,
	NewChainRegistry,
	NewNonceAllocator,
	smartaccount.NewStore,
	NewKeystore,
	seed.NewManager,
	signingServiceSet,
)

var signingServiceSet = wire.NewSet(
	NewSigningOptions,
	NewDispatcher,
	NewSigningService,
)

// InitNewServer returns a new Server instance.
func InitNewServer(
	_ config.Server,
) (*Server, error) {
	wire.Build(serviceSet, NewDB, NoTest)
	return new(Server), nil
}

// InitNewServerWithDB returns a new Server instance with the given DB instance.
// All the other components are initialized via go wire according to the configuration.
func InitNewServerWithDB(
	_ config.Server,
	_ *sql.DB,
	t ...*testing.T,
) (*Server, error) {
	wire.Build(serviceSet)
	return new(Server), nil
}
