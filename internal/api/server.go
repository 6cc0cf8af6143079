package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github/chapool/tx-signer/internal/config"
	"github/chapool/tx-signer/internal/keymaterial/keystore"
	"github/chapool/tx-signer/internal/keymaterial/seed"
	"github/chapool/tx-signer/internal/metrics"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/signing/nonce"
	"github/chapool/tx-signer/internal/signing/smartaccount"
	"github/chapool/tx-signer/internal/util"

	// Import postgres driver for database/sql package
	_ "github.com/lib/pq"
)

type Router struct {
	Routes     []*echo.Route
	Root       *echo.Group
	Management *echo.Group
	APIV1      *echo.Group
}

// Server is a central struct keeping all the dependencies.
// It is initialized with wire, which handles making the new instances of the components
// in the right order. To add a new component, 3 steps are required:
// - declaring it in this struct
// - adding a provider function in providers.go
// - adding the provider's function name to the arguments of wire.Build() in wire.go
//
// Components labeled as `wire:"-"` will be skipped and have to be initialized after the InitNewServer* call.
// For more information about wire refer to https://pkg.go.dev/github.com/google/wire
type Server struct {
	// skip wire:
	// -> initialized with router.Init(s) function
	Echo   *echo.Echo `wire:"-"`
	Router *Router    `wire:"-"`

	Config   config.Server
	DB       *sql.DB
	Metrics  *metrics.Service
	Chains   *chain.Registry
	Nonces   *nonce.Allocator
	Versions *smartaccount.Store
	Keystore *keystore.Store
	Seeds    seed.Manager
	Signer   *signing.Service
}

// newServerWithComponents is used by wire to initialize the server components.
// Components not listed here won't be handled by wire and should be initialized separately.
// Components which shouldn't be handled must be labeled `wire:"-"` in Server struct.
func newServerWithComponents(
	cfg config.Server,
	db *sql.DB,
	metrics *metrics.Service,
	chains *chain.Registry,
	nonces *nonce.Allocator,
	versions *smartaccount.Store,
	ks *keystore.Store,
	seeds seed.Manager,
	signer *signing.Service,
) *Server {
	return &Server{
		Config:   cfg,
		DB:       db,
		Metrics:  metrics,
		Chains:   chains,
		Nonces:   nonces,
		Versions: versions,
		Keystore: ks,
		Seeds:    seeds,
		Signer:   signer,
	}
}

func NewServer(config config.Server) *Server {
	s := &Server{
		Config: config,
	}

	return s
}

func (s *Server) Ready() bool {
	if err := util.IsStructInitialized(s); err != nil {
		log.Debug().Err(err).Msg("Server is not fully initialized")
		return false
	}

	return true
}

func (s *Server) Start() error {
	if !s.Ready() {
		return errors.New("server is not ready")
	}

	if err := s.Echo.Start(s.Config.Echo.ListenAddress); err != nil {
		return fmt.Errorf("failed to start echo server: %w", err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) []error {
	log.Warn().Msg("Shutting down server")

	var errs []error

	if s.Echo != nil {
		log.Debug().Msg("Shutting down echo server")

		if err := s.Echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Failed to shutdown echo server")
			errs = append(errs, err)
		}
	}

	if s.Seeds != nil {
		log.Debug().Msg("Clearing seed material")
		s.Seeds.Clear()
	}

	if s.DB != nil {
		log.Debug().Msg("Closing database connection")

		if err := s.DB.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			log.Error().Err(err).Msg("Failed to close database connection")
			errs = append(errs, err)
		}
	}

	return errs
}
