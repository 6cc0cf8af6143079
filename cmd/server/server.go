package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github/chapool/tx-signer/internal/api"
	"github/chapool/tx-signer/internal/api/router"
	"github/chapool/tx-signer/internal/config"
	"github/chapool/tx-signer/internal/keymaterial"
	"github/chapool/tx-signer/internal/transport"
	"github/chapool/tx-signer/internal/util"
	"github/chapool/tx-signer/internal/util/command"
	"github/chapool/tx-signer/migrations"
)

const (
	transportFlag = "transport"
	consumersFlag = "consumers"
	migrateFlag   = "migrate"
)

type Flags struct {
	Transport string
	Consumers int
	Migrate   bool
}

func New() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Starts the signer",
		Long: `Unlocks the keystore, starts the management API and consumes signing
requests from the configured transport until SIGINT or SIGTERM.

Flags may also be set as SERVER_TRANSPORT, SERVER_CONSUMERS and SERVER_MIGRATE.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := Flags{
				Transport: v.GetString(transportFlag),
				Consumers: v.GetInt(consumersFlag),
				Migrate:   v.GetBool(migrateFlag),
			}

			return runServer(cmd.Context(), config.DefaultServiceConfigFromEnv(), flags)
		},
	}

	cmd.Flags().String(transportFlag, "", "Transport override: kafka, redis or none (default from TRANSPORT_KIND)")
	cmd.Flags().Int(consumersFlag, 1, "Number of concurrent transport consumers")
	cmd.Flags().Bool(migrateFlag, false, "Apply pending migrations before starting")

	v.SetEnvPrefix("server")
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		log.Fatal().Err(err).Msg("Failed to bind server flags")
	}

	return cmd
}

func runServer(ctx context.Context, cfg config.Server, flags Flags) error {
	if flags.Transport != "" {
		if !util.ContainsString([]string{config.TransportKafka, config.TransportRedis, config.TransportNone}, flags.Transport) {
			return errors.Errorf("unknown transport %q", flags.Transport)
		}
		cfg.Transport.Kind = flags.Transport
	}
	if flags.Consumers < 1 {
		flags.Consumers = 1
	}

	return command.WithServer(ctx, cfg, func(ctx context.Context, s *api.Server) error {
		if flags.Migrate {
			n, err := migrate.ExecContext(ctx, s.DB, "postgres", migrations.Source(), migrate.Up)
			if err != nil {
				return errors.Wrap(err, "failed to apply migrations")
			}
			log.Info().Int("count", n).Msg("Migrations applied")
		}

		if err := keymaterial.NewUnlocker(cfg.Keystore, s.Keystore, s.Seeds).Unlock(ctx); err != nil {
			return errors.Wrap(err, "failed to unlock keystore")
		}

		if err := router.Init(s); err != nil {
			return errors.Wrap(err, "failed to initialize router")
		}

		return serve(ctx, s, flags.Consumers)
	})
}

func serve(ctx context.Context, s *api.Server, consumers int) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr, err := newTransport(s.Config.Transport, consumers)
	if err != nil {
		return err
	}
	defer tr.Close()

	errs := make(chan error, len(tr.consumers)+1)

	go func() {
		log.Info().Str("address", s.Config.Echo.ListenAddress).Msg("Starting management API")
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	var wg sync.WaitGroup
	if tr.producer != nil {
		handler := transport.NewHandler(s.Signer, tr.producer, s.Config.Transport.ResponseTopic)

		for i, c := range tr.consumers {
			wg.Add(1)
			go func() {
				defer wg.Done()

				cctx := util.WithLogFields(ctx, map[string]string{"consumer": s.Config.Transport.Kind + "-" + strconv.Itoa(i)})
				if err := c.Subscribe(cctx, s.Config.Transport.RequestTopic, handler.Handle); err != nil && ctx.Err() == nil {
					errs <- errors.Wrap(err, "consumer stopped")
				}
			}()
		}
	} else {
		log.Warn().Msg("No transport configured, serving the management API only")
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	case runErr = <-errs:
		log.Error().Err(runErr).Msg("Server component failed, shutting down")
		stop()
	}

	wg.Wait()

	return runErr
}
