package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/tx-signer/cmd/db"
	"github/chapool/tx-signer/cmd/env"
	"github/chapool/tx-signer/cmd/nonce"
	"github/chapool/tx-signer/cmd/probe"
	"github/chapool/tx-signer/cmd/server"
	"github/chapool/tx-signer/cmd/smartaccount"
	"github/chapool/tx-signer/internal/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Version: config.GetFormattedBuildArgs(),
	Use:     "app",
	Short:   config.ModuleName,
	Long: fmt.Sprintf(`%v

Multi-chain transaction signer. Consumes signing requests from Kafka or
Redis Streams and answers with signed transaction envelopes.
Requires configuration through ENV.`, config.ModuleName),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	// attach the subcommands
	rootCmd.AddCommand(
		db.New(),
		env.New(),
		nonce.New(),
		probe.New(),
		server.New(),
		smartaccount.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Failed to execute root command")
		os.Exit(1)
	}
}
