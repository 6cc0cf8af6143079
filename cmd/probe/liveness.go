package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github/chapool/tx-signer/internal/api"
	"github/chapool/tx-signer/internal/config"
	"github/chapool/tx-signer/internal/util/command"
)

const livenessTimeout = 5 * time.Second

func newLiveness() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "liveness",
		Short: "Checks that the database and chain catalog are usable",
		Long: `Wires the service without starting it, pings the database and resolves every catalog network.
Exits non-zero on failure. Suitable as an exec probe.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			verbose, _ := cmd.Flags().GetBool(verboseFlag)

			ctx, cancel := context.WithTimeout(cmd.Context(), livenessTimeout)
			defer cancel()

			return command.WithServer(ctx, config.DefaultServiceConfigFromEnv(), func(ctx context.Context, s *api.Server) error {
				return liveness(ctx, s, verbose)
			})
		},
	}

	cmd.Flags().BoolP(verboseFlag, "v", false, "Print each check")

	return cmd
}

func liveness(ctx context.Context, s *api.Server, verbose bool) error {
	if err := s.DB.PingContext(ctx); err != nil {
		return errors.Wrap(err, "database ping failed")
	}
	if verbose {
		fmt.Println("database: ok")
	}

	for _, id := range s.Chains.Networks() {
		if _, err := s.Chains.Resolve(id); err != nil {
			return err
		}
	}
	if verbose {
		fmt.Printf("catalog: %d networks\n", len(s.Chains.Networks()))
	}

	return nil
}
