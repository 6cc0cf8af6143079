package env

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github/chapool/tx-signer/internal/config"
)

func New() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Prints the resolved configuration",
		Long: `Prints the configuration as resolved from ENV and .env.local as JSON.
Secrets are never printed.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := config.DefaultServiceConfigFromEnv()

			b, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return errors.Wrap(err, "failed to marshal config")
			}

			fmt.Println(string(b))

			return nil
		},
	}
}
