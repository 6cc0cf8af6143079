package nonce

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github/chapool/tx-signer/internal/api"
	"github/chapool/tx-signer/internal/config"
	"github/chapool/tx-signer/internal/util/command"
)

const (
	keyIDFlag   = "key-id"
	networkFlag = "network"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("nonce",
		newPeek(),
	)
}

func newPeek() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peek",
		Short: "Prints the last issued nonce of a key on a network without allocating one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			keyID, _ := cmd.Flags().GetString(keyIDFlag)
			networkID, _ := cmd.Flags().GetString(networkFlag)
			if keyID == "" || networkID == "" {
				return errors.New("--key-id and --network are required")
			}

			return command.WithServer(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, s *api.Server) error {
				out, err := peek(ctx, s, keyID, networkID)
				if err != nil {
					return err
				}

				fmt.Println(out)

				return nil
			})
		},
	}

	cmd.Flags().String(keyIDFlag, "", "Private key id")
	cmd.Flags().String(networkFlag, "", "Network id, e.g. ETHEREUM")

	return cmd
}

func peek(ctx context.Context, s *api.Server, keyID string, networkID string) (string, error) {
	if _, err := s.Chains.Resolve(networkID); err != nil {
		return "", err
	}

	last, found, err := s.Nonces.Peek(ctx, keyID, networkID)
	if err != nil {
		return "", err
	}

	if !found {
		return fmt.Sprintf("%s/%s: no nonce issued yet, next is 1", keyID, networkID), nil
	}

	return fmt.Sprintf("%s/%s: last issued %d, next is %d", keyID, networkID, last, last+1), nil
}
