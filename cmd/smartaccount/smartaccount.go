package smartaccount

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/tx-signer/internal/api"
	"github/chapool/tx-signer/internal/config"
	"github/chapool/tx-signer/internal/util/command"
)

const keyIDFlag = "key-id"

func New() *cobra.Command {
	return command.NewSubcommandGroup("smartaccount",
		newMarkMigrated(),
	)
}

func newMarkMigrated() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mark-migrated",
		Short: "Records that a key's smart account was upgraded to Nexus",
		Long: `Sets the persisted smart account version of --key-id to the Nexus version.
Run this once the migration user operation of the key has been included on-chain.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keyID, _ := cmd.Flags().GetString(keyIDFlag)
			if keyID == "" {
				return errors.New("--key-id is required")
			}

			return command.WithServer(cmd.Context(), config.DefaultServiceConfigFromEnv(), func(ctx context.Context, s *api.Server) error {
				return markMigrated(ctx, s, keyID)
			})
		},
	}

	cmd.Flags().String(keyIDFlag, "", "Private key id")

	return cmd
}

func markMigrated(ctx context.Context, s *api.Server, keyID string) error {
	before, found, err := s.Versions.GetVersion(ctx, keyID)
	if err != nil {
		return err
	}

	if err := s.Versions.MarkMigrated(ctx, keyID); err != nil {
		return err
	}

	after, _, err := s.Versions.GetVersion(ctx, keyID)
	if err != nil {
		return err
	}

	log.Info().Str("key_id", keyID).Bool("had_record", found).Int("from", before).Int("to", after).Msg("Smart account marked as migrated")

	return nil
}
