package smartaccount

import (
	"context"
	"database/sql"

	"github.com/aarondl/sqlboiler/v4/queries"
	"github.com/pkg/errors"
)

const (
	VersionV2    = 0
	VersionNexus = 1
)

type versionRow struct {
	Version int `boil:"version"`
}

// Store persists the smart account generation of each key.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetVersion returns the recorded version; found is false when the key has no record.
func (s *Store) GetVersion(ctx context.Context, keyID string) (int, bool, error) {
	var row versionRow
	err := queries.Raw(
		`SELECT version FROM private_key_versions WHERE private_key_id = $1`,
		keyID,
	).Bind(ctx, s.db, &row)
	if errors.Is(err, sql.ErrNoRows) {
		return VersionV2, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to read private key version")
	}

	return row.Version, true, nil
}

// MarkMigrated records that the key's account now runs the Nexus implementation.
func (s *Store) MarkMigrated(ctx context.Context, keyID string) error {
	return s.setVersion(ctx, keyID, VersionNexus)
}

func (s *Store) setVersion(ctx context.Context, keyID string, version int) error {
	_, err := queries.Raw(
		`INSERT INTO private_key_versions (private_key_id, version, created_at, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (private_key_id) DO UPDATE SET version = excluded.version, updated_at = CURRENT_TIMESTAMP`,
		keyID, version,
	).ExecContext(ctx, s.db)
	if err != nil {
		return errors.Wrapf(err, "failed to set private key version to %d", version)
	}

	return nil
}
