package nonce

import (
	"context"
	"database/sql"

	"github.com/aarondl/sqlboiler/v4/boil"
	"github.com/aarondl/sqlboiler/v4/queries"
	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/util"
	dbutil "github/chapool/tx-signer/internal/util/db"
)

const defaultAttempts = 3

var errInsertRace = errors.New("nonce row inserted concurrently")

type nonceRow struct {
	Nonce int64 `boil:"nonce"`
}

// Allocator hands out strictly increasing, gap-free nonces per (key, network).
// Every call is one database transaction; nothing is cached in process.
type Allocator struct {
	db       *sql.DB
	attempts int
	observe  func(networkID string)
}

type Option func(*Allocator)

// WithObserver registers a callback invoked after every successful allocation.
func WithObserver(fn func(networkID string)) Option {
	return func(a *Allocator) {
		a.observe = fn
	}
}

func NewAllocator(db *sql.DB, opts ...Option) *Allocator {
	a := &Allocator{
		db:       db,
		attempts: defaultAttempts,
	}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// GetNonce increments the stored counter or creates it at 1.
// A concurrent first insert for the same pair is retried as an increment.
func (a *Allocator) GetNonce(ctx context.Context, keyID string, networkID string) (uint64, error) {
	log := util.LogFromContext(ctx)

	for attempt := 1; attempt <= a.attempts; attempt++ {
		var allocated int64

		err := dbutil.WithTransaction(ctx, a.db, func(exec boil.ContextExecutor) error {
			n, err := increment(ctx, exec, keyID, networkID)
			if err == nil {
				allocated = n
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}

			inserted, err := insertFirst(ctx, exec, keyID, networkID)
			if err != nil {
				return err
			}
			if !inserted {
				return errInsertRace
			}

			allocated = 1
			return nil
		})

		if errors.Is(err, errInsertRace) {
			log.Debug().Int("attempt", attempt).Str("network_id", networkID).Msg("Nonce row created concurrently, retrying as update")
			continue
		}
		if err != nil {
			return 0, errors.Wrapf(err, "failed to allocate nonce for network %s", networkID)
		}

		if a.observe != nil {
			a.observe(networkID)
		}

		return uint64(allocated), nil
	}

	return 0, errors.Errorf("failed to allocate nonce for network %s after %d attempts", networkID, a.attempts)
}

// Peek returns the last issued nonce without modifying it.
func (a *Allocator) Peek(ctx context.Context, keyID string, networkID string) (uint64, bool, error) {
	var row nonceRow
	err := queries.Raw(
		`SELECT nonce FROM nonces WHERE private_key_id = $1 AND network_id = $2`,
		keyID, networkID,
	).Bind(ctx, a.db, &row)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to read nonce")
	}

	return uint64(row.Nonce), true, nil
}

func increment(ctx context.Context, exec boil.ContextExecutor, keyID string, networkID string) (int64, error) {
	var row nonceRow
	err := queries.Raw(
		`UPDATE nonces SET nonce = nonce + 1, updated_at = CURRENT_TIMESTAMP
		WHERE private_key_id = $1 AND network_id = $2
		RETURNING nonce`,
		keyID, networkID,
	).Bind(ctx, exec, &row)
	if err != nil {
		return 0, err
	}

	return row.Nonce, nil
}

func insertFirst(ctx context.Context, exec boil.ContextExecutor, keyID string, networkID string) (bool, error) {
	res, err := queries.Raw(
		`INSERT INTO nonces (private_key_id, network_id, nonce, created_at, updated_at)
		VALUES ($1, $2, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (private_key_id, network_id) DO NOTHING`,
		keyID, networkID,
	).ExecContext(ctx, exec)
	if err != nil {
		return false, errors.Wrap(err, "failed to insert nonce row")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}

	return n == 1, nil
}
