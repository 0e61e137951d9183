// Package sqlite provides the SQLite-backed node protocol state store.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	sqlitemigrate "github.com/secretdoor/montyhall/internal/platform/storage/sqlitemigrate"
	"github.com/secretdoor/montyhall/internal/services/node/storage"
	"github.com/secretdoor/montyhall/internal/services/node/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists protocol state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.ProtocolStateStore = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite protocol state store and applies embedded migrations.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, "", logger); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// PutRootRandomness starts a new epoch: prior randomness, init state and
// reveal are deleted in the same transaction as the insert.
func (s *Store) PutRootRandomness(ctx context.Context, record storage.RootRandomness) ([]byte, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if len(record.Seed) == 0 || len(record.Blinding) == 0 {
		return nil, fmt.Errorf("seed and blinding shares are required")
	}
	if len(record.Commitment) == 0 {
		return nil, fmt.Errorf("commitment is required")
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"door_reveal", "game_init_state", "root_rand"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO root_rand (id, seed, blinding, commitment, created_at) VALUES (1, ?, ?, ?, ?)`,
			record.Seed, record.Blinding, record.Commitment, toMillis(createdAt),
		); err != nil {
			return fmt.Errorf("insert root randomness: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bytes.Clone(record.Commitment), nil
}

// GetRootRandomness returns the stored randomness or storage.ErrNotFound.
func (s *Store) GetRootRandomness(ctx context.Context) (storage.RootRandomness, error) {
	if err := s.ready(ctx); err != nil {
		return storage.RootRandomness{}, err
	}
	var (
		record    storage.RootRandomness
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT seed, blinding, commitment, created_at FROM root_rand WHERE id = 1`,
	).Scan(&record.Seed, &record.Blinding, &record.Commitment, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.RootRandomness{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.RootRandomness{}, fmt.Errorf("get root randomness: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

// PutGameInitState replaces the init state and clears any reveal. It fails
// with storage.ErrNotFound when no randomness is stored and with
// storage.ErrStaleRandomness when the record was derived from other
// randomness.
func (s *Store) PutGameInitState(ctx context.Context, record storage.GameInitState) (storage.GameInitState, error) {
	if err := s.ready(ctx); err != nil {
		return storage.GameInitState{}, err
	}
	if len(record.Player) == 0 {
		return storage.GameInitState{}, fmt.Errorf("player is required")
	}
	if len(record.Proof) == 0 || len(record.GameStateShare) == 0 || len(record.GameStateCommitment) == 0 {
		return storage.GameInitState{}, fmt.Errorf("proof, game state share and commitment are required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.CreatedAt = fromMillis(toMillis(record.CreatedAt))

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var commitment []byte
		err := tx.QueryRowContext(ctx, `SELECT commitment FROM root_rand WHERE id = 1`).Scan(&commitment)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load root randomness: %w", err)
		}
		if !bytes.Equal(commitment, record.SeedCommitment) {
			return storage.ErrStaleRandomness
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM door_reveal"); err != nil {
			return fmt.Errorf("clear door_reveal: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO game_init_state (
			   id, player, seed_commitment, proof, game_state_share, game_state_commitment, created_at
			 ) VALUES (1, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   player = excluded.player,
			   seed_commitment = excluded.seed_commitment,
			   proof = excluded.proof,
			   game_state_share = excluded.game_state_share,
			   game_state_commitment = excluded.game_state_commitment,
			   created_at = excluded.created_at`,
			record.Player, record.SeedCommitment, record.Proof, record.GameStateShare,
			record.GameStateCommitment, toMillis(record.CreatedAt),
		); err != nil {
			return fmt.Errorf("upsert game init state: %w", err)
		}
		return nil
	})
	if err != nil {
		return storage.GameInitState{}, err
	}
	return record, nil
}

// GetGameInitState returns the stored init state or storage.ErrNotFound.
func (s *Store) GetGameInitState(ctx context.Context) (storage.GameInitState, error) {
	if err := s.ready(ctx); err != nil {
		return storage.GameInitState{}, err
	}
	var (
		record    storage.GameInitState
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT player, seed_commitment, proof, game_state_share, game_state_commitment, created_at
		 FROM game_init_state WHERE id = 1`,
	).Scan(&record.Player, &record.SeedCommitment, &record.Proof, &record.GameStateShare,
		&record.GameStateCommitment, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.GameInitState{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.GameInitState{}, fmt.Errorf("get game init state: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

// PutDoorReveal stores the reveal. It fails with storage.ErrNotFound when no
// init state is stored and with storage.ErrStaleGameState when the reveal
// belongs to another game state.
func (s *Store) PutDoorReveal(ctx context.Context, record storage.DoorReveal) (storage.DoorReveal, error) {
	if err := s.ready(ctx); err != nil {
		return storage.DoorReveal{}, err
	}
	if record.Pick > 2 || record.RevealedDoor > 2 {
		return storage.DoorReveal{}, fmt.Errorf("door out of range")
	}
	if len(record.Proof) == 0 {
		return storage.DoorReveal{}, fmt.Errorf("proof is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.CreatedAt = fromMillis(toMillis(record.CreatedAt))

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var commitment []byte
		err := tx.QueryRowContext(ctx, `SELECT game_state_commitment FROM game_init_state WHERE id = 1`).Scan(&commitment)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load game init state: %w", err)
		}
		if !bytes.Equal(commitment, record.GameStateCommitment) {
			return storage.ErrStaleGameState
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO door_reveal (id, game_state_commitment, pick, revealed_door, proof, created_at)
			 VALUES (1, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   game_state_commitment = excluded.game_state_commitment,
			   pick = excluded.pick,
			   revealed_door = excluded.revealed_door,
			   proof = excluded.proof,
			   created_at = excluded.created_at`,
			record.GameStateCommitment, int(record.Pick), int(record.RevealedDoor), record.Proof,
			toMillis(record.CreatedAt),
		); err != nil {
			return fmt.Errorf("upsert door reveal: %w", err)
		}
		return nil
	})
	if err != nil {
		return storage.DoorReveal{}, err
	}
	return record, nil
}

// GetDoorReveal returns the stored reveal or storage.ErrNotFound.
func (s *Store) GetDoorReveal(ctx context.Context) (storage.DoorReveal, error) {
	if err := s.ready(ctx); err != nil {
		return storage.DoorReveal{}, err
	}
	var (
		record         storage.DoorReveal
		pick, revealed int
		createdAt      int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT game_state_commitment, pick, revealed_door, proof, created_at FROM door_reveal WHERE id = 1`,
	).Scan(&record.GameStateCommitment, &pick, &revealed, &record.Proof, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.DoorReveal{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.DoorReveal{}, fmt.Errorf("get door reveal: %w", err)
	}
	record.Pick = uint8(pick)
	record.RevealedDoor = uint8(revealed)
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}
