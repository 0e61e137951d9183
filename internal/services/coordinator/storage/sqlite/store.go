// Package sqlite provides the SQLite-backed coordinator ledger.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	sqlitemigrate "github.com/secretdoor/montyhall/internal/platform/storage/sqlitemigrate"
	"github.com/secretdoor/montyhall/internal/services/coordinator/storage"
	"github.com/secretdoor/montyhall/internal/services/coordinator/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

const stepColumns = `id, kind, seed_commitment, player, game_state_commitment, pick, revealed_door, proof, created_at`

// Store persists the ledger in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.Ledger = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite ledger and applies embedded migrations.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
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

// AppendStep inserts one accepted step.
func (s *Store) AppendStep(ctx context.Context, step storage.Step) (storage.Step, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Step{}, err
	}
	if !step.Kind.Valid() {
		return storage.Step{}, fmt.Errorf("unknown step kind %q", step.Kind)
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now()
	}
	step.CreatedAt = fromMillis(toMillis(step.CreatedAt))

	result, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO ledger_steps (
		   kind, seed_commitment, player, game_state_commitment,
		   pick, revealed_door, proof, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(step.Kind),
		step.SeedCommitment,
		step.Player,
		step.GameStateCommitment,
		int(step.Pick),
		int(step.RevealedDoor),
		step.Proof,
		toMillis(step.CreatedAt),
	)
	if err != nil {
		return storage.Step{}, fmt.Errorf("append step: %w", err)
	}
	step.ID, err = result.LastInsertId()
	if err != nil {
		return storage.Step{}, fmt.Errorf("append step: %w", err)
	}
	return step, nil
}

// LatestStep returns the most recent step of kind.
func (s *Store) LatestStep(ctx context.Context, kind storage.StepKind) (storage.Step, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Step{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+stepColumns+`
		   FROM ledger_steps
		  WHERE kind = ?
		  ORDER BY id DESC
		  LIMIT 1`,
		string(kind),
	)
	step, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Step{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Step{}, fmt.Errorf("get latest %s step: %w", kind, err)
	}
	return step, nil
}

// ListSteps returns one page of steps in insertion order.
func (s *Store) ListSteps(ctx context.Context, pageSize int, pageToken string) (storage.StepPage, error) {
	if err := s.ready(ctx); err != nil {
		return storage.StepPage{}, err
	}
	if pageSize <= 0 {
		return storage.StepPage{}, fmt.Errorf("page size must be greater than zero")
	}
	var after int64
	if token := strings.TrimSpace(pageToken); token != "" {
		parsed, err := strconv.ParseInt(token, 10, 64)
		if err != nil || parsed < 0 {
			return storage.StepPage{}, fmt.Errorf("%w %q", storage.ErrInvalidPageToken, pageToken)
		}
		after = parsed
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+stepColumns+`
		   FROM ledger_steps
		  WHERE id > ?
		  ORDER BY id ASC
		  LIMIT ?`,
		after,
		pageSize+1,
	)
	if err != nil {
		return storage.StepPage{}, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	page := storage.StepPage{Steps: make([]storage.Step, 0, pageSize)}
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return storage.StepPage{}, fmt.Errorf("list steps: %w", err)
		}
		page.Steps = append(page.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return storage.StepPage{}, fmt.Errorf("list steps: %w", err)
	}
	if len(page.Steps) > pageSize {
		page.NextPageToken = strconv.FormatInt(page.Steps[pageSize-1].ID, 10)
		page.Steps = page.Steps[:pageSize]
	}
	return page, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStep(row rowScanner) (storage.Step, error) {
	var (
		step         storage.Step
		kind         string
		pick         int
		revealedDoor int
		createdAt    int64
	)
	if err := row.Scan(
		&step.ID,
		&kind,
		&step.SeedCommitment,
		&step.Player,
		&step.GameStateCommitment,
		&pick,
		&revealedDoor,
		&step.Proof,
		&createdAt,
	); err != nil {
		return storage.Step{}, err
	}
	step.Kind = storage.StepKind(kind)
	step.Pick = uint8(pick)
	step.RevealedDoor = uint8(revealedDoor)
	step.CreatedAt = fromMillis(createdAt)
	return step, nil
}
