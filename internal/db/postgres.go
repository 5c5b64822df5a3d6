package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saltdig/engine/internal/store"
	"github.com/saltdig/engine/pkg/models"
)

// schemaSQL is compiled into the binary at build time.
// This ensures schema init works inside the Docker runtime image which
// does not copy internal/db/schema.sql into the final stage.
//
//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both pgxpool.Pool and pgx.Tx, so every query
// method works identically inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	pool *pgxpool.Pool
	q    querier
}

var _ store.Store = (*PostgresStore)(nil)

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for Saltdig Engine")
	return &PostgresStore{pool: pool, q: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Saltdig schema initialized")
	return nil
}

// WithTx runs fn against a transactional view. Nested calls join the open
// transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if _, nested := s.q.(pgx.Tx); nested {
		return fn(ctx, s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	view := &PostgresStore{pool: s.pool, q: tx}
	if err := fn(ctx, view); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// mapErr folds driver errors into the engine's sentinel taxonomy.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%v: %w", pgErr.ConstraintName, models.ErrConflict)
		case "23514": // check_violation
			return fmt.Errorf("%v: %w", pgErr.ConstraintName, models.ErrInvalidArgument)
		}
	}
	return err
}

// ── Agents ──────────────────────────────────────────────────────────

func (s *PostgresStore) CreateAgent(ctx context.Context, a *models.Agent) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO agents (id, name, api_key, salt_balance, wallet_address, encrypted_signer_key, reputation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		a.ID, a.Name, a.APIKey, a.SaltBalance, a.WalletAddress, a.EncryptedSignerKey, a.Reputation, nilTime(a.CreatedAt))
	return mapErr(err)
}

const agentCols = `id, name, api_key, salt_balance, wallet_address, encrypted_signer_key, reputation, created_at`

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.Name, &a.APIKey, &a.SaltBalance, &a.WalletAddress, &a.EncryptedSignerKey, &a.Reputation, &a.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	return scanAgent(s.q.QueryRow(ctx, `SELECT `+agentCols+` FROM agents WHERE id = $1`, id))
}

func (s *PostgresStore) GetAgentByAPIKey(ctx context.Context, key string) (*models.Agent, error) {
	return scanAgent(s.q.QueryRow(ctx, `SELECT `+agentCols+` FROM agents WHERE api_key = $1`, key))
}

func (s *PostgresStore) UpdateAgent(ctx context.Context, id string, upd store.AgentUpdate) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE agents SET
			name = COALESCE($2, name),
			wallet_address = COALESCE($3, wallet_address),
			encrypted_signer_key = COALESCE($4, encrypted_signer_key),
			reputation = reputation + $5
		WHERE id = $1`,
		id, upd.Name, upd.WalletAddress, upd.EncryptedSignerKey, upd.ReputationDelta)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// AdjustBalance applies delta atomically; the WHERE clause refuses a
// negative result so concurrent debits cannot overdraw.
func (s *PostgresStore) AdjustBalance(ctx context.Context, id string, delta int64) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE agents SET salt_balance = salt_balance + $2
		WHERE id = $1 AND salt_balance + $2 >= 0`, id, delta)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM agents WHERE id = $1)`, id).Scan(&exists); err != nil {
			return mapErr(err)
		}
		if !exists {
			return models.ErrNotFound
		}
		return fmt.Errorf("agent %s balance would go negative: %w", id, models.ErrInsufficientFunds)
	}
	return nil
}

func (s *PostgresStore) RichList(ctx context.Context, limit int) ([]*models.Agent, error) {
	rows, err := s.q.Query(ctx, `SELECT `+agentCols+` FROM agents ORDER BY salt_balance DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	agents := make([]*models.Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, mapErr(rows.Err())
}

// ── Ledger journal ──────────────────────────────────────────────────

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *models.LedgerEntry) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO ledger_entries (id, from_agent_id, to_agent_id, amount, kind, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		e.ID, e.FromAgentID, e.ToAgentID, e.Amount, e.Kind, e.Description, nilTime(e.CreatedAt))
	return mapErr(err)
}

func (s *PostgresStore) LedgerHistory(ctx context.Context, agentID string, limit int) ([]*models.LedgerEntry, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, from_agent_id, to_agent_id, amount, kind, description, created_at
		FROM ledger_entries
		WHERE from_agent_id = $1 OR to_agent_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	entries := make([]*models.LedgerEntry, 0)
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.FromAgentID, &e.ToAgentID, &e.Amount, &e.Kind, &e.Description, &e.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		entries = append(entries, &e)
	}
	return entries, mapErr(rows.Err())
}
