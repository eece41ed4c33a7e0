package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metal-price-cache/internal/config"
	"github.com/metal-price-cache/internal/types"
)

// PostgresDB wraps the pgxpool connection
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB creates a new Postgres connection pool
func NewPostgresDB(cfg *config.PostgresConfig) (*PostgresDB, error) {
	connString := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable pool_max_conns=%d",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.MaxConnections,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	// A single row is read and written; a small pool is plenty
	poolConfig.MaxConns = int32(cfg.MaxConnections) // #nosec G115 - MaxConnections is small and operator-provided
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Close closes the database connection pool
func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Ping checks if the database is reachable
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// PostgresSnapshotStore keeps the snapshot in the single-row price_snapshot table
type PostgresSnapshotStore struct {
	db *PostgresDB
}

// NewPostgresSnapshotStore creates a Postgres-backed store.
// The price_snapshot table must exist (see RunMigrations).
func NewPostgresSnapshotStore(db *PostgresDB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

// Name returns the store name
func (s *PostgresSnapshotStore) Name() string {
	return "postgres"
}

// Load reads the snapshot row. An empty table is not an error.
func (s *PostgresSnapshotStore) Load(ctx context.Context) (*types.PriceSnapshot, error) {
	query := `
		SELECT gold, silver, fetched_at, to_char(data_date, 'YYYY-MM-DD'), source, last_api_call_at
		FROM price_snapshot
		WHERE id = 1
	`

	var snapshot types.PriceSnapshot
	var lastAPICallAt *time.Time
	err := s.db.pool.QueryRow(ctx, query).Scan(
		&snapshot.Gold,
		&snapshot.Silver,
		&snapshot.FetchedAt,
		&snapshot.DataDate,
		&snapshot.Source,
		&lastAPICallAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query price snapshot: %w", err)
	}

	snapshot.FetchedAt = snapshot.FetchedAt.UTC()
	if lastAPICallAt != nil {
		snapshot.LastAPICallAt = lastAPICallAt.UTC()
	}
	return &snapshot, nil
}

// Save upserts the snapshot row
func (s *PostgresSnapshotStore) Save(ctx context.Context, snapshot *types.PriceSnapshot) error {
	query := `
		INSERT INTO price_snapshot (id, gold, silver, fetched_at, data_date, source, last_api_call_at, updated_at)
		VALUES (1, $1, $2, $3, $4::date, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			gold = EXCLUDED.gold,
			silver = EXCLUDED.silver,
			fetched_at = EXCLUDED.fetched_at,
			data_date = EXCLUDED.data_date,
			source = EXCLUDED.source,
			last_api_call_at = EXCLUDED.last_api_call_at,
			updated_at = NOW()
	`

	var lastAPICallAt *time.Time
	if snapshot.HasAPICall() {
		t := snapshot.LastAPICallAt
		lastAPICallAt = &t
	}

	_, err := s.db.pool.Exec(ctx, query,
		snapshot.Gold,
		snapshot.Silver,
		snapshot.FetchedAt,
		snapshot.DataDate,
		snapshot.Source,
		lastAPICallAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert price snapshot: %w", err)
	}
	return nil
}
