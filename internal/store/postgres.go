package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore keeps deployments in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	dsn  string
}

// NewPostgresStore connects to the database at dsn, which must be a
// postgres:// URL so that Migrate can reuse it.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool, dsn: dsn}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate applies all pending schema migrations.
func (s *PostgresStore) Migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migrations source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, s.dsn)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

const deploymentColumns = `id, chain, chain_id, distributor, distributor_implementation,
	calculator, deployer, distributor_tx_hash, calculator_tx_hash, deployed_at`

// Save creates or replaces the deployment for d.Chain.
func (s *PostgresStore) Save(ctx context.Context, d *Deployment) error {
	if err := d.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO deployments (` + deploymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (chain) DO UPDATE SET
			id = EXCLUDED.id,
			chain_id = EXCLUDED.chain_id,
			distributor = EXCLUDED.distributor,
			distributor_implementation = EXCLUDED.distributor_implementation,
			calculator = EXCLUDED.calculator,
			deployer = EXCLUDED.deployer,
			distributor_tx_hash = EXCLUDED.distributor_tx_hash,
			calculator_tx_hash = EXCLUDED.calculator_tx_hash,
			deployed_at = EXCLUDED.deployed_at`

	_, err := s.pool.Exec(ctx, query,
		d.ID, d.Chain, d.ChainID, d.Distributor, d.DistributorImplementation,
		d.Calculator, d.Deployer, d.DistributorTxHash, d.CalculatorTxHash, d.DeployedAt,
	)
	if err != nil {
		return fmt.Errorf("save deployment %s: %w", d.Chain, err)
	}
	return nil
}

// Get returns the deployment for a chain.
func (s *PostgresStore) Get(ctx context.Context, chain string) (*Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE chain = $1`

	d, err := scanDeployment(s.pool.QueryRow(ctx, query, chain))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", chain, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get deployment %s: %w", chain, err)
	}
	return d, nil
}

// List returns all deployments ordered by chain name.
func (s *PostgresStore) List(ctx context.Context) ([]*Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments ORDER BY chain`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var out []*Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDeployment(row pgx.Row) (*Deployment, error) {
	var d Deployment
	err := row.Scan(
		&d.ID,
		&d.Chain,
		&d.ChainID,
		&d.Distributor,
		&d.DistributorImplementation,
		&d.Calculator,
		&d.Deployer,
		&d.DistributorTxHash,
		&d.CalculatorTxHash,
		&d.DeployedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

var _ Store = (*PostgresStore)(nil)
