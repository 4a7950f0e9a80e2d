package vectorindex

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgVectorIndex is the pgvector-backed ExternalIndex implementation
// (SPEC_FULL.md §3): one table of (resource_path, node_id, embedding)
// rows, queried with pgvector's `<=>` cosine-distance operator.
type PgVectorIndex struct {
	pool  *pgxpool.Pool
	table string
}

// Config configures a PgVectorIndex.
type Config struct {
	// Datasource is a standard postgres:// connection string.
	Datasource string
	// Table is the mirror table name; defaults to "shinkai_vector_index".
	Table string
	// Dimensions is the fixed embedding width stored in the table.
	Dimensions int
}

// Open connects to Postgres, ensures the pgvector extension and mirror
// table exist, and returns a ready PgVectorIndex.
func Open(ctx context.Context, cfg Config) (*PgVectorIndex, error) {
	if cfg.Datasource == "" {
		return nil, fmt.Errorf("vectorindex: datasource is required")
	}
	table := cfg.Table
	if table == "" {
		table = "shinkai_vector_index"
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = 1536
	}

	pool, err := pgxpool.New(ctx, cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: connect: %w", err)
	}

	if err := migrate(ctx, pool, table, dims); err != nil {
		pool.Close()
		return nil, err
	}

	return &PgVectorIndex{pool: pool, table: table}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool, table string, dims int) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			resource_path TEXT NOT NULL,
			node_id TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			PRIMARY KEY (resource_path, node_id)
		)`, table, dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_ann ON %s USING ivfflat (embedding vector_cosine_ops)`, table, table),
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("vectorindex: migrate %q: %w", table, err)
		}
	}
	return nil
}

func (p *PgVectorIndex) Upsert(ctx context.Context, resourcePath, nodeID string, embedding []float32) error {
	query := fmt.Sprintf(`INSERT INTO %s (resource_path, node_id, embedding) VALUES ($1, $2, $3)
		ON CONFLICT (resource_path, node_id) DO UPDATE SET embedding = EXCLUDED.embedding`, p.table)
	_, err := p.pool.Exec(ctx, query, resourcePath, nodeID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("vectorindex: upsert %s/%s: %w", resourcePath, nodeID, err)
	}
	return nil
}

func (p *PgVectorIndex) Delete(ctx context.Context, resourcePath, nodeID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE resource_path = $1 AND node_id = $2`, p.table)
	_, err := p.pool.Exec(ctx, query, resourcePath, nodeID)
	if err != nil {
		return fmt.Errorf("vectorindex: delete %s/%s: %w", resourcePath, nodeID, err)
	}
	return nil
}

func (p *PgVectorIndex) Query(ctx context.Context, query []float32, k int) ([]Match, error) {
	sqlQuery := fmt.Sprintf(`SELECT resource_path, node_id, 1 - (embedding <=> $1) AS score
		FROM %s ORDER BY embedding <=> $1 LIMIT $2`, p.table)

	rows, err := p.pool.Query(ctx, sqlQuery, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: query: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ResourcePath, &m.NodeID, &m.Score); err != nil {
			return nil, fmt.Errorf("vectorindex: scan match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *PgVectorIndex) Close() {
	p.pool.Close()
}
