package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"
)

const (
	pgMinEfSearch = 100
	// pgMaxEfSearch is the largest hnsw.ef_search pgvector accepts.
	pgMaxEfSearch = 1000
)

// PgvectorBackend stores each shard in an embeddings_<dim> table with an
// HNSW cosine index. Rows are keyed by (tenant_id, index_id).
//
// The tenant predicate is applied to candidates the HNSW scan produces.
// Each search raises hnsw.ef_search to cover k, and on pgvector 0.8 and
// later enables iterative scans so the index keeps producing candidates
// until k of the tenant's rows are found. On older versions a small tenant
// in a large shared table can see fewer than k rows.
type PgvectorBackend struct {
	pool          *pgxpool.Pool
	logger        *zap.Logger
	iterativeScan bool

	ensured sync.Map
}

// NewPgvectorBackend installs the vector extension and opens a pool whose
// connections understand the vector type.
func NewPgvectorBackend(ctx context.Context, dsn string, logger *zap.Logger) (*PgvectorBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dsn == "" {
		return nil, fmt.Errorf("%w: pgvector dsn required", ErrInvalidConfig)
	}

	// The extension must exist before RegisterTypes can look the type up.
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector connect: %w", err)
	}
	var version string
	_, err = conn.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	if err == nil {
		err = conn.QueryRow(ctx, `SELECT extversion FROM pg_extension WHERE extname = 'vector'`).Scan(&version)
	}
	_ = conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating vector extension: %w", err)
	}
	iterative := supportsIterativeScan(version)
	if !iterative {
		logger.Warn("pgvector predates iterative index scans; tenant-filtered searches may return fewer rows",
			zap.String("version", version))
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing pgvector dsn: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgvector pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector ping: %w", err)
	}

	return &PgvectorBackend{pool: pool, logger: logger, iterativeScan: iterative}, nil
}

// supportsIterativeScan reports whether extversion is 0.8.0 or later.
func supportsIterativeScan(version string) bool {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return false
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return false
	}
	return major > 0 || minor >= 8
}

func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
}

func efSearch(k int) int {
	return min(max(2*k, pgMinEfSearch), pgMaxEfSearch)
}

func (b *PgvectorBackend) Name() string { return "pgvector" }

func pgTable(shard Shard) string {
	return fmt.Sprintf("embeddings_%d", shard.Dimension)
}

func (b *PgvectorBackend) EnsureShard(ctx context.Context, shard Shard) error {
	table := pgTable(shard)
	if _, ok := b.ensured.Load(table); ok {
		return nil
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			tenant_id TEXT NOT NULL,
			index_id TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			PRIMARY KEY (tenant_id, index_id)
		)`, table, shard.Dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_hnsw ON %s USING hnsw (embedding vector_cosine_ops)`, table, table),
	}
	for _, stmt := range stmts {
		if _, err := b.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating shard %s: %w", table, err)
		}
	}

	b.ensured.Store(table, true)
	b.logger.Debug("pgvector shard ready", zap.String("table", table))
	return nil
}

func (b *PgvectorBackend) Upsert(ctx context.Context, shard Shard, rec VectorRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s (tenant_id, index_id, embedding) VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, index_id) DO UPDATE SET embedding = EXCLUDED.embedding`, pgTable(shard))
	if _, err := b.pool.Exec(ctx, query, rec.TenantID, rec.IndexID, pgvector.NewVector(rec.Vector)); err != nil {
		return fmt.Errorf("upsert into %s: %w", pgTable(shard), err)
	}
	return nil
}

func (b *PgvectorBackend) Delete(ctx context.Context, shard Shard, tenantID, indexID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1 AND index_id = $2`, pgTable(shard))
	if _, err := b.pool.Exec(ctx, query, tenantID, indexID); err != nil {
		return fmt.Errorf("delete from %s: %w", pgTable(shard), err)
	}
	return nil
}

func (b *PgvectorBackend) Search(ctx context.Context, shard Shard, tenantID string, query []float32, k int) ([]Match, error) {
	sql := fmt.Sprintf(`SELECT index_id, 1 - (embedding <=> $2) AS similarity
		FROM %s WHERE tenant_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3`, pgTable(shard))

	var matches []Match
	err := pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		// Both settings are local to this transaction.
		if _, err := tx.Exec(ctx, `SELECT set_config('hnsw.ef_search', $1, true)`, strconv.Itoa(efSearch(k))); err != nil {
			return fmt.Errorf("setting ef_search: %w", err)
		}
		if b.iterativeScan {
			if _, err := tx.Exec(ctx, `SET LOCAL hnsw.iterative_scan = relaxed_order`); err != nil {
				return fmt.Errorf("enabling iterative scan: %w", err)
			}
		}

		rows, err := tx.Query(ctx, sql, tenantID, pgvector.NewVector(query), k)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m Match
			if err := rows.Scan(&m.IndexID, &m.Similarity); err != nil {
				return fmt.Errorf("scanning match: %w", err)
			}
			matches = append(matches, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", pgTable(shard), err)
	}
	// relaxed_order may return rows slightly out of order.
	sortMatches(matches)
	return matches, nil
}

func (b *PgvectorBackend) Close() error {
	b.pool.Close()
	return nil
}
