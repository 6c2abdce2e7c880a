package memoryartifact

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/SolLabsHQ/solserver/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PgvectorStore implements contracts.VectorStoreDriver using PostgreSQL with
// the pgvector extension. Operators provide their own Postgres instance with
// pgvector installed; the connection URL comes from LATTICE_PGVECTOR_URL.
type PgvectorStore struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPgvectorStore connects to Postgres and ensures the memory_artifacts
// table and its vector index exist.
func NewPgvectorStore(ctx context.Context, connURL string, dimensions int) (*PgvectorStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector ping: %w", err)
	}

	s := &PgvectorStore{pool: pool, dimensions: dimensions}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector migrate: %w", err)
	}

	log.Info().Str("url", connURL).Int("dims", dimensions).Msg("pgvector store initialized")
	return s, nil
}

func (s *PgvectorStore) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS memory_artifacts (
			id         TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			text       TEXT NOT NULL DEFAULT '',
			lifecycle  TEXT NOT NULL DEFAULT '',
			tags       JSONB NOT NULL DEFAULT '[]',
			vector     vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, id)
		);

		CREATE INDEX IF NOT EXISTS idx_memory_artifacts_user ON memory_artifacts (user_id);
	`, s.dimensions)

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PgvectorStore) Kind() string { return "pgvector" }

func (s *PgvectorStore) Upsert(ctx context.Context, userID string, artifacts []models.MemoryArtifact) error {
	if len(artifacts) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO memory_artifacts (id, user_id, text, lifecycle, tags, vector, created_at)
		VALUES `)

	args := make([]interface{}, 0, len(artifacts)*7)
	for i, a := range artifacts {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i*7 + 1
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d)", base, base+1, base+2, base+3, base+4, base+5, base+6))
		id := a.ID
		if id == "" {
			id = uuid.NewString()
		}
		created := a.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		tags := a.Tags
		if tags == nil {
			tags = []string{}
		}
		args = append(args, id, userID, a.Text, a.Lifecycle, tags, pgvectorArray(a.Embedding), created)
	}

	sb.WriteString(` ON CONFLICT (user_id, id) DO UPDATE SET
		text = EXCLUDED.text,
		lifecycle = EXCLUDED.lifecycle,
		tags = EXCLUDED.tags,
		vector = EXCLUDED.vector`)

	_, err := s.pool.Exec(ctx, sb.String(), args...)
	return err
}

func (s *PgvectorStore) Search(ctx context.Context, userID string, queryVec []float32, limit int, maxDistance float64) ([]models.MemoryArtifact, error) {
	query := `SELECT id, user_id, text, lifecycle, tags, created_at,
		vector <=> $1 AS distance
		FROM memory_artifacts
		WHERE user_id = $2`

	args := []interface{}{pgvectorArray(queryVec), userID}
	argIdx := 3

	if maxDistance > 0 {
		query += fmt.Sprintf(" AND vector <=> $1 <= $%d", argIdx)
		args = append(args, maxDistance)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY vector <=> $1 LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	var results []models.MemoryArtifact
	for rows.Next() {
		var a models.MemoryArtifact
		var distance float64
		if err := rows.Scan(&a.ID, &a.UserID, &a.Text, &a.Lifecycle, &a.Tags, &a.CreatedAt, &distance); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// Close releases the connection pool.
func (s *PgvectorStore) Close() {
	s.pool.Close()
}

// pgvectorArray converts a float32 slice to pgvector's text format: [1,2,3]
func pgvectorArray(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(fmt.Sprintf("%g", f))
	}
	sb.WriteByte(']')
	return sb.String()
}
