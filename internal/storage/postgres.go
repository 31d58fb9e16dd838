package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"farcaster-indexer/internal/metrics"
)

// EmbeddingDimensions matches the output size of the embedding model.
const EmbeddingDimensions = 1536

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) initSchema() error {
	if _, err := s.db.Exec("CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createCastsSQL := `
		CREATE TABLE IF NOT EXISTS casts (
			hash VARCHAR(255) PRIMARY KEY,
			hash_v1 VARCHAR(255),
			thread_hash VARCHAR(255) NOT NULL,
			thread_hash_v1 VARCHAR(255),
			parent_hash VARCHAR(255),
			parent_hash_v1 VARCHAR(255),
			author_fid BIGINT NOT NULL,
			author_username VARCHAR(255),
			author_display_name VARCHAR(255),
			author_pfp_url TEXT,
			author_pfp_verified BOOLEAN NOT NULL DEFAULT FALSE,
			text TEXT NOT NULL,
			published_at TIMESTAMP WITH TIME ZONE NOT NULL,
			mentions JSONB,
			replies_count BIGINT NOT NULL DEFAULT 0,
			reactions_count BIGINT NOT NULL DEFAULT 0,
			recasts_count BIGINT NOT NULL DEFAULT 0,
			watches_count BIGINT NOT NULL DEFAULT 0,
			parent_author_fid BIGINT,
			parent_author_username VARCHAR(255),
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := s.db.Exec(createCastsSQL); err != nil {
		return fmt.Errorf("failed to create casts table: %w", err)
	}

	createProfileSQL := `
		CREATE TABLE IF NOT EXISTS profile (
			id BIGINT PRIMARY KEY,
			owner VARCHAR(255),
			username VARCHAR(255),
			display_name VARCHAR(255),
			avatar_url TEXT,
			avatar_verified BOOLEAN NOT NULL DEFAULT FALSE,
			followers BIGINT,
			following BIGINT,
			bio TEXT,
			referrer VARCHAR(255),
			registered_at TIMESTAMP WITH TIME ZONE,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := s.db.Exec(createProfileSQL); err != nil {
		return fmt.Errorf("failed to create profile table: %w", err)
	}

	createEmbeddingsSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS casts_embeddings (
			cast_hash VARCHAR(255) PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`, EmbeddingDimensions)
	if _, err := s.db.Exec(createEmbeddingsSQL); err != nil {
		return fmt.Errorf("failed to create casts_embeddings table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_casts_author_fid ON casts(author_fid);",
		"CREATE INDEX IF NOT EXISTS idx_casts_published_at ON casts(published_at);",
		"CREATE INDEX IF NOT EXISTS idx_casts_thread_hash ON casts(thread_hash);",
	}
	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	// May fail before any embeddings exist; that is fine, ivfflat needs data.
	vectorIndexSQL := "CREATE INDEX IF NOT EXISTS idx_casts_embeddings_embedding ON casts_embeddings USING ivfflat (embedding vector_cosine_ops);"
	if _, err := s.db.Exec(vectorIndexSQL); err != nil {
		fmt.Printf("Warning: could not create vector index yet: %v\n", err)
	}

	return nil
}

var castColumns = []string{
	"hash", "hash_v1", "thread_hash", "thread_hash_v1", "parent_hash", "parent_hash_v1",
	"author_fid", "author_username", "author_display_name", "author_pfp_url", "author_pfp_verified",
	"text", "published_at", "mentions",
	"replies_count", "reactions_count", "recasts_count", "watches_count",
	"parent_author_fid", "parent_author_username", "deleted",
}

// UpsertCasts writes casts in chunks of chunkSize rows, one upsert statement
// per chunk keyed on hash. A chunk failure aborts the call; rows written by
// earlier chunks stay committed.
func (s *PostgresStore) UpsertCasts(ctx context.Context, casts []FlattenedCast, chunkSize int) (int, error) {
	start := time.Now()
	written := 0

	for _, chunk := range BreakIntoChunks(casts, chunkSize) {
		if err := s.upsertCastChunk(ctx, chunk); err != nil {
			metrics.UpsertChunks.WithLabelValues("casts", "error").Inc()
			return written, fmt.Errorf("failed to upsert casts chunk: %w", err)
		}
		written += len(chunk)
		metrics.UpsertChunks.WithLabelValues("casts", "success").Inc()
	}

	metrics.UpsertDuration.WithLabelValues("casts").Observe(time.Since(start).Seconds())
	return written, nil
}

func (s *PostgresStore) upsertCastChunk(ctx context.Context, chunk []FlattenedCast) error {
	args := make([]interface{}, 0, len(chunk)*len(castColumns))
	for _, c := range chunk {
		var mentions interface{}
		if c.Mentions != nil {
			encoded, err := json.Marshal(c.Mentions)
			if err != nil {
				return fmt.Errorf("failed to encode mentions for %s: %w", c.Hash, err)
			}
			mentions = encoded
		}

		args = append(args,
			c.Hash, c.HashV1, c.ThreadHash, c.ThreadHashV1, c.ParentHash, c.ParentHashV1,
			c.AuthorFid, c.AuthorUsername, c.AuthorDisplayName, c.AuthorPfpURL, c.AuthorPfpVerified,
			c.Text, c.PublishedAt, mentions,
			c.RepliesCount, c.ReactionsCount, c.RecastsCount, c.WatchesCount,
			c.ParentAuthorFid, c.ParentAuthorUsername, c.Deleted,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO casts (%s) VALUES %s
		ON CONFLICT (hash) DO UPDATE SET
			hash_v1 = EXCLUDED.hash_v1,
			thread_hash = EXCLUDED.thread_hash,
			thread_hash_v1 = EXCLUDED.thread_hash_v1,
			parent_hash = EXCLUDED.parent_hash,
			parent_hash_v1 = EXCLUDED.parent_hash_v1,
			author_fid = EXCLUDED.author_fid,
			author_username = EXCLUDED.author_username,
			author_display_name = EXCLUDED.author_display_name,
			author_pfp_url = EXCLUDED.author_pfp_url,
			author_pfp_verified = EXCLUDED.author_pfp_verified,
			text = EXCLUDED.text,
			published_at = EXCLUDED.published_at,
			mentions = EXCLUDED.mentions,
			replies_count = EXCLUDED.replies_count,
			reactions_count = EXCLUDED.reactions_count,
			recasts_count = EXCLUDED.recasts_count,
			watches_count = EXCLUDED.watches_count,
			parent_author_fid = EXCLUDED.parent_author_fid,
			parent_author_username = EXCLUDED.parent_author_username,
			deleted = EXCLUDED.deleted,
			updated_at = NOW()
	`, strings.Join(castColumns, ", "), buildPlaceholders(len(chunk), len(castColumns)))

	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

var profileColumns = []string{
	"id", "owner", "username", "display_name", "avatar_url", "avatar_verified",
	"followers", "following", "bio", "referrer",
}

// UpsertProfiles writes profiles in chunks keyed on id, same failure model
// as UpsertCasts.
func (s *PostgresStore) UpsertProfiles(ctx context.Context, profiles []FlattenedProfile, chunkSize int) (int, error) {
	start := time.Now()
	written := 0

	for _, chunk := range BreakIntoChunks(profiles, chunkSize) {
		if err := s.upsertProfileChunk(ctx, chunk); err != nil {
			metrics.UpsertChunks.WithLabelValues("profile", "error").Inc()
			return written, fmt.Errorf("failed to upsert profiles chunk: %w", err)
		}
		written += len(chunk)
		metrics.UpsertChunks.WithLabelValues("profile", "success").Inc()
	}

	metrics.UpsertDuration.WithLabelValues("profile").Observe(time.Since(start).Seconds())
	return written, nil
}

func (s *PostgresStore) upsertProfileChunk(ctx context.Context, chunk []FlattenedProfile) error {
	args := make([]interface{}, 0, len(chunk)*len(profileColumns))
	for _, p := range chunk {
		args = append(args,
			p.ID, p.Owner, p.Username, p.DisplayName, p.AvatarURL, p.AvatarVerified,
			p.Followers, p.Following, p.Bio, p.Referrer,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO profile (%s) VALUES %s
		ON CONFLICT (id) DO UPDATE SET
			owner = EXCLUDED.owner,
			username = EXCLUDED.username,
			display_name = EXCLUDED.display_name,
			avatar_url = EXCLUDED.avatar_url,
			avatar_verified = EXCLUDED.avatar_verified,
			followers = EXCLUDED.followers,
			following = EXCLUDED.following,
			bio = EXCLUDED.bio,
			referrer = EXCLUDED.referrer,
			updated_at = NOW()
	`, strings.Join(profileColumns, ", "), buildPlaceholders(len(chunk), len(profileColumns)))

	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// UpsertEmbeddings writes embeddings in chunks keyed on cast_hash.
// Regenerating overwrites in place, never duplicates.
func (s *PostgresStore) UpsertEmbeddings(ctx context.Context, embeddings []CastEmbedding, chunkSize int) (int, error) {
	start := time.Now()
	written := 0

	for _, chunk := range BreakIntoChunks(embeddings, chunkSize) {
		if err := s.upsertEmbeddingChunk(ctx, chunk); err != nil {
			metrics.UpsertChunks.WithLabelValues("casts_embeddings", "error").Inc()
			return written, fmt.Errorf("failed to upsert embeddings chunk: %w", err)
		}
		written += len(chunk)
		metrics.UpsertChunks.WithLabelValues("casts_embeddings", "success").Inc()
	}

	metrics.UpsertDuration.WithLabelValues("casts_embeddings").Observe(time.Since(start).Seconds())
	return written, nil
}

func (s *PostgresStore) upsertEmbeddingChunk(ctx context.Context, chunk []CastEmbedding) error {
	args := make([]interface{}, 0, len(chunk)*2)
	for _, e := range chunk {
		args = append(args, e.CastHash, pgvector.NewVector(e.Embedding))
	}

	query := fmt.Sprintf(`
		INSERT INTO casts_embeddings (cast_hash, embedding) VALUES %s
		ON CONFLICT (cast_hash) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			updated_at = NOW()
	`, buildPlaceholders(len(chunk), 2))

	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func buildPlaceholders(rows, cols int) string {
	var b strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteString(")")
	}
	return b.String()
}

func (s *PostgresStore) CastExists(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM casts WHERE hash = $1)", hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check cast existence: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ProfileExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM profile WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check profile existence: %w", err)
	}
	return exists, nil
}

const selectCastColumns = `
	hash, hash_v1, thread_hash, thread_hash_v1, parent_hash, parent_hash_v1,
	author_fid, author_username, author_display_name, author_pfp_url, author_pfp_verified,
	text, published_at, mentions,
	replies_count, reactions_count, recasts_count, watches_count,
	parent_author_fid, parent_author_username, deleted
`

// GetCastsByHashes resolves hashes to full cast rows in a single query.
func (s *PostgresStore) GetCastsByHashes(ctx context.Context, hashes []string) ([]FlattenedCast, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	query := "SELECT " + selectCastColumns + " FROM casts WHERE hash = ANY($1)"
	rows, err := s.db.QueryContext(ctx, query, pq.Array(hashes))
	if err != nil {
		return nil, fmt.Errorf("failed to get casts by hashes: %w", err)
	}
	defer rows.Close()

	return scanCasts(rows)
}

func (s *PostgresStore) GetCastsByAuthor(ctx context.Context, fid int64, limit int) ([]FlattenedCast, error) {
	query := "SELECT " + selectCastColumns + ` FROM casts
		WHERE author_fid = $1 AND deleted = FALSE
		ORDER BY published_at DESC
		LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, fid, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get casts by author: %w", err)
	}
	defer rows.Close()

	return scanCasts(rows)
}

// GetCastsWithoutEmbeddings returns casts lacking an embedding row, oldest
// first, for backfill passes. Casts with no text (image-only) never get an
// embedding and are excluded.
func (s *PostgresStore) GetCastsWithoutEmbeddings(ctx context.Context, limit int) ([]FlattenedCast, error) {
	query := "SELECT " + selectCastColumns + ` FROM casts c
		LEFT JOIN casts_embeddings e ON e.cast_hash = c.hash
		WHERE e.cast_hash IS NULL AND c.deleted = FALSE AND btrim(c.text) <> ''
		ORDER BY c.published_at ASC
		LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get casts without embeddings: %w", err)
	}
	defer rows.Close()

	return scanCasts(rows)
}

func scanCasts(rows *sql.Rows) ([]FlattenedCast, error) {
	var casts []FlattenedCast
	for rows.Next() {
		var (
			c            FlattenedCast
			hashV1       sql.NullString
			threadHashV1 sql.NullString
			parentHash   sql.NullString
			parentHashV1 sql.NullString
			username     sql.NullString
			displayName  sql.NullString
			pfpURL       sql.NullString
			mentions     []byte
			parentFid    sql.NullInt64
			parentUser   sql.NullString
		)

		err := rows.Scan(
			&c.Hash, &hashV1, &c.ThreadHash, &threadHashV1, &parentHash, &parentHashV1,
			&c.AuthorFid, &username, &displayName, &pfpURL, &c.AuthorPfpVerified,
			&c.Text, &c.PublishedAt, &mentions,
			&c.RepliesCount, &c.ReactionsCount, &c.RecastsCount, &c.WatchesCount,
			&parentFid, &parentUser, &c.Deleted,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cast: %w", err)
		}

		c.HashV1 = nullableString(hashV1)
		c.ThreadHashV1 = nullableString(threadHashV1)
		c.ParentHash = nullableString(parentHash)
		c.ParentHashV1 = nullableString(parentHashV1)
		c.AuthorUsername = nullableString(username)
		c.AuthorDisplayName = nullableString(displayName)
		c.AuthorPfpURL = nullableString(pfpURL)
		c.ParentAuthorUsername = nullableString(parentUser)
		if parentFid.Valid {
			c.ParentAuthorFid = &parentFid.Int64
		}
		if len(mentions) > 0 {
			if err := json.Unmarshal(mentions, &c.Mentions); err != nil {
				return nil, fmt.Errorf("failed to decode mentions for %s: %w", c.Hash, err)
			}
		}

		casts = append(casts, c)
	}
	return casts, rows.Err()
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

// GetEmbeddingsByHashes fetches stored embeddings for the given cast hashes.
// Returned records are tagged OriginCached.
func (s *PostgresStore) GetEmbeddingsByHashes(ctx context.Context, hashes []string) ([]CastEmbedding, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	query := "SELECT cast_hash, embedding FROM casts_embeddings WHERE cast_hash = ANY($1)"
	rows, err := s.db.QueryContext(ctx, query, pq.Array(hashes))
	if err != nil {
		return nil, fmt.Errorf("failed to get embeddings by hashes: %w", err)
	}
	defer rows.Close()

	var embeddings []CastEmbedding
	for rows.Next() {
		var (
			hash string
			vec  pgvector.Vector
		)
		if err := rows.Scan(&hash, &vec); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		embeddings = append(embeddings, CastEmbedding{
			CastHash:  hash,
			Embedding: vec.Slice(),
			Origin:    OriginCached,
		})
	}
	return embeddings, rows.Err()
}

// MatchCastsBySimilarity returns up to count casts whose cosine similarity
// to the query vector is at least threshold, most similar first.
func (s *PostgresStore) MatchCastsBySimilarity(ctx context.Context, embedding []float32, threshold float64, count int) ([]SimilarityMatch, error) {
	query := `
		SELECT cast_hash, 1 - (embedding <=> $1) AS similarity
		FROM casts_embeddings
		WHERE 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(embedding), threshold, count)
	if err != nil {
		return nil, fmt.Errorf("failed to match casts by similarity: %w", err)
	}
	defer rows.Close()

	var matches []SimilarityMatch
	for rows.Next() {
		var m SimilarityMatch
		if err := rows.Scan(&m.CastHash, &m.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan similarity match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
