package storage

import (
	"context"
	"time"
)

// Mention is the public subset of a profile retained inside a cast's
// mention list. The full nested profile is never persisted.
type Mention struct {
	Fid         int64  `json:"fid"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// FlattenedCast is one row of the casts table. Optional upstream fields are
// pointers so missing values persist as NULL and the row stays fixed-width.
type FlattenedCast struct {
	Hash                 string     `json:"hash"`
	HashV1               *string    `json:"hash_v1,omitempty"`
	ThreadHash           string     `json:"thread_hash"`
	ThreadHashV1         *string    `json:"thread_hash_v1,omitempty"`
	ParentHash           *string    `json:"parent_hash,omitempty"`
	ParentHashV1         *string    `json:"parent_hash_v1,omitempty"`
	AuthorFid            int64      `json:"author_fid"`
	AuthorUsername       *string    `json:"author_username,omitempty"`
	AuthorDisplayName    *string    `json:"author_display_name,omitempty"`
	AuthorPfpURL         *string    `json:"author_pfp_url,omitempty"`
	AuthorPfpVerified    bool       `json:"author_pfp_verified"`
	Text                 string     `json:"text"`
	PublishedAt          time.Time  `json:"published_at"`
	Mentions             []Mention  `json:"mentions,omitempty"`
	RepliesCount         int64      `json:"replies_count"`
	ReactionsCount       int64      `json:"reactions_count"`
	RecastsCount         int64      `json:"recasts_count"`
	WatchesCount         int64      `json:"watches_count"`
	ParentAuthorFid      *int64     `json:"parent_author_fid,omitempty"`
	ParentAuthorUsername *string    `json:"parent_author_username,omitempty"`
	Deleted              bool       `json:"deleted"`
}

// FlattenedProfile is one row of the profile table. Placeholder rows created
// by id gap-filling carry only the id.
type FlattenedProfile struct {
	ID             int64   `json:"id"`
	Owner          *string `json:"owner,omitempty"`
	Username       *string `json:"username,omitempty"`
	DisplayName    *string `json:"display_name,omitempty"`
	AvatarURL      *string `json:"avatar_url,omitempty"`
	AvatarVerified bool    `json:"avatar_verified"`
	Followers      *int64  `json:"followers,omitempty"`
	Following      *int64  `json:"following,omitempty"`
	Bio            *string `json:"bio,omitempty"`
	Referrer       *string `json:"referrer,omitempty"`
}

// EmbeddingOrigin records whether a vector was read from storage or
// generated during the current call.
type EmbeddingOrigin string

const (
	OriginCached    EmbeddingOrigin = "cached"
	OriginGenerated EmbeddingOrigin = "generated"
)

// CastEmbedding is one row of the casts_embeddings table, 1:1 with a cast.
// Origin is call-local bookkeeping and is not persisted.
type CastEmbedding struct {
	CastHash  string          `json:"cast_hash"`
	Embedding []float32       `json:"embedding"`
	Origin    EmbeddingOrigin `json:"-"`
}

// SimilarityMatch is one hit from a vector similarity search.
type SimilarityMatch struct {
	CastHash   string  `json:"cast_hash"`
	Similarity float64 `json:"similarity"`
}

type Store interface {
	UpsertCasts(ctx context.Context, casts []FlattenedCast, chunkSize int) (int, error)
	UpsertProfiles(ctx context.Context, profiles []FlattenedProfile, chunkSize int) (int, error)
	UpsertEmbeddings(ctx context.Context, embeddings []CastEmbedding, chunkSize int) (int, error)
	CastExists(ctx context.Context, hash string) (bool, error)
	ProfileExists(ctx context.Context, id int64) (bool, error)
	GetCastsByHashes(ctx context.Context, hashes []string) ([]FlattenedCast, error)
	GetCastsByAuthor(ctx context.Context, fid int64, limit int) ([]FlattenedCast, error)
	GetCastsWithoutEmbeddings(ctx context.Context, limit int) ([]FlattenedCast, error)
	GetEmbeddingsByHashes(ctx context.Context, hashes []string) ([]CastEmbedding, error)
	MatchCastsBySimilarity(ctx context.Context, embedding []float32, threshold float64, count int) ([]SimilarityMatch, error)
	Close() error
}
