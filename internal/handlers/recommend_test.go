package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farcaster-indexer/internal/services"
	"farcaster-indexer/internal/storage"
)

type castReaderFunc func(ctx context.Context, fid int64, limit int) ([]storage.FlattenedCast, error)

func (f castReaderFunc) GetCastsByAuthor(ctx context.Context, fid int64, limit int) ([]storage.FlattenedCast, error) {
	return f(ctx, fid, limit)
}

type stubStore struct {
	embeddings map[string][]float32
	matches    []storage.SimilarityMatch
	casts      map[string]storage.FlattenedCast
}

func (s *stubStore) GetEmbeddingsByHashes(_ context.Context, hashes []string) ([]storage.CastEmbedding, error) {
	var found []storage.CastEmbedding
	for _, h := range hashes {
		if vec, ok := s.embeddings[h]; ok {
			found = append(found, storage.CastEmbedding{CastHash: h, Embedding: vec, Origin: storage.OriginCached})
		}
	}
	return found, nil
}

func (s *stubStore) MatchCastsBySimilarity(_ context.Context, _ []float32, _ float64, _ int) ([]storage.SimilarityMatch, error) {
	return s.matches, nil
}

func (s *stubStore) GetCastsByHashes(_ context.Context, hashes []string) ([]storage.FlattenedCast, error) {
	var found []storage.FlattenedCast
	for _, h := range hashes {
		if c, ok := s.casts[h]; ok {
			found = append(found, c)
		}
	}
	return found, nil
}

type stubEmbedder struct {
	vec []float32
}

func (e *stubEmbedder) EmbedText(_ context.Context, _ string) ([]float32, error) {
	return e.vec, nil
}

func (e *stubEmbedder) EmbedCasts(_ context.Context, casts []storage.FlattenedCast, _ bool) ([]storage.CastEmbedding, error) {
	var generated []storage.CastEmbedding
	for _, c := range casts {
		generated = append(generated, storage.CastEmbedding{
			CastHash:  c.Hash,
			Embedding: e.vec,
			Origin:    storage.OriginGenerated,
		})
	}
	return generated, nil
}

func newTestHandler(store *stubStore, reader CastReader) *RecommendHandler {
	svc := services.NewRecommendationService(store, &stubEmbedder{vec: []float32{1}})
	return NewRecommendHandler(svc, reader)
}

func userCasts(texts ...string) castReaderFunc {
	return func(_ context.Context, _ int64, _ int) ([]storage.FlattenedCast, error) {
		var casts []storage.FlattenedCast
		for i, text := range texts {
			casts = append(casts, storage.FlattenedCast{
				Hash: string(rune('a' + i)),
				Text: text,
			})
		}
		return casts, nil
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleRecommendBadJSON(t *testing.T) {
	h := newTestHandler(&stubStore{}, userCasts())
	rec := postJSON(t, h.HandleRecommend, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRecommendMissingFid(t *testing.T) {
	h := newTestHandler(&stubStore{}, userCasts())
	rec := postJSON(t, h.HandleRecommend, `{"threshold": 0.8, "count": 5, "recommendation_type": "casts"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRecommendNoUsableCasts(t *testing.T) {
	// Short casts are filtered before the engine runs.
	h := newTestHandler(&stubStore{}, userCasts("gm", "wagmi"))
	rec := postJSON(t, h.HandleRecommend, `{"fid": 7, "threshold": 0.8, "count": 5, "recommendation_type": "casts"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRecommendInvalidShape(t *testing.T) {
	h := newTestHandler(&stubStore{}, userCasts("a cast long enough to keep"))
	rec := postJSON(t, h.HandleRecommend, `{"fid": 7, "threshold": 0.8, "count": 5, "recommendation_type": "likes"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRecommendSuccess(t *testing.T) {
	store := &stubStore{
		embeddings: map[string][]float32{"a": {1}},
		matches:    []storage.SimilarityMatch{{CastHash: "0xrec", Similarity: 0.9}},
		casts: map[string]storage.FlattenedCast{
			"0xrec": {Hash: "0xrec", AuthorFid: 3, Text: "a recommended cast text"},
		},
	}
	h := newTestHandler(store, userCasts("a cast long enough to keep"))

	rec := postJSON(t, h.HandleRecommend, `{"fid": 7, "threshold": 0.8, "count": 5, "recommendation_type": "casts"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var result services.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, services.ShapeCasts, result.Shape)
	require.Len(t, result.Casts, 1)
	assert.Equal(t, "0xrec", result.Casts[0].Hash)
}

func TestHandleRecommendBadCount(t *testing.T) {
	h := newTestHandler(&stubStore{}, userCasts("a cast long enough to keep"))
	rec := postJSON(t, h.HandleRecommend, `{"fid": 7, "threshold": 0.8, "count": 0, "recommendation_type": "casts"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearchBadThreshold(t *testing.T) {
	h := newTestHandler(&stubStore{}, userCasts())
	rec := postJSON(t, h.HandleSearch, `{"text": "query", "threshold": 2.0, "count": 5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearchMissingText(t *testing.T) {
	h := newTestHandler(&stubStore{}, userCasts())
	rec := postJSON(t, h.HandleSearch, `{"threshold": 0.8, "count": 5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearchSuccess(t *testing.T) {
	store := &stubStore{
		matches: []storage.SimilarityMatch{{CastHash: "0xhit", Similarity: 0.93}},
		casts: map[string]storage.FlattenedCast{
			"0xhit": {Hash: "0xhit", Text: "matched cast body"},
		},
	}
	h := newTestHandler(store, userCasts())

	rec := postJSON(t, h.HandleSearch, `{"text": "query", "threshold": 0.8, "count": 5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Casts []storage.FlattenedCast `json:"casts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Casts, 1)
	assert.Equal(t, "0xhit", resp.Casts[0].Hash)
}
