package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"farcaster-indexer/internal/services"
	"farcaster-indexer/internal/storage"
)

// CastReader loads a user's stored casts for recommendation input.
type CastReader interface {
	GetCastsByAuthor(ctx context.Context, fid int64, limit int) ([]storage.FlattenedCast, error)
}

// RecommendHandler serves similarity recommendations over HTTP.
type RecommendHandler struct {
	service *services.RecommendationService
	casts   CastReader
}

func NewRecommendHandler(service *services.RecommendationService, casts CastReader) *RecommendHandler {
	return &RecommendHandler{service: service, casts: casts}
}

type recommendRequest struct {
	Fid       int64   `json:"fid"`
	Threshold float64 `json:"threshold"`
	Count     int     `json:"count"`
	Shape     string  `json:"recommendation_type"`
}

// HandleRecommend answers POST /api/recommend: load the user's recent
// casts, run the engine, return the shaped result.
func (h *RecommendHandler) HandleRecommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if req.Fid <= 0 {
		http.Error(w, "fid is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	casts, err := h.casts.GetCastsByAuthor(ctx, req.Fid, 50)
	if err != nil {
		slog.Error("Failed to load casts for recommendation", "fid", req.Fid, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	casts = filterMinLength(casts)
	if len(casts) == 0 {
		http.Error(w, "No casts found for the user", http.StatusNotFound)
		return
	}

	result, err := h.service.Recommend(ctx, services.Query{
		Casts:     casts,
		Threshold: req.Threshold,
		Count:     req.Count,
		Shape:     services.Shape(req.Shape),
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidShape), errors.Is(err, services.ErrInvalidQuery):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, services.ErrNoEmbeddings):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			slog.Error("Failed to compute recommendations", "fid", req.Fid, "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, result)
}

type searchRequest struct {
	Text      string  `json:"text"`
	Threshold float64 `json:"threshold"`
	Count     int     `json:"count"`
}

type searchResponse struct {
	Casts []storage.FlattenedCast `json:"casts"`
}

// HandleSearch answers POST /api/search: embed the query text and return
// the most similar stored casts.
func (h *RecommendHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	casts, err := h.service.Search(ctx, req.Text, req.Threshold, req.Count)
	if err != nil {
		if errors.Is(err, services.ErrInvalidQuery) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("Failed to search casts", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, searchResponse{Casts: casts})
}

func filterMinLength(casts []storage.FlattenedCast) []storage.FlattenedCast {
	filtered := casts[:0]
	for _, c := range casts {
		if len(c.Text) > services.MinRecommendationTextLen {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
