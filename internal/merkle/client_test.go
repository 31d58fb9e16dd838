package merkle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeCastChecker struct {
	known map[string]bool
}

func (f fakeCastChecker) CastExists(_ context.Context, hash string) (bool, error) {
	return f.known[hash], nil
}

type fakeProfileChecker struct {
	known map[int64]bool
}

func (f fakeProfileChecker) ProfileExists(_ context.Context, id int64) (bool, error) {
	return f.known[id], nil
}

func castNamed(hash string) Cast {
	return Cast{
		Hash:       hash,
		ThreadHash: hash,
		Author:     CastAuthor{Fid: 1, Username: "alice"},
		Text:       "text of " + hash,
	}
}

// newCastServer serves pages of casts linked by simple numbered cursors and
// counts the pages requested.
func newCastServer(t *testing.T, pages [][]Cast, requested *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/recent-casts" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}

		page := 0
		if cursor := r.URL.Query().Get("cursor"); cursor != "" {
			fmt.Sscanf(cursor, "page-%d", &page)
		}
		if page >= len(pages) {
			t.Errorf("requested page %d past the end", page)
			http.NotFound(w, r)
			return
		}
		*requested++

		resp := Response{Result: &Result{Casts: pages[page]}}
		if page+1 < len(pages) {
			resp.Next = &Next{Cursor: fmt.Sprintf("page-%d", page+1)}
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestGetAllCastsVisitsEveryPageInOrder(t *testing.T) {
	pages := [][]Cast{
		{castNamed("0xa1"), castNamed("0xa2")},
		{castNamed("0xb1"), castNamed("0xb2")},
		{castNamed("0xc1")},
	}
	requested := 0
	server := newCastServer(t, pages, &requested)
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	casts, err := client.GetAllCasts(context.Background(), FetchOptions{}, fakeCastChecker{})
	if err != nil {
		t.Fatalf("GetAllCasts() error: %v", err)
	}

	wantHashes := []string{"0xa1", "0xa2", "0xb1", "0xb2", "0xc1"}
	if len(casts) != len(wantHashes) {
		t.Fatalf("got %d casts, want %d", len(casts), len(wantHashes))
	}
	for i, want := range wantHashes {
		if casts[i].Hash != want {
			t.Errorf("cast %d = %s, want %s", i, casts[i].Hash, want)
		}
	}
	if requested != 3 {
		t.Errorf("requested %d pages, want 3", requested)
	}
}

func TestGetAllCastsStopsAtLimitKeepingFullPage(t *testing.T) {
	pages := [][]Cast{
		{castNamed("0xa1"), castNamed("0xa2")},
		{castNamed("0xb1"), castNamed("0xb2")},
		{castNamed("0xc1")},
	}
	requested := 0
	server := newCastServer(t, pages, &requested)
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	casts, err := client.GetAllCasts(context.Background(), FetchOptions{Limit: 3}, fakeCastChecker{})
	if err != nil {
		t.Fatalf("GetAllCasts() error: %v", err)
	}

	// The page crossing the cap is kept whole.
	if len(casts) != 4 {
		t.Fatalf("got %d casts, want 4", len(casts))
	}
	if requested != 2 {
		t.Errorf("requested %d pages, want 2", requested)
	}
}

func TestGetAllCastsIncrementalStopIsInclusive(t *testing.T) {
	pages := [][]Cast{
		{castNamed("0xa1"), castNamed("0xa2")},
		{castNamed("0xb1"), castNamed("0xb2")},
		{castNamed("0xc1")},
	}
	requested := 0
	server := newCastServer(t, pages, &requested)
	defer server.Close()

	// The last cast of page 2 is already indexed.
	checker := fakeCastChecker{known: map[string]bool{"0xb2": true}}

	client := NewClient(server.URL, "test-token")
	casts, err := client.GetAllCasts(context.Background(), FetchOptions{StopAtKnown: true}, checker)
	if err != nil {
		t.Fatalf("GetAllCasts() error: %v", err)
	}

	// Pages 1..2 in full, page 3 never requested.
	if len(casts) != 4 {
		t.Fatalf("got %d casts, want 4", len(casts))
	}
	if casts[3].Hash != "0xb2" {
		t.Errorf("last cast = %s, want 0xb2", casts[3].Hash)
	}
	if requested != 2 {
		t.Errorf("requested %d pages, want 2", requested)
	}
}

func TestGetAllCastsMalformedPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": {}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	_, err := client.GetAllCasts(context.Background(), FetchOptions{}, fakeCastChecker{})
	if !errors.Is(err, ErrMalformedPage) {
		t.Fatalf("GetAllCasts() error = %v, want ErrMalformedPage", err)
	}
}

func TestGetAllProfilesIncrementalStop(t *testing.T) {
	pages := [][]Profile{
		{{Fid: 10, Username: "j"}, {Fid: 9, Username: "i"}},
		{{Fid: 8, Username: "h"}, {Fid: 7, Username: "g"}},
		{{Fid: 6, Username: "f"}},
	}
	requested := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := 0
		if cursor := r.URL.Query().Get("cursor"); cursor != "" {
			fmt.Sscanf(cursor, "page-%d", &page)
		}
		requested++

		resp := Response{Result: &Result{Users: pages[page]}}
		if page+1 < len(pages) {
			resp.Next = &Next{Cursor: fmt.Sprintf("page-%d", page+1)}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	checker := fakeProfileChecker{known: map[int64]bool{7: true}}

	client := NewClient(server.URL, "test-token")
	profiles, err := client.GetAllProfiles(context.Background(), FetchOptions{StopAtKnown: true}, checker)
	if err != nil {
		t.Fatalf("GetAllProfiles() error: %v", err)
	}

	if len(profiles) != 4 {
		t.Fatalf("got %d profiles, want 4", len(profiles))
	}
	if requested != 2 {
		t.Errorf("requested %d pages, want 2", requested)
	}
}

func TestGetCurrentUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/me" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization header = %q", got)
		}
		json.NewEncoder(w).Encode(Response{Result: &Result{User: &Profile{Fid: 42, Username: "me"}}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	user, err := client.GetCurrentUser(context.Background())
	if err != nil {
		t.Fatalf("GetCurrentUser() error: %v", err)
	}
	if user.Fid != 42 || user.Username != "me" {
		t.Errorf("got user %+v", user)
	}
}

func TestGetUserCastLikes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("fid"); got != "42" {
			t.Errorf("fid query = %q", got)
		}
		json.NewEncoder(w).Encode(Response{Result: &Result{Likes: []LikeReaction{
			{Type: "like", CastHash: "0xliked", Reactor: Profile{Fid: 42}},
		}}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	likes, err := client.GetUserCastLikes(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetUserCastLikes() error: %v", err)
	}
	if len(likes) != 1 || likes[0].CastHash != "0xliked" {
		t.Errorf("got likes %+v", likes)
	}
}
