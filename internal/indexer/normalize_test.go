package indexer

import (
	"reflect"
	"testing"
	"time"

	"farcaster-indexer/internal/merkle"
	"farcaster-indexer/internal/storage"
)

func TestNormalizeCastDropsReposts(t *testing.T) {
	repost := merkle.Cast{
		Hash:       "0xrepost",
		ThreadHash: "0xrepost",
		Author:     merkle.CastAuthor{Fid: 1},
		Text:       "recast:farcaster://casts/0xoriginal",
	}

	if _, ok := NormalizeCast(repost); ok {
		t.Fatal("repost should be dropped")
	}

	flattened := NormalizeCasts([]merkle.Cast{
		repost,
		{Hash: "0xkeep", ThreadHash: "0xkeep", Author: merkle.CastAuthor{Fid: 1}, Text: "a normal cast"},
	})
	if len(flattened) != 1 {
		t.Fatalf("got %d casts, want 1", len(flattened))
	}
	if flattened[0].Hash != "0xkeep" {
		t.Errorf("kept cast = %s, want 0xkeep", flattened[0].Hash)
	}
}

func TestNormalizeCastFlattensFields(t *testing.T) {
	raw := merkle.Cast{
		Hash:         "0xabc",
		HashV1:       "0xv1",
		ThreadHash:   "0xthread",
		ParentHash:   "0xparent",
		Author: merkle.CastAuthor{
			Fid:         7,
			Username:    "alice",
			DisplayName: "Alice",
			Pfp:         &merkle.PFP{URL: "https://pfp/alice.png", Verified: true},
			// Full author profile data must not leak past flattening.
			Profile: &merkle.ProfileMeta{Bio: merkle.Bio{Text: "my bio"}},
		},
		Text:      "hello there",
		Timestamp: 1678000000000,
		Replies:   merkle.Counter{Count: 3},
		Reactions: merkle.Counter{Count: 4},
		Recasts:   merkle.Counter{Count: 5},
		Watches:   merkle.Counter{Count: 6},
		ParentAuthor: &merkle.Profile{
			Fid:      9,
			Username: "bob",
		},
	}

	flat, ok := NormalizeCast(raw)
	if !ok {
		t.Fatal("cast unexpectedly dropped")
	}

	if flat.Hash != "0xabc" || flat.ThreadHash != "0xthread" {
		t.Errorf("identity fields wrong: %+v", flat)
	}
	if flat.HashV1 == nil || *flat.HashV1 != "0xv1" {
		t.Errorf("HashV1 = %v, want 0xv1", flat.HashV1)
	}
	if flat.ParentHash == nil || *flat.ParentHash != "0xparent" {
		t.Errorf("ParentHash = %v, want 0xparent", flat.ParentHash)
	}
	if flat.AuthorFid != 7 || *flat.AuthorUsername != "alice" || *flat.AuthorDisplayName != "Alice" {
		t.Errorf("author fields wrong: %+v", flat)
	}
	if *flat.AuthorPfpURL != "https://pfp/alice.png" || !flat.AuthorPfpVerified {
		t.Errorf("pfp fields wrong: %+v", flat)
	}
	if !flat.PublishedAt.Equal(time.UnixMilli(1678000000000).UTC()) {
		t.Errorf("PublishedAt = %v", flat.PublishedAt)
	}
	if flat.RepliesCount != 3 || flat.ReactionsCount != 4 || flat.RecastsCount != 5 || flat.WatchesCount != 6 {
		t.Errorf("engagement counters wrong: %+v", flat)
	}
	if flat.ParentAuthorFid == nil || *flat.ParentAuthorFid != 9 || *flat.ParentAuthorUsername != "bob" {
		t.Errorf("parent author fields wrong: %+v", flat)
	}
	if flat.Deleted {
		t.Error("freshly indexed cast must not be marked deleted")
	}
}

func TestNormalizeCastMissingOptionalsMapToNil(t *testing.T) {
	flat, ok := NormalizeCast(merkle.Cast{
		Hash:       "0xbare",
		ThreadHash: "0xbare",
		Author:     merkle.CastAuthor{Fid: 1},
		Text:       "bare minimum",
	})
	if !ok {
		t.Fatal("cast unexpectedly dropped")
	}

	if flat.HashV1 != nil || flat.ParentHash != nil || flat.ParentHashV1 != nil {
		t.Errorf("missing hashes should be nil: %+v", flat)
	}
	if flat.AuthorUsername != nil || flat.AuthorDisplayName != nil || flat.AuthorPfpURL != nil {
		t.Errorf("missing author fields should be nil: %+v", flat)
	}
	if flat.ParentAuthorFid != nil || flat.ParentAuthorUsername != nil {
		t.Errorf("missing parent author should be nil: %+v", flat)
	}
	if flat.Mentions != nil {
		t.Errorf("missing mentions should stay nil, got %+v", flat.Mentions)
	}
}

func TestNormalizeCastTrimsMentions(t *testing.T) {
	raw := merkle.Cast{
		Hash:       "0xm",
		ThreadHash: "0xm",
		Author:     merkle.CastAuthor{Fid: 1},
		Text:       "hey @bob",
		Mentions: []merkle.Mention{
			{
				Fid:         9,
				Username:    "bob",
				DisplayName: "Bob",
				Pfp:         &merkle.PFP{URL: "https://pfp/bob.png", Verified: true},
			},
		},
	}

	flat, ok := NormalizeCast(raw)
	if !ok {
		t.Fatal("cast unexpectedly dropped")
	}

	want := []storage.Mention{{
		Fid:         9,
		Username:    "bob",
		DisplayName: "Bob",
		AvatarURL:   "https://pfp/bob.png",
	}}
	if !reflect.DeepEqual(flat.Mentions, want) {
		t.Errorf("mentions = %+v, want %+v", flat.Mentions, want)
	}
}

func TestNormalizeCastIsPure(t *testing.T) {
	raw := merkle.Cast{
		Hash:       "0xsame",
		ThreadHash: "0xsame",
		Author:     merkle.CastAuthor{Fid: 2, Username: "carol"},
		Text:       "determinism matters",
		Timestamp:  1678000000000,
		Mentions:   []merkle.Mention{{Fid: 3, Username: "dave"}},
	}

	first, ok1 := NormalizeCast(raw)
	second, ok2 := NormalizeCast(raw)
	if !ok1 || !ok2 {
		t.Fatal("cast unexpectedly dropped")
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("identical input produced different output:\n%+v\n%+v", first, second)
	}
}

func TestNormalizeProfile(t *testing.T) {
	followers := int64(100)
	following := int64(50)
	raw := merkle.Profile{
		Fid:              5,
		Username:         "eve",
		DisplayName:      "Eve",
		Pfp:              &merkle.PFP{URL: "https://pfp/eve.png", Verified: false},
		Profile:          &merkle.ProfileMeta{Bio: merkle.Bio{Text: "hi"}},
		FollowerCount:    &followers,
		FollowingCount:   &following,
		ReferrerUsername: "frank",
	}

	flat := NormalizeProfile(raw)

	if flat.ID != 5 || *flat.Username != "eve" || *flat.DisplayName != "Eve" {
		t.Errorf("profile fields wrong: %+v", flat)
	}
	if *flat.AvatarURL != "https://pfp/eve.png" || flat.AvatarVerified {
		t.Errorf("avatar fields wrong: %+v", flat)
	}
	if *flat.Followers != 100 || *flat.Following != 50 {
		t.Errorf("count fields wrong: %+v", flat)
	}
	if *flat.Bio != "hi" || *flat.Referrer != "frank" {
		t.Errorf("bio/referrer wrong: %+v", flat)
	}
}

func TestFillProfileGaps(t *testing.T) {
	profiles := []storage.FlattenedProfile{
		{ID: 5, Username: strPtr("e")},
		{ID: 3, Username: strPtr("c")},
		{ID: 1, Username: strPtr("a")},
	}

	filled := FillProfileGaps(profiles)

	byID := make(map[int64]storage.FlattenedProfile, len(filled))
	for _, p := range filled {
		byID[p.ID] = p
	}

	for id := int64(1); id <= 5; id++ {
		if _, ok := byID[id]; !ok {
			t.Errorf("id %d missing from filled profiles", id)
		}
	}
	if len(filled) != 5 {
		t.Errorf("got %d profiles, want 5", len(filled))
	}

	// Placeholders carry only their id.
	for _, id := range []int64{2, 4} {
		placeholder := byID[id]
		if placeholder.Username != nil || placeholder.DisplayName != nil || placeholder.Bio != nil {
			t.Errorf("placeholder %d should be empty: %+v", id, placeholder)
		}
	}
}

func TestFillProfileGapsEmptyInput(t *testing.T) {
	if filled := FillProfileGaps(nil); len(filled) != 0 {
		t.Errorf("got %d profiles for empty input, want 0", len(filled))
	}
}

func strPtr(s string) *string { return &s }
