package indexer

import (
	"strings"
	"time"

	"farcaster-indexer/internal/merkle"
	"farcaster-indexer/internal/storage"
)

// repostPrefix marks casts that are pure reposts of another cast.
const repostPrefix = "recast:farcaster://"

// NormalizeCast flattens a raw cast into its storage row. The second return
// is false for reposts, which are dropped. Pure function: no I/O, identical
// input yields an identical row.
func NormalizeCast(c merkle.Cast) (storage.FlattenedCast, bool) {
	if strings.HasPrefix(c.Text, repostPrefix) {
		return storage.FlattenedCast{}, false
	}

	flat := storage.FlattenedCast{
		Hash:              c.Hash,
		HashV1:            optionalString(c.HashV1),
		ThreadHash:        c.ThreadHash,
		ThreadHashV1:      optionalString(c.ThreadHashV1),
		ParentHash:        optionalString(c.ParentHash),
		ParentHashV1:      optionalString(c.ParentHashV1),
		AuthorFid:         c.Author.Fid,
		AuthorUsername:    optionalString(c.Author.Username),
		AuthorDisplayName: optionalString(c.Author.DisplayName),
		Text:              c.Text,
		PublishedAt:       time.UnixMilli(c.Timestamp).UTC(),
		RepliesCount:      c.Replies.Count,
		ReactionsCount:    c.Reactions.Count,
		RecastsCount:      c.Recasts.Count,
		WatchesCount:      c.Watches.Count,
		Deleted:           false,
	}

	if c.Author.Pfp != nil {
		flat.AuthorPfpURL = optionalString(c.Author.Pfp.URL)
		flat.AuthorPfpVerified = c.Author.Pfp.Verified
	}

	if c.ParentAuthor != nil {
		fid := c.ParentAuthor.Fid
		flat.ParentAuthorFid = &fid
		flat.ParentAuthorUsername = optionalString(c.ParentAuthor.Username)
	}

	// Keep only the public subset of each mention, never the full profile.
	if c.Mentions != nil {
		mentions := make([]storage.Mention, 0, len(c.Mentions))
		for _, m := range c.Mentions {
			mention := storage.Mention{
				Fid:         m.Fid,
				Username:    m.Username,
				DisplayName: m.DisplayName,
			}
			if m.Pfp != nil {
				mention.AvatarURL = m.Pfp.URL
			}
			mentions = append(mentions, mention)
		}
		flat.Mentions = mentions
	}

	return flat, true
}

// NormalizeCasts flattens a page-ordered batch of casts, dropping reposts.
func NormalizeCasts(casts []merkle.Cast) []storage.FlattenedCast {
	flattened := make([]storage.FlattenedCast, 0, len(casts))
	for _, c := range casts {
		if flat, ok := NormalizeCast(c); ok {
			flattened = append(flattened, flat)
		}
	}
	return flattened
}

// NormalizeProfile flattens a raw profile into its storage row.
func NormalizeProfile(p merkle.Profile) storage.FlattenedProfile {
	flat := storage.FlattenedProfile{
		ID:          p.Fid,
		Username:    optionalString(p.Username),
		DisplayName: optionalString(p.DisplayName),
		Followers:   p.FollowerCount,
		Following:   p.FollowingCount,
		Referrer:    optionalString(p.ReferrerUsername),
	}

	if p.Pfp != nil {
		flat.AvatarURL = optionalString(p.Pfp.URL)
		flat.AvatarVerified = p.Pfp.Verified
	}

	if p.Profile != nil {
		flat.Bio = optionalString(p.Profile.Bio.Text)
	}

	return flat
}

func NormalizeProfiles(profiles []merkle.Profile) []storage.FlattenedProfile {
	flattened := make([]storage.FlattenedProfile, 0, len(profiles))
	for _, p := range profiles {
		flattened = append(flattened, NormalizeProfile(p))
	}
	return flattened
}

// FillProfileGaps materializes placeholder rows for every fid missing from
// 1..max(fid), so the id space stays dense. Upstream filters some accounts
// out of its listing; those ids still get a row carrying only the id.
func FillProfileGaps(profiles []storage.FlattenedProfile) []storage.FlattenedProfile {
	var maxID int64
	seen := make(map[int64]bool, len(profiles))
	for _, p := range profiles {
		seen[p.ID] = true
		if p.ID > maxID {
			maxID = p.ID
		}
	}

	filled := profiles
	for id := int64(1); id <= maxID; id++ {
		if !seen[id] {
			filled = append(filled, storage.FlattenedProfile{ID: id})
		}
	}
	return filled
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
