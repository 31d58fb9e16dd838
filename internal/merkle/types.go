package merkle

// Response is the envelope returned by every v2 Merkle API endpoint.
// Exactly one of the Result fields is populated depending on the endpoint.
type Response struct {
	Result *Result `json:"result"`
	Next   *Next   `json:"next,omitempty"`
}

type Result struct {
	Casts []Cast         `json:"casts,omitempty"`
	Users []Profile      `json:"users,omitempty"`
	User  *Profile       `json:"user,omitempty"`
	Likes []LikeReaction `json:"likes,omitempty"`
}

// Next carries the opaque cursor for the following page.
type Next struct {
	Cursor string `json:"cursor"`
}

type PFP struct {
	URL      string `json:"url"`
	Verified bool   `json:"verified"`
}

type Bio struct {
	Text     string   `json:"text"`
	Mentions []string `json:"mentions,omitempty"`
}

type ProfileMeta struct {
	Bio Bio `json:"bio"`
}

type Profile struct {
	Fid              int64        `json:"fid"`
	Username         string       `json:"username,omitempty"`
	DisplayName      string       `json:"displayName,omitempty"`
	Pfp              *PFP         `json:"pfp,omitempty"`
	Profile          *ProfileMeta `json:"profile,omitempty"`
	FollowerCount    *int64       `json:"followerCount,omitempty"`
	FollowingCount   *int64       `json:"followingCount,omitempty"`
	ReferrerUsername string       `json:"referrerUsername,omitempty"`
}

type CastAuthor struct {
	Fid         int64        `json:"fid"`
	Username    string       `json:"username,omitempty"`
	DisplayName string       `json:"displayName,omitempty"`
	Pfp         *PFP         `json:"pfp,omitempty"`
	Profile     *ProfileMeta `json:"profile,omitempty"`
}

// Mention is the profile subset the API nests inside a cast's mention list.
type Mention struct {
	Fid         int64  `json:"fid"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Pfp         *PFP   `json:"pfp,omitempty"`
}

type Counter struct {
	Count int64 `json:"count"`
}

type Cast struct {
	Hash         string     `json:"hash"`
	HashV1       string     `json:"_hashV1,omitempty"`
	ThreadHash   string     `json:"threadHash"`
	ThreadHashV1 string     `json:"_threadHashV1,omitempty"`
	ParentHash   string     `json:"parentHash,omitempty"`
	ParentHashV1 string     `json:"_parentHashV1,omitempty"`
	Author       CastAuthor `json:"author"`
	Text         string     `json:"text"`
	Timestamp    int64      `json:"timestamp"` // unix milliseconds
	Mentions     []Mention  `json:"mentions,omitempty"`
	Replies      Counter    `json:"replies"`
	Reactions    Counter    `json:"reactions"`
	Recasts      Counter    `json:"recasts"`
	Watches      Counter    `json:"watches"`
	ParentAuthor *Profile   `json:"parentAuthor,omitempty"`
}

type LikeReaction struct {
	Type     string  `json:"type"`
	Hash     string  `json:"hash"`
	CastHash string  `json:"castHash"`
	Reactor  Profile `json:"reactor"`
}
