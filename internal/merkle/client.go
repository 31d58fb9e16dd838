package merkle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"farcaster-indexer/internal/metrics"
)

// ErrMalformedPage is returned when a page response is missing the expected
// result field. The caller decides whether to abort or retry; the client
// never retries on its own.
var ErrMalformedPage = errors.New("merkle: malformed page payload")

const pageLimit = 1000

// CastChecker reports whether a cast hash is already present in storage.
type CastChecker interface {
	CastExists(ctx context.Context, hash string) (bool, error)
}

// ProfileChecker reports whether a profile id is already present in storage.
type ProfileChecker interface {
	ProfileExists(ctx context.Context, id int64) (bool, error)
}

// FetchOptions controls a paginated fetch.
type FetchOptions struct {
	// Limit stops the fetch once the running total reaches or exceeds it.
	// Zero means no cap. The page that crosses the cap is kept in full.
	Limit int
	// StopAtKnown stops after the first page whose last record already
	// exists in storage. The boundary page is kept in full.
	StopAtKnown bool
}

// Client is a Merkle (Warpcast) v2 API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		// The upstream allows roughly 5 rps sustained; stay under it.
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.MerkleAPICalls.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.MerkleAPICalls.WithLabelValues(endpoint, "error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, endpoint, body)
	}

	var parsed Response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		metrics.MerkleAPICalls.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("decode response: %w", err)
	}

	metrics.MerkleAPICalls.WithLabelValues(endpoint, "success").Inc()
	return &parsed, nil
}

// GetAllCasts walks the recent-casts endpoint page by page, oldest page
// first in upstream order, and returns the accumulated casts.
func (c *Client) GetAllCasts(ctx context.Context, opts FetchOptions, known CastChecker) ([]Cast, error) {
	var allCasts []Cast
	cursor := ""

	for {
		query := url.Values{"limit": {strconv.Itoa(pageLimit)}}
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		resp, err := c.get(ctx, "/v2/recent-casts", query)
		if err != nil {
			return nil, err
		}
		if resp.Result == nil || resp.Result.Casts == nil {
			return nil, fmt.Errorf("%w: no casts in response", ErrMalformedPage)
		}

		casts := resp.Result.Casts
		allCasts = append(allCasts, casts...)
		metrics.MerklePagesFetched.WithLabelValues("casts").Inc()

		// The boundary page is inclusive: when its last cast is already
		// known the page has been appended before we stop.
		if opts.StopAtKnown && len(casts) > 0 {
			exists, err := known.CastExists(ctx, casts[len(casts)-1].Hash)
			if err != nil {
				return nil, err
			}
			if exists {
				slog.Debug("reached known cast, stopping fetch",
					slog.String("hash", casts[len(casts)-1].Hash),
					slog.Int("fetched", len(allCasts)))
				break
			}
		}

		if opts.Limit > 0 && len(allCasts) >= opts.Limit {
			break
		}

		if resp.Next == nil || resp.Next.Cursor == "" {
			break
		}
		cursor = resp.Next.Cursor
	}

	return allCasts, nil
}

// GetAllProfiles walks the recent-users endpoint page by page and returns
// the accumulated profiles, newest (highest fid) first in upstream order.
func (c *Client) GetAllProfiles(ctx context.Context, opts FetchOptions, known ProfileChecker) ([]Profile, error) {
	var allProfiles []Profile
	cursor := ""

	for {
		query := url.Values{"filter": {"off"}, "limit": {strconv.Itoa(pageLimit)}}
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		resp, err := c.get(ctx, "/v2/recent-users", query)
		if err != nil {
			return nil, err
		}
		if resp.Result == nil || resp.Result.Users == nil {
			return nil, fmt.Errorf("%w: no users in response", ErrMalformedPage)
		}

		profiles := resp.Result.Users
		allProfiles = append(allProfiles, profiles...)
		metrics.MerklePagesFetched.WithLabelValues("profiles").Inc()

		if opts.StopAtKnown && len(profiles) > 0 {
			exists, err := known.ProfileExists(ctx, profiles[len(profiles)-1].Fid)
			if err != nil {
				return nil, err
			}
			if exists {
				slog.Debug("reached known profile, stopping fetch",
					slog.Int64("fid", profiles[len(profiles)-1].Fid),
					slog.Int("fetched", len(allProfiles)))
				break
			}
		}

		if opts.Limit > 0 && len(allProfiles) >= opts.Limit {
			break
		}

		if resp.Next == nil || resp.Next.Cursor == "" {
			break
		}
		cursor = resp.Next.Cursor
	}

	return allProfiles, nil
}

// GetUserCasts fetches the most recent casts authored by a single user.
func (c *Client) GetUserCasts(ctx context.Context, fid int64) ([]Cast, error) {
	resp, err := c.get(ctx, "/v2/casts", url.Values{"fid": {strconv.FormatInt(fid, 10)}})
	if err != nil {
		return nil, err
	}
	if resp.Result == nil || resp.Result.Casts == nil {
		return nil, fmt.Errorf("%w: no casts in response", ErrMalformedPage)
	}
	return resp.Result.Casts, nil
}

// GetUserCastLikes fetches the casts a user has liked.
func (c *Client) GetUserCastLikes(ctx context.Context, fid int64) ([]LikeReaction, error) {
	resp, err := c.get(ctx, "/v2/user-cast-likes", url.Values{"fid": {strconv.FormatInt(fid, 10)}})
	if err != nil {
		return nil, err
	}
	if resp.Result == nil || resp.Result.Likes == nil {
		return nil, fmt.Errorf("%w: no likes in response", ErrMalformedPage)
	}
	return resp.Result.Likes, nil
}

// GetCurrentUser fetches the profile the auth token belongs to.
func (c *Client) GetCurrentUser(ctx context.Context) (*Profile, error) {
	resp, err := c.get(ctx, "/v2/me", nil)
	if err != nil {
		return nil, err
	}
	if resp.Result == nil || resp.Result.User == nil {
		return nil, fmt.Errorf("%w: no user in response", ErrMalformedPage)
	}
	return resp.Result.User, nil
}
