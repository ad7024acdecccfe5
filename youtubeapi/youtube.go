// Package youtubeapi resolves music-request arguments to YouTube video ids.
// Direct links are parsed locally; free-text terms fall back to the YouTube
// Data API search endpoint when an API key is configured.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// ErrNoVideo means the input matched no video, either as a link or a search.
var ErrNoVideo = errors.New("no matching video")

var (
	// Canonical 11-character video id, as found in watch, share, shorts and
	// embed URLs.
	linkIDPattern = regexp.MustCompile(`(?:v=|youtu\.be/|shorts/|embed/)([A-Za-z0-9_-]{11})`)
	bareIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
)

// Resolver turns chat arguments into video ids.
type Resolver struct {
	apiKey string

	// search is swapped in tests; defaults to the Data API search call.
	search func(ctx context.Context, query string) (string, error)
}

// New creates a Resolver. An empty apiKey disables search; only direct links
// and bare ids resolve then.
func New(apiKey string) *Resolver {
	r := &Resolver{apiKey: apiKey}
	r.search = r.apiSearch
	return r
}

// ResolveVideoID extracts a video id from a link or bare id, falling back to
// a search for free-text input.
func (r *Resolver) ResolveVideoID(ctx context.Context, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrNoVideo
	}
	if bareIDPattern.MatchString(input) {
		return input, nil
	}
	if m := linkIDPattern.FindStringSubmatch(input); m != nil {
		return m[1], nil
	}
	if looksLikeYouTubeURL(input) {
		// A YouTube URL without a recognizable id is a bad link, not a
		// search term.
		return "", ErrNoVideo
	}
	if r.apiKey == "" {
		return "", ErrNoVideo
	}
	return r.search(ctx, input)
}

func looksLikeYouTubeURL(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "youtube.com/") || strings.Contains(s, "youtu.be/")
}

func (r *Resolver) apiSearch(ctx context.Context, query string) (string, error) {
	svc, err := yt.NewService(ctx, option.WithAPIKey(r.apiKey))
	if err != nil {
		return "", fmt.Errorf("youtube service: %w", err)
	}
	resp, err := svc.Search.List([]string{"id"}).
		Q(query).
		Type("video").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("youtube search: %w", err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Id == nil || resp.Items[0].Id.VideoId == "" {
		return "", ErrNoVideo
	}
	return resp.Items[0].Id.VideoId, nil
}
