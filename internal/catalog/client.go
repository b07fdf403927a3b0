// Package catalog resolves movie references against a TMDB-compatible API.
//
// Lookups never fail from the caller's point of view: an unknown reference, a
// timeout or a non-2xx answer all produce a placeholder, so showtime listings
// keep working while the catalog is down.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirinyoku/cinego/internal/domain"
	redisrepo "github.com/kirinyoku/cinego/internal/repository/redis"
)

const (
	posterBase   = "https://image.tmdb.org/t/p/w500"
	backdropBase = "https://image.tmdb.org/t/p/original"

	reasonInvalidRef = "Invalid movie ID"
	reasonFetch      = "Failed to fetch details"

	maxParallel = 8
)

var numericRef = regexp.MustCompile(`^\d+$`)

type Config struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	CacheTTL time.Duration
}

type Client struct {
	cfg    Config
	http   *http.Client
	cache  *redisrepo.Cache
	logger *slog.Logger
}

// New builds a client. cache may be nil, in which case every lookup goes to the API.
func New(cfg Config, cache *redisrepo.Cache, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.themoviedb.org/3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		cache:  cache,
		logger: logger,
	}
}

// Movie returns the details for ref or a placeholder carrying the failure reason.
func (c *Client) Movie(ctx context.Context, ref string) domain.MovieDetails {
	if !numericRef.MatchString(ref) {
		return domain.PlaceholderMovie(ref, reasonInvalidRef)
	}

	load := func(ctx context.Context) (domain.MovieDetails, error) {
		return c.fetch(ctx, ref)
	}

	var (
		m   domain.MovieDetails
		err error
	)
	if c.cache != nil {
		m, err = redisrepo.GetOrSetJSON(ctx, c.cache, redisrepo.KeyMovie(ref), c.cfg.CacheTTL, load)
	} else {
		m, err = load(ctx)
	}

	if err != nil {
		c.logger.Warn("movie lookup failed", "ref", ref, "err", err)
		return domain.PlaceholderMovie(ref, reasonFetch)
	}

	return m
}

// Movies resolves refs in parallel, querying each distinct ref once.
func (c *Client) Movies(ctx context.Context, refs []string) map[string]domain.MovieDetails {
	out := make(map[string]domain.MovieDetails, len(refs))

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}

		g.Go(func() error {
			m := c.Movie(gCtx, ref)

			mu.Lock()
			out[ref] = m
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	return out
}

type tmdbMovie struct {
	ID           int     `json:"id"`
	Title        string  `json:"title"`
	Overview     string  `json:"overview"`
	PosterPath   string  `json:"poster_path"`
	BackdropPath string  `json:"backdrop_path"`
	ReleaseDate  string  `json:"release_date"`
	Runtime      int     `json:"runtime"`
	VoteAverage  float64 `json:"vote_average"`
	Genres       []struct {
		Name string `json:"name"`
	} `json:"genres"`
}

func (c *Client) fetch(ctx context.Context, ref string) (domain.MovieDetails, error) {
	const op = "catalog.Client.fetch"

	u := fmt.Sprintf("%s/movie/%s?%s",
		strings.TrimRight(c.cfg.BaseURL, "/"),
		url.PathEscape(ref),
		url.Values{"language": {"en-US"}}.Encode(),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.MovieDetails{}, fmt.Errorf("%s:%w", op, err)
	}

	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		auth := c.cfg.APIKey
		if !strings.HasPrefix(auth, "Bearer ") {
			auth = "Bearer " + auth
		}
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.MovieDetails{}, fmt.Errorf("%s:%w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.MovieDetails{}, fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}

	var tm tmdbMovie
	if err := json.NewDecoder(resp.Body).Decode(&tm); err != nil {
		return domain.MovieDetails{}, fmt.Errorf("%s: decode: %w", op, err)
	}

	m := domain.MovieDetails{
		ID:          ref,
		Title:       tm.Title,
		Overview:    tm.Overview,
		ReleaseDate: tm.ReleaseDate,
		Runtime:     tm.Runtime,
		VoteAverage: tm.VoteAverage,
		Genres:      make([]string, 0, len(tm.Genres)),
	}
	if tm.PosterPath != "" {
		m.PosterURL = posterBase + tm.PosterPath
	}
	if tm.BackdropPath != "" {
		m.BackdropURL = backdropBase + tm.BackdropPath
	}
	for _, g := range tm.Genres {
		m.Genres = append(m.Genres, g.Name)
	}

	return m, nil
}
