package catalog

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisrepo "github.com/kirinyoku/cinego/internal/repository/redis"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func tmdbServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "en-US", r.URL.Query().Get("language"))

		switch r.URL.Path {
		case "/movie/550":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{
				"id": 550, "title": "Fight Club", "overview": "...",
				"poster_path": "/p.jpg", "backdrop_path": "/b.jpg",
				"release_date": "1999-10-15", "runtime": 139, "vote_average": 8.4,
				"genres": [{"id": 18, "name": "Drama"}]
			}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestMovie_Resolves(t *testing.T) {
	var hits atomic.Int32
	srv := tmdbServer(t, &hits)
	c := New(Config{BaseURL: srv.URL, APIKey: "secret"}, nil, discard)

	m := c.Movie(context.Background(), "550")

	assert.Equal(t, "550", m.ID)
	assert.Equal(t, "Fight Club", m.Title)
	assert.Equal(t, "https://image.tmdb.org/t/p/w500/p.jpg", m.PosterURL)
	assert.Equal(t, "https://image.tmdb.org/t/p/original/b.jpg", m.BackdropURL)
	assert.Equal(t, []string{"Drama"}, m.Genres)
	assert.Equal(t, 139, m.Runtime)
	assert.Empty(t, m.Error)
}

func TestMovie_PlaceholderOnFailure(t *testing.T) {
	var hits atomic.Int32
	srv := tmdbServer(t, &hits)
	c := New(Config{BaseURL: srv.URL, APIKey: "secret"}, nil, discard)

	m := c.Movie(context.Background(), "404")
	assert.Equal(t, "Movie 404", m.Title)
	assert.Equal(t, reasonFetch, m.Error)

	m = c.Movie(context.Background(), "tt-abc")
	assert.Equal(t, "Movie tt-abc", m.Title)
	assert.Equal(t, reasonInvalidRef, m.Error)
	assert.EqualValues(t, 1, hits.Load(), "non-numeric refs never reach the API")
}

func TestMovie_PlaceholderWhenUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, nil, discard)

	m := c.Movie(context.Background(), "550")
	assert.Equal(t, "Movie 550", m.Title)
	assert.NotEmpty(t, m.Error)
}

func TestMovies_Deduplicates(t *testing.T) {
	var hits atomic.Int32
	srv := tmdbServer(t, &hits)
	c := New(Config{BaseURL: srv.URL, APIKey: "secret"}, nil, discard)

	got := c.Movies(context.Background(), []string{"550", "550", "404", "550"})

	require.Len(t, got, 2)
	assert.Equal(t, "Fight Club", got["550"].Title)
	assert.Equal(t, "Movie 404", got["404"].Title)
	assert.EqualValues(t, 2, hits.Load())
}

func TestMovie_ServedFromCache(t *testing.T) {
	var hits atomic.Int32
	srv := tmdbServer(t, &hits)

	db, mock := redismock.NewClientMock()
	mock.ExpectGet(redisrepo.KeyMovie("550")).SetVal(`{"id":"550","title":"Cached Club"}`)

	c := New(Config{BaseURL: srv.URL, APIKey: "secret"}, redisrepo.New(db, discard), discard)

	m := c.Movie(context.Background(), "550")

	assert.Equal(t, "Cached Club", m.Title)
	assert.EqualValues(t, 0, hits.Load())
	assert.NoError(t, mock.ExpectationsWereMet())
}
