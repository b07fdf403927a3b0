package postgresrepo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirinyoku/cinego/internal/domain"
)

type CatalogRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *CatalogRepo) With(db DB) *CatalogRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *CatalogRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *CatalogRepo) CreateTheatre(ctx context.Context, t *domain.Theatre) error {
	const op = "postgresrepo.CatalogRepo.CreateTheatre"

	_, err := r.handle().Exec(ctx,
		`INSERT INTO theatres(id, name, location, created_at)
		 VALUES ($1, $2, $3, $4)`,
		t.ID, t.Name, t.Location, t.CreatedAt,
	)

	return wrapDBErr(op, err)
}

func (r *CatalogRepo) GetTheatre(ctx context.Context, id string) (*domain.Theatre, error) {
	const op = "postgresrepo.CatalogRepo.GetTheatre"

	var t domain.Theatre
	err := r.handle().QueryRow(ctx,
		`SELECT id, name, location, created_at
		 FROM theatres WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.Name, &t.Location, &t.CreatedAt)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &t, nil
}

// CreateScreen inserts a screen together with its seat layout.
//
// Returns:
//   - error: repository.ErrNotFound if the theatre does not exist.
//   - error: repository.ErrConflict if the id is taken.
func (r *CatalogRepo) CreateScreen(ctx context.Context, s *domain.Screen) error {
	const op = "postgresrepo.CatalogRepo.CreateScreen"

	layout, err := json.Marshal(s.Layout)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	_, err = r.handle().Exec(ctx,
		`INSERT INTO screens(id, theatre_id, name, seat_layout, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)`,
		s.ID, s.TheatreID, s.Name, layout, s.CreatedAt,
	)

	return wrapDBErr(op, err)
}

func (r *CatalogRepo) GetScreen(ctx context.Context, id string) (*domain.Screen, error) {
	return r.getScreen(ctx, "postgresrepo.CatalogRepo.GetScreen", id, "")
}

func (r *CatalogRepo) LockScreen(ctx context.Context, id string) (*domain.Screen, error) {
	return r.getScreen(ctx, "postgresrepo.CatalogRepo.LockScreen", id, " FOR UPDATE")
}

func (r *CatalogRepo) getScreen(ctx context.Context, op, id, suffix string) (*domain.Screen, error) {
	var (
		s      domain.Screen
		layout []byte
	)
	err := r.handle().QueryRow(ctx,
		`SELECT id, theatre_id, name, seat_layout, created_at
		 FROM screens WHERE id = $1`+suffix,
		id,
	).Scan(&s.ID, &s.TheatreID, &s.Name, &layout, &s.CreatedAt)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	if err := json.Unmarshal(layout, &s.Layout); err != nil {
		return nil, fmt.Errorf("%s: decode layout: %w", op, err)
	}

	return &s, nil
}

func (r *CatalogRepo) UpdateScreenLayout(ctx context.Context, id string, layout []domain.SeatRow) error {
	const op = "postgresrepo.CatalogRepo.UpdateScreenLayout"

	b, err := json.Marshal(layout)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	tag, err := r.handle().Exec(ctx,
		`UPDATE screens SET seat_layout = $2::jsonb WHERE id = $1`,
		id, b,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return mustAffect(op, tag.RowsAffected())
}
