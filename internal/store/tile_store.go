package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vbonduro/tileinv/internal/db"
	"github.com/vbonduro/tileinv/internal/domain"
)

const tileColumns = `id, name, size, sqft_per_box, total_boxes, location, picture_url, created_at, updated_at`

// TileStore is the SQL table client used by the postgres and sqlite backends.
type TileStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

func NewTileStore(database *sql.DB, driver string) *TileStore {
	return &TileStore{db: database, driver: driver, now: time.Now}
}

func (s *TileStore) List(ctx context.Context) ([]domain.Tile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tileColumns+` FROM tiles ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tiles: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	tiles := make([]domain.Tile, 0)
	for rows.Next() {
		tile, err := scanTile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tile: %w", err)
		}
		tiles = append(tiles, tile)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tiles: %w", err)
	}

	return tiles, nil
}

func (s *TileStore) GetByID(ctx context.Context, id int64) (*domain.Tile, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+tileColumns+` FROM tiles WHERE id = ?
	`), id)

	tile, err := scanTile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tile: %w", err)
	}
	return &tile, nil
}

func (s *TileStore) Insert(ctx context.Context, t domain.NewTile) (*domain.Tile, error) {
	now := s.timestamp()

	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO tiles (name, size, sqft_per_box, total_boxes, location, picture_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), t.Name, t.Size, t.SqftPerBox, t.TotalBoxes, nullString(t.Location), nullString(t.PictureURL), now, now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile: %w", err)
	}

	return s.GetByID(ctx, id)
}

// Update applies patch to the tile. When expectedUpdatedAt is non-zero the write
// only happens if the row still carries that timestamp; otherwise
// domain.ErrConflict is returned.
func (s *TileStore) Update(ctx context.Context, id int64, patch domain.TilePatch, expectedUpdatedAt time.Time) (*domain.Tile, error) {
	if patch.IsEmpty() {
		tile, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if tile == nil {
			return nil, domain.ErrNotFound
		}
		return tile, nil
	}

	var (
		sets []string
		args []any
	)
	if patch.TotalBoxes != nil {
		sets = append(sets, "total_boxes = ?")
		args = append(args, *patch.TotalBoxes)
	}
	if patch.Location != nil {
		sets = append(sets, "location = ?")
		args = append(args, *patch.Location)
	}
	if patch.PictureURL != nil {
		sets = append(sets, "picture_url = ?")
		args = append(args, *patch.PictureURL)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.timestamp())

	query := "UPDATE tiles SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)
	if !expectedUpdatedAt.IsZero() {
		query += " AND updated_at = ?"
		args = append(args, expectedUpdatedAt.UTC())
	}

	result, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update tile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	tile, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tile == nil {
		return nil, domain.ErrNotFound
	}
	if rowsAffected == 0 {
		return nil, domain.ErrConflict
	}
	return tile, nil
}

func (s *TileStore) rebind(query string) string {
	return db.Rebind(s.driver, query)
}

// timestamp is truncated to microseconds so it survives a Postgres round trip
// unchanged.
func (s *TileStore) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTile(row rowScanner) (domain.Tile, error) {
	var (
		tile       domain.Tile
		location   sql.NullString
		pictureURL sql.NullString
	)
	err := row.Scan(&tile.ID, &tile.Name, &tile.Size, &tile.SqftPerBox, &tile.TotalBoxes,
		&location, &pictureURL, &tile.CreatedAt, &tile.UpdatedAt)
	if err != nil {
		return domain.Tile{}, err
	}
	tile.Location = location.String
	tile.PictureURL = pictureURL.String
	tile.CreatedAt = tile.CreatedAt.UTC()
	tile.UpdatedAt = tile.UpdatedAt.UTC()
	return tile, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
