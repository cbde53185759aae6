package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned by table clients when no row has the requested id.
	ErrNotFound = errors.New("tile not found")
	// ErrConflict is returned when a conditional update finds the row changed
	// since it was read.
	ErrConflict = errors.New("tile was modified concurrently")
)

type Tile struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Size       string          `json:"size"`
	SqftPerBox decimal.Decimal `json:"sqft_per_box"`
	TotalBoxes int64           `json:"total_boxes"`
	Location   string          `json:"location,omitempty"`
	PictureURL string          `json:"picture_url,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// TotalSqft is the derived square footage of all boxes in stock.
func (t Tile) TotalSqft() decimal.Decimal {
	return t.SqftPerBox.Mul(decimal.NewFromInt(t.TotalBoxes))
}

// NewTile is the insert payload. The store assigns id and timestamps.
type NewTile struct {
	Name       string
	Size       string
	SqftPerBox decimal.Decimal
	TotalBoxes int64
	Location   string
	PictureURL string
}

// TilePatch is a sparse update. Nil fields are left untouched.
type TilePatch struct {
	TotalBoxes *int64
	Location   *string
	PictureURL *string
}

func (p TilePatch) IsEmpty() bool {
	return p.TotalBoxes == nil && p.Location == nil && p.PictureURL == nil
}

// RemainingBoxes returns the stock left after removing n boxes. Stock never
// goes below zero.
func RemainingBoxes(current, n int64) int64 {
	left := current - n
	if left <= 0 {
		return 0
	}
	return left
}

// Stats are the dashboard quick stats.
type Stats struct {
	TileTypes  int
	TotalBoxes int64
	TotalSqft  decimal.Decimal
}

func Summarize(tiles []Tile) Stats {
	stats := Stats{TileTypes: len(tiles), TotalSqft: decimal.Zero}
	for _, t := range tiles {
		stats.TotalBoxes += t.TotalBoxes
		stats.TotalSqft = stats.TotalSqft.Add(t.TotalSqft())
	}
	return stats
}
