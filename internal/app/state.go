// Package app holds the per-session application state and the transition
// function that drives the screen router.
package app

import (
	"time"

	"github.com/vbonduro/tileinv/internal/domain"
)

type View string

const (
	ViewLogin     View = "login"
	ViewDashboard View = "dashboard"
	ViewAdd       View = "add"
	ViewRemove    View = "remove"
	ViewUpdate    View = "update"
	ViewList      View = "view"
)

// ParseView maps a form value to a screen an authenticated operator may open.
func ParseView(s string) (View, bool) {
	switch v := View(s); v {
	case ViewDashboard, ViewAdd, ViewRemove, ViewUpdate, ViewList:
		return v, true
	}
	return "", false
}

// AddForm keeps the raw add inputs so a failed submission can be re-rendered.
type AddForm struct {
	Name       string `json:"name"`
	Size       string `json:"size"`
	SqftPerBox string `json:"sqft_per_box"`
	TotalBoxes string `json:"total_boxes"`
	Location   string `json:"location"`
	PictureURL string `json:"picture_url"`
}

// RemoveForm is the remove screen selection. SelectedUpdatedAt is the row
// version seen when the tile was picked.
type RemoveForm struct {
	TileID            int64     `json:"tile_id"`
	SelectedUpdatedAt time.Time `json:"selected_updated_at"`
	Boxes             string    `json:"boxes"`
}

type UpdateForm struct {
	TileID            int64     `json:"tile_id"`
	SelectedUpdatedAt time.Time `json:"selected_updated_at"`
	TotalBoxes        string    `json:"total_boxes"`
	Location          string    `json:"location"`
	PictureURL        string    `json:"picture_url"`
}

// State is everything one browser session knows. It is replaced, never
// mutated in place, by Reduce.
type State struct {
	Authenticated bool          `json:"authenticated"`
	View          View          `json:"view"`
	LoginError    string        `json:"login_error,omitempty"`
	Tiles         []domain.Tile `json:"tiles"`
	Add           AddForm       `json:"add"`
	Remove        RemoveForm    `json:"remove"`
	Update        UpdateForm    `json:"update"`
	Notice        string        `json:"notice,omitempty"`
}

// Screen is the screen to render. Unauthenticated sessions always see login.
func (s State) Screen() View {
	if !s.Authenticated {
		return ViewLogin
	}
	if s.View == "" || s.View == ViewLogin {
		return ViewDashboard
	}
	return s.View
}

func (s State) Stats() domain.Stats {
	return domain.Summarize(s.Tiles)
}

// FindTile looks id up in the cached tiles.
func (s State) FindTile(id int64) (domain.Tile, bool) {
	for _, t := range s.Tiles {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Tile{}, false
}

func (s State) RemoveSelection() (domain.Tile, bool) {
	if s.Remove.TileID == 0 {
		return domain.Tile{}, false
	}
	return s.FindTile(s.Remove.TileID)
}

func (s State) UpdateSelection() (domain.Tile, bool) {
	if s.Update.TileID == 0 {
		return domain.Tile{}, false
	}
	return s.FindTile(s.Update.TileID)
}
