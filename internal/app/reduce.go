package app

import (
	"slices"

	"github.com/vbonduro/tileinv/internal/domain"
)

const (
	NoticeInvalidPassword = "Invalid password"
	NoticeBusy            = "Still working on your previous request."
)

// Action is a transition input for Reduce.
type Action interface {
	isAction()
}

type (
	LoginSucceeded struct{}
	LoginFailed    struct{}
	LoggedOut      struct{}

	Navigated struct {
		To View
	}

	TilesRefreshed struct {
		Tiles []domain.Tile
	}
	// RefreshFailed leaves the cache as it was.
	RefreshFailed struct{}

	TileSelected struct {
		View   View
		TileID int64
	}

	AddSucceeded struct{}
	AddFailed    struct {
		Form   AddForm
		Notice string
	}

	RemoveSucceeded struct{}
	RemoveFailed    struct {
		Form   RemoveForm
		Notice string
	}

	UpdateSucceeded struct{}
	UpdateFailed    struct {
		Form   UpdateForm
		Notice string
	}

	// Busy reports that a mutation was refused because another is in flight.
	Busy struct{}
)

func (LoginSucceeded) isAction()  {}
func (LoginFailed) isAction()     {}
func (LoggedOut) isAction()       {}
func (Navigated) isAction()       {}
func (TilesRefreshed) isAction()  {}
func (RefreshFailed) isAction()   {}
func (TileSelected) isAction()    {}
func (AddSucceeded) isAction()    {}
func (AddFailed) isAction()       {}
func (RemoveSucceeded) isAction() {}
func (RemoveFailed) isAction()    {}
func (UpdateSucceeded) isAction() {}
func (UpdateFailed) isAction()    {}
func (Busy) isAction()            {}

// Reduce returns the state that follows s after a. It has no side effects.
func Reduce(s State, a Action) State {
	if !s.Authenticated {
		switch a.(type) {
		case LoginSucceeded:
			return State{Authenticated: true, View: ViewDashboard}
		case LoginFailed:
			return State{LoginError: NoticeInvalidPassword}
		default:
			return s
		}
	}

	switch a := a.(type) {
	case LoggedOut:
		return State{}

	case Navigated:
		if _, ok := ParseView(string(a.To)); !ok {
			return s
		}
		next := withTiles(s)
		next.View = a.To
		return next

	case TilesRefreshed:
		s.Tiles = slices.Clone(a.Tiles)
		if _, ok := s.FindTile(s.Remove.TileID); !ok {
			s.Remove = RemoveForm{}
		}
		if _, ok := s.FindTile(s.Update.TileID); !ok {
			s.Update = UpdateForm{}
		}
		return s

	case TileSelected:
		tile, found := s.FindTile(a.TileID)
		s.Notice = ""
		switch a.View {
		case ViewRemove:
			s.View = ViewRemove
			s.Remove = RemoveForm{}
			if found {
				s.Remove = RemoveForm{TileID: tile.ID, SelectedUpdatedAt: tile.UpdatedAt}
			}
		case ViewUpdate:
			s.View = ViewUpdate
			s.Update = UpdateForm{}
			if found {
				s.Update = UpdateForm{TileID: tile.ID, SelectedUpdatedAt: tile.UpdatedAt}
			}
		}
		return s

	case AddSucceeded:
		next := withTiles(s)
		next.View = ViewDashboard
		return next

	case AddFailed:
		s.View = ViewAdd
		s.Add = a.Form
		s.Notice = a.Notice
		return s

	case RemoveSucceeded:
		s.Remove = RemoveForm{}
		s.Notice = ""
		return s

	case RemoveFailed:
		s.View = ViewRemove
		s.Remove = a.Form
		s.Notice = a.Notice
		return s

	case UpdateSucceeded:
		s.Update = UpdateForm{}
		s.Notice = ""
		return s

	case UpdateFailed:
		s.View = ViewUpdate
		s.Update = a.Form
		s.Notice = a.Notice
		return s

	case Busy:
		s.Notice = NoticeBusy
		return s
	}

	return s
}

// withTiles keeps the session and cache but drops all screen-local input.
func withTiles(s State) State {
	return State{Authenticated: s.Authenticated, View: s.View, Tiles: s.Tiles}
}
