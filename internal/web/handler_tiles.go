package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vbonduro/tileinv/internal/app"
	"github.com/vbonduro/tileinv/internal/domain"
	"github.com/vbonduro/tileinv/internal/service"
)

const (
	noticeAddRequired = "Name, size, sq ft per box and total boxes are required."
	noticeAddFailed   = "Could not add tile. Please try again."
	noticeRemoveFail  = "Could not remove boxes. Please try again."
	noticeUpdateFail  = "Could not update tile. Please try again."
	noticeSelectTile  = "Select a tile first."
	noticeConflict    = "This tile was changed by someone else. The list has been refreshed, please check it and try again."
	noticeGone        = "That tile no longer exists. The list has been refreshed."
)

func (s *Server) handleAddTile(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(ctx context.Context, r *http.Request, st app.State) app.State {
		form := app.AddForm{
			Name:       r.PostForm.Get("name"),
			Size:       r.PostForm.Get("size"),
			SqftPerBox: r.PostForm.Get("sqft_per_box"),
			TotalBoxes: r.PostForm.Get("total_boxes"),
			Location:   r.PostForm.Get("location"),
			PictureURL: r.PostForm.Get("picture_url"),
		}
		in := service.AddTileInput(form)
		if !in.Ready() {
			return app.Reduce(st, app.AddFailed{Form: form, Notice: noticeAddRequired})
		}

		if _, err := s.inventory.AddTile(ctx, in); err != nil {
			return app.Reduce(st, app.AddFailed{Form: form, Notice: failureNotice(err, noticeAddFailed)})
		}

		st = app.Reduce(st, app.AddSucceeded{})
		return s.refresh(ctx, st)
	})
}

func (s *Server) handleSelectTile(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(_ context.Context, r *http.Request, st app.State) app.State {
		return app.Reduce(st, app.TileSelected{
			View:   app.View(r.PostForm.Get("view")),
			TileID: formID(r, "tile_id"),
		})
	})
}

func (s *Server) handleRemoveBoxes(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(ctx context.Context, r *http.Request, st app.State) app.State {
		form := app.RemoveForm{TileID: formID(r, "tile_id"), Boxes: r.PostForm.Get("boxes")}

		tile, ok := st.FindTile(form.TileID)
		if !ok {
			return app.Reduce(st, app.RemoveFailed{Form: app.RemoveForm{Boxes: form.Boxes}, Notice: noticeSelectTile})
		}
		form.SelectedUpdatedAt = selectedVersion(tile, st.Remove.TileID, st.Remove.SelectedUpdatedAt)
		tile.UpdatedAt = form.SelectedUpdatedAt

		if _, err := s.inventory.RemoveBoxes(ctx, tile, form.Boxes); err != nil {
			if isStale(err) {
				st = s.refresh(ctx, st)
				form.TileID, form.SelectedUpdatedAt = reselect(st, form.TileID)
			}
			return app.Reduce(st, app.RemoveFailed{Form: form, Notice: failureNotice(err, noticeRemoveFail)})
		}

		st = app.Reduce(st, app.RemoveSucceeded{})
		return s.refresh(ctx, st)
	})
}

func (s *Server) handleUpdateTile(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(ctx context.Context, r *http.Request, st app.State) app.State {
		form := app.UpdateForm{
			TileID:     formID(r, "tile_id"),
			TotalBoxes: r.PostForm.Get("total_boxes"),
			Location:   r.PostForm.Get("location"),
			PictureURL: r.PostForm.Get("picture_url"),
		}

		tile, ok := st.FindTile(form.TileID)
		if !ok {
			form.TileID = 0
			return app.Reduce(st, app.UpdateFailed{Form: form, Notice: noticeSelectTile})
		}
		form.SelectedUpdatedAt = selectedVersion(tile, st.Update.TileID, st.Update.SelectedUpdatedAt)
		tile.UpdatedAt = form.SelectedUpdatedAt

		in := service.UpdateTileInput{TotalBoxes: form.TotalBoxes, Location: form.Location, PictureURL: form.PictureURL}
		if _, err := s.inventory.UpdateTile(ctx, tile, in); err != nil {
			if isStale(err) {
				st = s.refresh(ctx, st)
				form.TileID, form.SelectedUpdatedAt = reselect(st, form.TileID)
			}
			return app.Reduce(st, app.UpdateFailed{Form: form, Notice: failureNotice(err, noticeUpdateFail)})
		}

		st = app.Reduce(st, app.UpdateSucceeded{})
		return s.refresh(ctx, st)
	})
}

// selectedVersion is the row version the operator acted on: the one recorded
// when the tile was selected, or the cached one if it was picked in the same
// submission.
func selectedVersion(tile domain.Tile, selectedID int64, selectedAt time.Time) time.Time {
	if selectedID == tile.ID && !selectedAt.IsZero() {
		return selectedAt
	}
	return tile.UpdatedAt
}

// reselect keeps the selection after a refresh, now pinned to the fresh row.
func reselect(st app.State, id int64) (int64, time.Time) {
	tile, ok := st.FindTile(id)
	if !ok {
		return 0, time.Time{}
	}
	return tile.ID, tile.UpdatedAt
}

func isStale(err error) bool {
	return errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound)
}

func failureNotice(err error, fallback string) string {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return "Please check: " + strings.Join(verr.Messages(), "; ") + "."
	case errors.Is(err, domain.ErrConflict):
		return noticeConflict
	case errors.Is(err, domain.ErrNotFound):
		return noticeGone
	default:
		return fallback
	}
}

func formID(r *http.Request, key string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(r.PostForm.Get(key)), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
