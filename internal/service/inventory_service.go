package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vbonduro/tileinv/internal/domain"
	"github.com/vbonduro/tileinv/internal/metrics"
)

// tileRepository is the table client contract shared by store.TileStore and
// postgrest.Client.
type tileRepository interface {
	List(ctx context.Context) ([]domain.Tile, error)
	Insert(ctx context.Context, t domain.NewTile) (*domain.Tile, error)
	Update(ctx context.Context, id int64, patch domain.TilePatch, expectedUpdatedAt time.Time) (*domain.Tile, error)
}

type InventoryService struct {
	tiles   tileRepository
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewInventoryService(tiles tileRepository, m *metrics.Metrics, logger *slog.Logger) *InventoryService {
	return &InventoryService{
		tiles:   tiles,
		metrics: m,
		logger:  logger,
	}
}

// Refresh reads every tile, newest first.
func (s *InventoryService) Refresh(ctx context.Context) ([]domain.Tile, error) {
	start := time.Now()
	tiles, err := s.tiles.List(ctx)
	s.metrics.ObserveRemote("list", time.Since(start))
	if err != nil {
		s.metrics.IncRefreshFailure()
		s.logger.Error("failed to load tiles", "error", err)
		return nil, fmt.Errorf("failed to refresh tiles: %w", err)
	}
	s.logger.Debug("tiles loaded", "count", len(tiles))
	return tiles, nil
}

// AddTile validates the form and inserts one tile.
func (s *InventoryService) AddTile(ctx context.Context, in AddTileInput) (*domain.Tile, error) {
	newTile, err := in.Validate()
	if err != nil {
		s.metrics.IncMutation("add", metrics.ResultInvalid)
		return nil, err
	}

	start := time.Now()
	tile, err := s.tiles.Insert(ctx, newTile)
	s.metrics.ObserveRemote("insert", time.Since(start))
	if err != nil {
		s.metrics.IncMutation("add", metrics.ResultFailure)
		s.logger.Error("failed to add tile", "name", newTile.Name, "error", err)
		return nil, err
	}

	s.metrics.IncMutation("add", metrics.ResultSuccess)
	s.logger.Info("tile added", "tile_id", tile.ID, "name", tile.Name, "total_boxes", tile.TotalBoxes)
	return tile, nil
}

// RemoveBoxes takes count boxes out of tile's stock and returns the stored
// count. Stock is clamped at zero and the row is kept. The write only applies
// if the row still carries tile.UpdatedAt.
func (s *InventoryService) RemoveBoxes(ctx context.Context, tile domain.Tile, count string) (int64, error) {
	n, err := ParseRemoveCount(count)
	if err != nil {
		s.metrics.IncMutation("remove", metrics.ResultInvalid)
		return 0, err
	}

	remaining := domain.RemainingBoxes(tile.TotalBoxes, n)
	patch := domain.TilePatch{TotalBoxes: &remaining}

	start := time.Now()
	updated, err := s.tiles.Update(ctx, tile.ID, patch, tile.UpdatedAt)
	s.metrics.ObserveRemote("update", time.Since(start))
	if err != nil {
		s.metrics.IncMutation("remove", resultFor(err))
		s.logger.Error("failed to remove boxes", "tile_id", tile.ID, "boxes", n, "error", err)
		return 0, err
	}

	s.metrics.IncMutation("remove", metrics.ResultSuccess)
	s.logger.Info("boxes removed", "tile_id", tile.ID, "requested", n, "total_boxes", updated.TotalBoxes)
	return updated.TotalBoxes, nil
}

// UpdateTile applies the filled-in fields of in to tile. A form with every
// field blank changes nothing and makes no remote call.
func (s *InventoryService) UpdateTile(ctx context.Context, tile domain.Tile, in UpdateTileInput) (*domain.Tile, error) {
	patch, err := in.Patch()
	if err != nil {
		s.metrics.IncMutation("update", metrics.ResultInvalid)
		return nil, err
	}
	if patch.IsEmpty() {
		s.logger.Debug("update with no changes skipped", "tile_id", tile.ID)
		return &tile, nil
	}

	start := time.Now()
	updated, err := s.tiles.Update(ctx, tile.ID, patch, tile.UpdatedAt)
	s.metrics.ObserveRemote("update", time.Since(start))
	if err != nil {
		s.metrics.IncMutation("update", resultFor(err))
		s.logger.Error("failed to update tile", "tile_id", tile.ID, "error", err)
		return nil, err
	}

	s.metrics.IncMutation("update", metrics.ResultSuccess)
	s.logger.Info("tile updated", "tile_id", tile.ID)
	return updated, nil
}

func resultFor(err error) string {
	if errors.Is(err, domain.ErrConflict) {
		return metrics.ResultConflict
	}
	return metrics.ResultFailure
}
