// Package postgrest is the tile table client for a hosted Supabase project. It
// speaks the PostgREST HTTP API exposed under /rest/v1.
package postgrest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	pgrest "github.com/supabase-community/postgrest-go"
	"github.com/vbonduro/tileinv/internal/domain"
)

const restPath = "/rest/v1"

// tileRow mirrors the tiles table as PostgREST serializes it.
type tileRow struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Size       string          `json:"size"`
	SqftPerBox decimal.Decimal `json:"sqft_per_box"`
	TotalBoxes int64           `json:"total_boxes"`
	Location   *string         `json:"location"`
	PictureURL *string         `json:"picture_url"`
	CreatedAt  timestamp       `json:"created_at"`
	UpdatedAt  timestamp       `json:"updated_at"`
}

func (r tileRow) toDomain() domain.Tile {
	t := domain.Tile{
		ID:         r.ID,
		Name:       r.Name,
		Size:       r.Size,
		SqftPerBox: r.SqftPerBox,
		TotalBoxes: r.TotalBoxes,
		CreatedAt:  r.CreatedAt.Time,
		UpdatedAt:  r.UpdatedAt.Time,
	}
	if r.Location != nil {
		t.Location = *r.Location
	}
	if r.PictureURL != nil {
		t.PictureURL = *r.PictureURL
	}
	return t
}

type insertRow struct {
	Name       string          `json:"name"`
	Size       string          `json:"size"`
	SqftPerBox decimal.Decimal `json:"sqft_per_box"`
	TotalBoxes int64           `json:"total_boxes"`
	Location   *string         `json:"location"`
	PictureURL *string         `json:"picture_url"`
}

type patchRow struct {
	TotalBoxes *int64    `json:"total_boxes,omitempty"`
	Location   *string   `json:"location,omitempty"`
	PictureURL *string   `json:"picture_url,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// timestamp accepts both timestamptz and timestamp-without-zone renderings.
type timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

func (ts *timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		ts.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

type Client struct {
	restURL string
	headers map[string]string
	table   string
	timeout time.Duration
	base    http.RoundTripper
	now     func() time.Time
}

// NewClient returns a client for table in the Supabase project at baseURL,
// authenticating with apiKey. Each call is bounded by timeout.
func NewClient(baseURL, apiKey, table string, timeout time.Duration) *Client {
	return &Client{
		restURL: strings.TrimRight(baseURL, "/") + restPath,
		headers: map[string]string{
			"apikey":        apiKey,
			"Authorization": "Bearer " + apiKey,
		},
		table:   table,
		timeout: timeout,
		base:    http.DefaultTransport,
		now:     time.Now,
	}
}

// contextTransport binds every request of one call to that call's context.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

// from starts a query on the tile table. The returned cancel must be called
// once the query has executed.
func (c *Client) from(ctx context.Context) (*pgrest.QueryBuilder, context.CancelFunc) {
	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	client := pgrest.NewClient(c.restURL, "", c.headers)
	if client.Transport != nil {
		client.Transport.Parent = contextTransport{ctx: ctx, base: c.base}
	}
	return client.From(c.table), cancel
}

// List returns every tile, newest first.
func (c *Client) List(ctx context.Context) ([]domain.Tile, error) {
	query, cancel := c.from(ctx)
	defer cancel()

	var rows []tileRow
	err := execute(query.Select("*", "", false).
		Order("created_at", &pgrest.OrderOpts{Ascending: false}).
		Order("id", &pgrest.OrderOpts{Ascending: false}), &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list tiles: %w", err)
	}

	tiles := make([]domain.Tile, 0, len(rows))
	for _, r := range rows {
		tiles = append(tiles, r.toDomain())
	}
	return tiles, nil
}

func (c *Client) Insert(ctx context.Context, t domain.NewTile) (*domain.Tile, error) {
	body := []insertRow{{
		Name:       t.Name,
		Size:       t.Size,
		SqftPerBox: t.SqftPerBox,
		TotalBoxes: t.TotalBoxes,
		Location:   optional(t.Location),
		PictureURL: optional(t.PictureURL),
	}}

	query, cancel := c.from(ctx)
	defer cancel()

	var rows []tileRow
	if err := execute(query.Insert(body, false, "", "representation", ""), &rows); err != nil {
		return nil, fmt.Errorf("failed to create tile: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("failed to create tile: empty response")
	}
	tile := rows[0].toDomain()
	return &tile, nil
}

// Update sends a partial update keyed by id. A non-zero expectedUpdatedAt is
// added as a filter so a row changed by someone else is left alone and
// domain.ErrConflict is returned.
func (c *Client) Update(ctx context.Context, id int64, patch domain.TilePatch, expectedUpdatedAt time.Time) (*domain.Tile, error) {
	if patch.IsEmpty() {
		return c.get(ctx, id)
	}

	body := patchRow{
		TotalBoxes: patch.TotalBoxes,
		Location:   patch.Location,
		PictureURL: patch.PictureURL,
		UpdatedAt:  c.now().UTC().Truncate(time.Microsecond),
	}

	query, cancel := c.from(ctx)
	defer cancel()

	filter := query.Update(body, "representation", "").Eq("id", strconv.FormatInt(id, 10))
	if !expectedUpdatedAt.IsZero() {
		filter = filter.Eq("updated_at", expectedUpdatedAt.UTC().Format(time.RFC3339Nano))
	}

	var rows []tileRow
	if err := execute(filter, &rows); err != nil {
		return nil, fmt.Errorf("failed to update tile: %w", err)
	}
	if len(rows) > 0 {
		tile := rows[0].toDomain()
		return &tile, nil
	}

	// Nothing matched: either the row is gone or it changed underneath us.
	if _, err := c.get(ctx, id); err != nil {
		return nil, err
	}
	return nil, domain.ErrConflict
}

func (c *Client) get(ctx context.Context, id int64) (*domain.Tile, error) {
	query, cancel := c.from(ctx)
	defer cancel()

	var rows []tileRow
	if err := execute(query.Select("*", "", false).Eq("id", strconv.FormatInt(id, 10)), &rows); err != nil {
		return nil, fmt.Errorf("failed to get tile: %w", err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrNotFound
	}
	tile := rows[0].toDomain()
	return &tile, nil
}

// execute runs the query and decodes the JSON array reply into out.
func execute(query *pgrest.FilterBuilder, out any) error {
	payload, _, err := query.Execute()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
