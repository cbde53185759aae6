package web_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/tileinv/internal/auth"
	"github.com/vbonduro/tileinv/internal/db"
	"github.com/vbonduro/tileinv/internal/domain"
	"github.com/vbonduro/tileinv/internal/metrics"
	"github.com/vbonduro/tileinv/internal/service"
	"github.com/vbonduro/tileinv/internal/session"
	"github.com/vbonduro/tileinv/internal/store"
	"github.com/vbonduro/tileinv/internal/web"
	"github.com/vbonduro/tileinv/internal/web/templates"
)

const testPassword = "grout-and-glue"

type testEnv struct {
	srv   *httptest.Server
	tiles *store.TileStore
}

// newTestServer sets up a real web.Server backed by in-memory SQLite.
func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.OpenForTesting()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	gate, err := auth.NewGate(testPassword)
	require.NoError(t, err)

	tiles := store.NewTileStore(database, db.DriverSQLite)
	svc := service.NewInventoryService(tiles, m, logger)
	server := web.NewServer(svc, gate, session.NewMemoryStore(time.Hour), templates.FS, m,
		web.Options{Gatherer: reg}, logger)

	srv := httptest.NewServer(server)
	t.Cleanup(func() {
		srv.Close()
		_ = database.Close()
	})
	return &testEnv{srv: srv, tiles: tiles}
}

// newClient returns a browser-like client with its own cookie jar.
func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func get(t *testing.T, c *http.Client, env *testEnv, path string) (int, string) {
	t.Helper()
	resp, err := c.Get(env.srv.URL + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

// post submits a form and follows the redirect back to the current screen.
func post(t *testing.T, c *http.Client, env *testEnv, path string, form url.Values) (int, string) {
	t.Helper()
	resp, err := c.PostForm(env.srv.URL+path, form)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func login(t *testing.T, c *http.Client, env *testEnv) string {
	t.Helper()
	status, body := post(t, c, env, "/login", url.Values{"password": {testPassword}})
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "Tile Types")
	return body
}

func addTile(t *testing.T, c *http.Client, env *testEnv, name, size, sqft, boxes string) domain.Tile {
	t.Helper()
	status, body := post(t, c, env, "/tiles", url.Values{
		"name": {name}, "size": {size}, "sqft_per_box": {sqft}, "total_boxes": {boxes},
	})
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "Tile Types", "successful add returns to the dashboard")

	tiles, err := env.tiles.List(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, tiles)
	return tiles[0]
}

func storedBoxes(t *testing.T, env *testEnv, id int64) int64 {
	t.Helper()
	tile, err := env.tiles.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, tile)
	return tile.TotalBoxes
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestIntegration_LoginRequired(t *testing.T) {
	env := newTestServer(t)
	c := newClient(t)

	status, body := get(t, c, env, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Admin Login")
	assert.NotContains(t, body, "Logout")

	// Mutations without a session are ignored.
	_, body = post(t, c, env, "/tiles", url.Values{
		"name": {"Sneaky"}, "size": {"1x1"}, "sqft_per_box": {"1"}, "total_boxes": {"1"},
	})
	assert.Contains(t, body, "Admin Login")

	tiles, err := env.tiles.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tiles)
}

func TestIntegration_WrongPassword(t *testing.T) {
	env := newTestServer(t)
	c := newClient(t)

	_, body := post(t, c, env, "/login", url.Values{"password": {testPassword + " "}})
	assert.Contains(t, body, "Admin Login")
	assert.Contains(t, body, "Invalid password")

	body = login(t, c, env)
	assert.NotContains(t, body, "Invalid password")
}

func TestIntegration_AddTileUpdatesDashboard(t *testing.T) {
	env := newTestServer(t)
	c := newClient(t)
	login(t, c, env)

	addTile(t, c, env, "Slate", "6x6", "1.5", "4")
	_, before := get(t, c, env, "/")
	assert.Contains(t, before, `<div class="stat">4</div>`)
	assert.Contains(t, before, `<div class="stat">6</div>`)

	addTile(t, c, env, "Marble A", "12x12", "2.0", "5")
	_, after := get(t, c, env, "/")
	assert.Contains(t, after, `<div class="stat">2</div>`, "tile types")
	assert.Contains(t, after, `<div class="stat">9</div>`, "total boxes rose by 5")
	assert.Contains(t, after, `<div class="stat">16</div>`, "total sq ft rose by 10")
}

func TestIntegration_AddTileInvalidKeepsForm(t *testing.T) {
	env := newTestServer(t)
	c := newClient(t)
	login(t, c, env)
	post(t, c, env, "/navigate", url.Values{"view": {"add"}})

	status, body := post(t, c, env, "/tiles", url.Values{
		"name": {"Onyx"}, "size": {"24x24"}, "sqft_per_box": {"lots"}, "total_boxes": {"5"},
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Add New Tiles")
	assert.Contains(t, body, "Please check: sqft_per_box must be a positive number.")
	assert.Contains(t, body, `value="Onyx"`)
	assert.Contains(t, body, `value="lots"`)

	tiles, err := env.tiles.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tiles)
}

func TestIntegration_AddTileMissingRequired(t *testing.T) {
	env := newTestServer(t)
	c := newClient(t)
	login(t, c, env)

	_, body := post(t, c, env, "/tiles", url.Values{"name": {"Onyx"}})
	assert.Contains(t, body, "Name, size, sq ft per box and total boxes are required.")
}

func TestIntegration_RemoveClampsAtZero(t *testing.T) {
	env := newTestServer(t)
	c := newClient(t)
	login(t, c, env)
	tile := addTile(t, c, env, "Marble A", "12x12", "2", "3")

	post(t, c, env, "/navigate", url.Values{"view": {"remove"}})
	_, body := post(t, c, env, "/tiles/select", url.Values{"view": {"remove"}, "tile_id": {idString(tile.ID)}})
	assert.Contains(t, body, "Marble A - 3 boxes available")
	assert.Contains(t, body, `max="3"`)

	_, body = post(t, c, env, "/tiles/remove", url.Values{"tile_id": {idString(tile.ID)}, "boxes": {"5"}})
	assert.Contains(t, body, "Marble A - 0 boxes available")
	assert.Equal(t, int64(0), storedBoxes(t, env, tile.ID))
}

func TestIntegration_RemovePartial(t *testing.T) {
	env := newTestServer(t)
	c := newClient(t)
	login(t, c, env)
	tile := addTile(t, c, env, "Slate", "6x6", "1.5", "10")

	post(t, c, env, "/tiles/select", url.Values{"view": {"remove"}, "tile_id": {idString(tile.ID)}})
	post(t, c, env, "/tiles/remove", url.Values{"tile_id": {idString(tile.ID)}, "boxes": {"4"}})

	assert.Equal(t, int64(6), storedBoxes(t, env, tile.ID))
}

func TestIntegration_RemoveWithoutSelection(t *testing.T) {
	env := newTestServer(t)
	c := newClient(t)
	login(t, c, env)
	post(t, c, env, "/navigate", url.Values{"view": {"remove"}})

	_, body := post(t, c, env, "/tiles/remove", url.Values{"boxes": {"2"}})
	assert.Contains(t, body, "Select a tile first.")
}

func TestIntegration_ConcurrentRemovalConflicts(t *testing.T) {
	env := newTestServer(t)
	first, second := newClient(t), newClient(t)
	login(t, first, env)
	tile := addTile(t, first, env, "Marble A", "12x12", "2", "10")
	login(t, second, env)

	// Both operators pick the tile while it holds 10 boxes.
	post(t, first, env, "/tiles/select", url.Values{"view": {"remove"}, "tile_id": {idString(tile.ID)}})
	post(t, second, env, "/tiles/select", url.Values{"view": {"remove"}, "tile_id": {idString(tile.ID)}})

	post(t, first, env, "/tiles/remove", url.Values{"tile_id": {idString(tile.ID)}, "boxes": {"3"}})
	_, body := post(t, second, env, "/tiles/remove", url.Values{"tile_id": {idString(tile.ID)}, "boxes": {"3"}})

	assert.Contains(t, body, "changed by someone else")
	assert.Contains(t, body, "Marble A - 7 boxes available", "conflict refreshes the list")
	assert.Equal(t, int64(7), storedBoxes(t, env, tile.ID))

	// Retrying after seeing the fresh count goes through.
	post(t, second, env, "/tiles/remove", url.Values{"tile_id": {idString(tile.ID)}, "boxes": {"3"}})
	assert.Equal(t, int64(4), storedBoxes(t, env, tile.ID))
}

func TestIntegration_UpdateLocationOnly(t *testing.T) {
	env := newTestServer(t)
	c := newClient(t)
	login(t, c, env)
	tile := addTile(t, c, env, "Porcelain", "24x24", "3.5", "9")

	_, body := post(t, c, env, "/tiles/select", url.Values{"view": {"update"}, "tile_id": {idString(tile.ID)}})
	assert.Contains(t, body, "Current Details")
	assert.Contains(t, body, "Location: Not set")
	assert.Contains(t, body, "Porcelain - 24x24")

	_, body = post(t, c, env, "/tiles/update", url.Values{
		"tile_id": {idString(tile.ID)}, "total_boxes": {""}, "location": {"Warehouse B"}, "picture_url": {""},
	})
	assert.NotContains(t, body, "Current Details", "selection is cleared after a successful update")

	stored, err := env.tiles.GetByID(context.Background(), tile.ID)
	require.NoError(t, err)
	assert.Equal(t, "Warehouse B", stored.Location)
	assert.Equal(t, int64(9), stored.TotalBoxes)
	assert.Empty(t, stored.PictureURL)
}

func TestIntegration_UpdateAllBlankChangesNothing(t *testing.T) {
	env := newTestServer(t)
	c := newClient(t)
	login(t, c, env)
	tile := addTile(t, c, env, "Porcelain", "24x24", "3.5", "9")

	post(t, c, env, "/tiles/select", url.Values{"view": {"update"}, "tile_id": {idString(tile.ID)}})
	post(t, c, env, "/tiles/update", url.Values{"tile_id": {idString(tile.ID)}})

	stored, err := env.tiles.GetByID(context.Background(), tile.ID)
	require.NoError(t, err)
	assert.Equal(t, tile, *stored)
}

func TestIntegration_ViewInventory(t *testing.T) {
	env := newTestServer(t)
	c := newClient(t)
	login(t, c, env)

	_, body := post(t, c, env, "/navigate", url.Values{"view": {"view"}})
	assert.Contains(t, body, "No tiles found. Add some tiles to get started!")

	addTile(t, c, env, "Terracotta", "8x8", "2.5", "10")
	_, body = post(t, c, env, "/navigate", url.Values{"view": {"view"}})
	assert.Contains(t, body, "Total Sq Ft: 25.00")
	assert.Contains(t, body, "Sq Ft per Box: 2.50")
	assert.Contains(t, body, "Location: Not specified")
	assert.Contains(t, body, "Added: ")
}

func TestIntegration_LogoutReturnsToLogin(t *testing.T) {
	env := newTestServer(t)
	c := newClient(t)
	login(t, c, env)
	post(t, c, env, "/navigate", url.Values{"view": {"update"}})

	_, body := post(t, c, env, "/logout", nil)
	assert.Contains(t, body, "Admin Login")

	// The next login starts on the dashboard, not the screen left behind.
	body = login(t, c, env)
	assert.Contains(t, body, "Tile Types")
	assert.NotContains(t, body, "Leave a field blank to keep its current value.")
}

func TestIntegration_HTMXRedirect(t *testing.T) {
	env := newTestServer(t)
	c := newClient(t)
	login(t, c, env)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/navigate", strings.NewReader("view=add"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("HX-Request", "true")

	resp, err := c.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("HX-Redirect"))
}

func TestIntegration_HealthAndMetrics(t *testing.T) {
	env := newTestServer(t)
	c := newClient(t)

	status, body := get(t, c, env, "/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)

	post(t, c, env, "/login", url.Values{"password": {"nope"}})
	login(t, c, env)

	status, body = get(t, c, env, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `tileinv_logins_total{result="failure"} 1`)
	assert.Contains(t, body, `tileinv_logins_total{result="success"} 1`)
}
