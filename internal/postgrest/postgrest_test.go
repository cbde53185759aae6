package postgrest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/tileinv/internal/domain"
)

// fakeTable is a tiny PostgREST stand-in holding rows as generic JSON maps.
type fakeTable struct {
	mu       sync.Mutex
	rows     []map[string]any
	nextID   int64
	requests []*http.Request
	bodies   []string
}

func (f *fakeTable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	f.requests = append(f.requests, r)
	f.bodies = append(f.bodies, string(body))

	if r.Header.Get("apikey") != "anon-key" || r.Header.Get("Authorization") != "Bearer anon-key" {
		http.Error(w, `{"message":"invalid key"}`, http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		matched := f.filter(q)
		// Rows are appended oldest first; newest first is the reverse.
		out := make([]map[string]any, 0, len(matched))
		for i := len(matched) - 1; i >= 0; i-- {
			out = append(out, matched[i])
		}
		_ = json.NewEncoder(w).Encode(out)
	case http.MethodPost:
		var in []map[string]any
		if err := json.Unmarshal(body, &in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := make([]map[string]any, 0, len(in))
		for _, row := range in {
			f.nextID++
			row["id"] = f.nextID
			row["created_at"] = "2025-03-01T09:00:0" + strconv.FormatInt(f.nextID, 10) + ".123456+00:00"
			row["updated_at"] = row["created_at"]
			f.rows = append(f.rows, row)
			out = append(out, row)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(out)
	case http.MethodPatch:
		var patch map[string]any
		if err := json.Unmarshal(body, &patch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		matched := f.filter(q)
		for _, row := range matched {
			for k, v := range patch {
				row[k] = v
			}
		}
		_ = json.NewEncoder(w).Encode(matched)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (f *fakeTable) filter(q map[string][]string) []map[string]any {
	var out []map[string]any
	for _, row := range f.rows {
		if v, ok := q["id"]; ok && "eq."+jsonString(row["id"]) != v[0] {
			continue
		}
		if v, ok := q["updated_at"]; ok && !sameInstant(strings.TrimPrefix(v[0], "eq."), jsonString(row["updated_at"])) {
			continue
		}
		out = append(out, row)
	}
	return out
}

func jsonString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

func sameInstant(a, b string) bool {
	ta, err1 := time.Parse(time.RFC3339Nano, a)
	tb, err2 := time.Parse(time.RFC3339Nano, b)
	return err1 == nil && err2 == nil && ta.Equal(tb)
}

func newTestClient(t *testing.T) (*Client, *fakeTable) {
	t.Helper()
	table := &fakeTable{}
	server := httptest.NewServer(table)
	t.Cleanup(server.Close)

	c := NewClient(server.URL+"/", "anon-key", "tiles", 5*time.Second)
	c.now = func() time.Time { return time.Date(2025, 3, 2, 10, 0, 0, 987654321, time.UTC) }
	return c, table
}

func TestClientInsertAndList(t *testing.T) {
	c, table := newTestClient(t)
	ctx := context.Background()

	first, err := c.Insert(ctx, domain.NewTile{
		Name: "Marble A", Size: "12x12", SqftPerBox: decimal.RequireFromString("2.0"), TotalBoxes: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)
	assert.Empty(t, first.Location)

	_, err = c.Insert(ctx, domain.NewTile{
		Name: "Slate", Size: "6x6", SqftPerBox: decimal.RequireFromString("1.5"), TotalBoxes: 2,
		Location: "Yard",
	})
	require.NoError(t, err)

	tiles, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, tiles, 2)
	assert.Equal(t, "Slate", tiles[0].Name)
	assert.Equal(t, "Yard", tiles[0].Location)
	assert.Equal(t, "Marble A", tiles[1].Name)
	assert.True(t, decimal.RequireFromString("2").Equal(tiles[1].SqftPerBox))
	assert.Equal(t, 123456000, tiles[1].CreatedAt.Nanosecond())

	listReq := table.requests[len(table.requests)-1]
	assert.Equal(t, "/rest/v1/tiles", listReq.URL.Path)
	assert.Equal(t, "created_at.desc.nullslast,id.desc.nullslast", listReq.URL.Query().Get("order"))
	assert.Equal(t, "return=representation", table.requests[0].Header.Get("Prefer"))
	assert.Contains(t, table.bodies[0], `"location":null`)
}

func TestClientUpdate_SparsePatch(t *testing.T) {
	c, table := newTestClient(t)
	ctx := context.Background()

	created, err := c.Insert(ctx, domain.NewTile{
		Name: "Marble A", Size: "12x12", SqftPerBox: decimal.NewFromInt(2), TotalBoxes: 5,
		PictureURL: "https://example.com/a.jpg",
	})
	require.NoError(t, err)

	loc := "Aisle 9"
	updated, err := c.Update(ctx, created.ID, domain.TilePatch{Location: &loc}, created.UpdatedAt)
	require.NoError(t, err)
	assert.Equal(t, "Aisle 9", updated.Location)
	assert.Equal(t, int64(5), updated.TotalBoxes)
	assert.Equal(t, "https://example.com/a.jpg", updated.PictureURL)

	patchBody := table.bodies[len(table.bodies)-1]
	assert.NotContains(t, patchBody, "total_boxes")
	assert.NotContains(t, patchBody, "picture_url")
	assert.Contains(t, patchBody, `"updated_at":"2025-03-02T10:00:00.987654Z"`)
}

func TestClientUpdate_StaleTimestampConflicts(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	created, err := c.Insert(ctx, domain.NewTile{Name: "Marble A", Size: "12x12", SqftPerBox: decimal.NewFromInt(2), TotalBoxes: 3})
	require.NoError(t, err)

	zero := int64(0)
	_, err = c.Update(ctx, created.ID, domain.TilePatch{TotalBoxes: &zero}, created.UpdatedAt)
	require.NoError(t, err)

	_, err = c.Update(ctx, created.ID, domain.TilePatch{TotalBoxes: &zero}, created.UpdatedAt)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestClientUpdate_NotFound(t *testing.T) {
	c, _ := newTestClient(t)

	boxes := int64(1)
	_, err := c.Update(context.Background(), 77, domain.TilePatch{TotalBoxes: &boxes}, time.Time{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClientUpdate_EmptyPatchSendsNoWrite(t *testing.T) {
	c, table := newTestClient(t)
	ctx := context.Background()

	created, err := c.Insert(ctx, domain.NewTile{Name: "Marble A", Size: "12x12", SqftPerBox: decimal.NewFromInt(2), TotalBoxes: 3})
	require.NoError(t, err)

	got, err := c.Update(ctx, created.ID, domain.TilePatch{}, created.UpdatedAt)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.TotalBoxes)
	for _, r := range table.requests {
		assert.NotEqual(t, http.MethodPatch, r.Method)
	}
}

func TestClientAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"permission denied for table tiles"}`, http.StatusForbidden)
	}))
	defer server.Close()

	c := NewClient(server.URL, "anon-key", "tiles", time.Second)
	_, err := c.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list tiles")
	assert.Contains(t, err.Error(), "permission denied")
}

func TestClientHonoursContext(t *testing.T) {
	c, table := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.List(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, table.requests)
}

func TestClientTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := NewClient(server.URL, "anon-key", "tiles", 50*time.Millisecond)
	_, err := c.List(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTimestampUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{name: "timestamptz", in: `"2025-03-01T09:00:00.5+02:00"`, want: time.Date(2025, 3, 1, 7, 0, 0, 500000000, time.UTC)},
		{name: "without zone", in: `"2025-03-01T09:00:00.123"`, want: time.Date(2025, 3, 1, 9, 0, 0, 123000000, time.UTC)},
		{name: "null", in: `null`, want: time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts timestamp
			require.NoError(t, json.Unmarshal([]byte(tt.in), &ts))
			assert.True(t, tt.want.Equal(ts.Time), "got %v", ts.Time)
		})
	}

	var ts timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
}
