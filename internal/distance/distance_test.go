package distance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"
)

// fakeMaps answers distance matrix requests for addresses named "O<n>" and "D<n>":
// the distance is (o*100+d) km and the duration o+d+1 minutes. "nowhere" is unroutable.
func fakeMaps(t *testing.T, calls *int32, status string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.URL.Path != "/maps/api/distancematrix/json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if status != "OK" {
			_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "error_message": "nope"})
			return
		}
		origins := strings.Split(r.URL.Query().Get("origins"), "|")
		dests := strings.Split(r.URL.Query().Get("destinations"), "|")
		rows := make([]map[string]any, 0, len(origins))
		for _, o := range origins {
			els := make([]map[string]any, 0, len(dests))
			for _, d := range dests {
				if o == "nowhere" || d == "nowhere" {
					els = append(els, map[string]any{"status": "NOT_FOUND"})
					continue
				}
				oi, _ := strconv.Atoi(o[1:])
				di, _ := strconv.Atoi(d[1:])
				els = append(els, map[string]any{
					"status":   "OK",
					"distance": map[string]any{"value": (oi*100 + di) * 1000, "text": ""},
					"duration": map[string]any{"value": (oi + di + 1) * 60, "text": ""},
				})
			}
			rows = append(rows, map[string]any{"elements": els})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "OK", "rows": rows})
	}))
}

func names(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}

func TestGoogleMatrix(t *testing.T) {
	var calls int32
	srv := fakeMaps(t, &calls, "OK")
	defer srv.Close()

	g, err := NewGoogle("test-key", "", maps.WithBaseURL(srv.URL))
	require.NoError(t, err)

	origins := append(names("O", 2), "nowhere")
	m, err := g.Matrix(context.Background(), origins, names("D", 3))
	require.NoError(t, err)
	require.Len(t, m.Distance, 3)
	assert.Equal(t, 0.0, m.Distance[0][0])
	assert.Equal(t, 102.0, m.Distance[1][2])
	assert.InDelta(t, 4.0, m.Duration[1][2], 1e-9)
	assert.Equal(t, math.MaxFloat64, m.Distance[2][1])
	assert.Equal(t, math.MaxFloat64, m.Duration[2][1])
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGoogleMatrixSplitsLargeRequests(t *testing.T) {
	var calls int32
	srv := fakeMaps(t, &calls, "OK")
	defer srv.Close()

	g, err := NewGoogle("test-key", "", maps.WithBaseURL(srv.URL))
	require.NoError(t, err)

	m, err := g.Matrix(context.Background(), names("O", 5), names("D", 30))
	require.NoError(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
	assert.Equal(t, 429.0, m.Distance[4][29])
	assert.Equal(t, 325.0, m.Distance[3][25])
}

func TestGoogleMatrixDeniedIsNotRetried(t *testing.T) {
	var calls int32
	srv := fakeMaps(t, &calls, "REQUEST_DENIED")
	defer srv.Close()

	g, err := NewGoogle("test-key", "", maps.WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = g.Matrix(context.Background(), names("O", 1), names("D", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REQUEST_DENIED")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTiles(t *testing.T) {
	cases := []struct {
		o, d, want int
	}{
		{0, 5, 0},
		{1, 1, 1},
		{4, 25, 1},
		{5, 25, 2},
		{10, 10, 1},
		{11, 10, 2},
		{30, 60, 24},
	}
	for _, c := range cases {
		got := tiles(c.o, c.d)
		assert.Len(t, got, c.want, "tiles(%d,%d)", c.o, c.d)
		cells := 0
		for _, tl := range got {
			assert.LessOrEqual(t, tl.o1-tl.o0, maxPerSide)
			assert.LessOrEqual(t, tl.d1-tl.d0, maxPerSide)
			assert.LessOrEqual(t, (tl.o1-tl.o0)*(tl.d1-tl.d0), maxElements)
			cells += (tl.o1 - tl.o0) * (tl.d1 - tl.d0)
		}
		assert.Equal(t, c.o*c.d, cells)
	}
}

func TestEstimate(t *testing.T) {
	assert.Equal(t, 0.0, Estimate("1 Main St", "1 MAIN ST"))
	a, b := "1 Main St", "99 Elm Rd"
	d := Estimate(a, b)
	assert.Equal(t, d, Estimate(b, a))
	assert.GreaterOrEqual(t, d, 10.0)
	assert.Less(t, d, 200.0)
	assert.Equal(t, d, Estimate(a, b))
}

func TestFallbackMatrix(t *testing.T) {
	m, err := Fallback{}.Matrix(context.Background(), []string{"depot", "a"}, []string{"depot", "b"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.Distance[0][0])
	assert.Equal(t, 0.0, m.Duration[0][0])
	km := m.Distance[1][1]
	assert.InDelta(t, km/50*60, m.Duration[1][1], 1e-9)
}

type failing struct{ calls int }

func (f *failing) Matrix(context.Context, []string, []string) (Matrix, error) {
	f.calls++
	return Matrix{}, errors.New("boom")
}

func TestWithFallback(t *testing.T) {
	primary := &failing{}
	p := WithFallback(primary, Fallback{})
	m, err := p.Matrix(context.Background(), []string{"x"}, []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0.0, m.Distance[0][0])
	assert.Equal(t, Estimate("x", "y"), m.Distance[0][1])
}

type counting struct {
	requested [][2]int
}

func (c *counting) Matrix(ctx context.Context, origins, destinations []string) (Matrix, error) {
	c.requested = append(c.requested, [2]int{len(origins), len(destinations)})
	return Fallback{}.Matrix(ctx, origins, destinations)
}

func TestCachedOnlyFetchesMissingPairs(t *testing.T) {
	inner := &counting{}
	c := NewCached(inner)
	ctx := context.Background()

	first, err := c.Matrix(ctx, []string{"a", "b"}, []string{"c"})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	again, err := c.Matrix(ctx, []string{"b", "a"}, []string{"c"})
	require.NoError(t, err)
	assert.Len(t, inner.requested, 1)
	assert.Equal(t, first.Distance[0][0], again.Distance[1][0])

	_, err = c.Matrix(ctx, []string{"a", "z"}, []string{"c"})
	require.NoError(t, err)
	require.Len(t, inner.requested, 2)
	assert.Equal(t, [2]int{1, 1}, inner.requested[1])

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestCachedPropagatesErrors(t *testing.T) {
	c := NewCached(&failing{})
	_, err := c.Matrix(context.Background(), []string{"a"}, []string{"b"})
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())
}
