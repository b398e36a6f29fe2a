package distance

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"googlemaps.github.io/maps"
)

// Google Distance Matrix limits per request.
const (
	maxPerSide     = 25
	maxElements    = 100
	fetchParallel  = 4
	retryAttempts  = 4
	initialBackoff = 200 * time.Millisecond
)

// Google queries the Google Maps Distance Matrix API for driving distances.
type Google struct {
	client   *maps.Client
	language string
}

// NewGoogle creates a provider with the given API key. Extra options (e.g. maps.WithBaseURL)
// are passed to the client.
func NewGoogle(apiKey, language string, opts ...maps.ClientOption) (*Google, error) {
	opts = append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Google{client: client, language: language}, nil
}

type tile struct {
	o0, o1, d0, d1 int
}

// tiles splits an origins x destinations grid into request-sized blocks.
func tiles(origins, destinations int) []tile {
	if origins == 0 || destinations == 0 {
		return nil
	}
	dc := min(destinations, maxPerSide)
	oc := max(1, min(maxPerSide, maxElements/dc))
	var out []tile
	for o := 0; o < origins; o += oc {
		for d := 0; d < destinations; d += dc {
			out = append(out, tile{o0: o, o1: min(o+oc, origins), d0: d, d1: min(d+dc, destinations)})
		}
	}
	return out
}

// Matrix fetches every tile concurrently. Elements the API cannot route get math.MaxFloat64.
func (g *Google) Matrix(ctx context.Context, origins, destinations []string) (Matrix, error) {
	out := newMatrix(len(origins), len(destinations))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(fetchParallel)
	for _, t := range tiles(len(origins), len(destinations)) {
		eg.Go(func() error {
			req := &maps.DistanceMatrixRequest{
				Origins:      origins[t.o0:t.o1],
				Destinations: destinations[t.d0:t.d1],
				Mode:         maps.TravelModeDriving,
				Language:     g.language,
			}
			var resp *maps.DistanceMatrixResponse
			err := retry(ctx, retryAttempts, initialBackoff, transientMapsError, func() error {
				var err error
				resp, err = g.client.DistanceMatrix(ctx, req)
				return err
			})
			if err != nil {
				return fmt.Errorf("distance matrix [%d:%d]x[%d:%d]: %w", t.o0, t.o1, t.d0, t.d1, err)
			}
			// tiles never overlap, so writes do not race
			for i, row := range resp.Rows {
				for j, el := range row.Elements {
					oi, dj := t.o0+i, t.d0+j
					if oi >= t.o1 || dj >= t.d1 {
						continue
					}
					if el == nil || el.Status != "OK" {
						out.Distance[oi][dj] = math.MaxFloat64
						out.Duration[oi][dj] = math.MaxFloat64
						continue
					}
					out.Distance[oi][dj] = float64(el.Distance.Meters) / 1000.0
					out.Duration[oi][dj] = el.Duration.Minutes()
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Matrix{}, err
	}
	log.Info().Int("origins", len(origins)).Int("destinations", len(destinations)).Msg("distance matrix calculated")
	return out, nil
}

func transientMapsError(err error) bool {
	if isNetError(err) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"OVER_QUERY_LIMIT", "UNKNOWN_ERROR", "status code 5", "429"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
