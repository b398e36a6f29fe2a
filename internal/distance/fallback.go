package distance

import (
	"context"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Average speed used to turn estimated distances into minutes.
const fallbackSpeedKmh = 50.0

// Fallback estimates distances from address hashes. Identical addresses (ignoring case)
// are 0 km apart; everything else lands in [10, 200) km. The estimate is deterministic.
type Fallback struct{}

func (Fallback) Matrix(_ context.Context, origins, destinations []string) (Matrix, error) {
	m := newMatrix(len(origins), len(destinations))
	for i, o := range origins {
		for j, d := range destinations {
			km := Estimate(o, d)
			m.Distance[i][j] = km
			m.Duration[i][j] = km / fallbackSpeedKmh * 60
		}
	}
	return m, nil
}

// Estimate returns the fallback distance in km between two addresses. It is symmetric.
func Estimate(a, b string) float64 {
	if strings.EqualFold(a, b) {
		return 0
	}
	h := xxhash.Sum64String(strings.ToLower(a)) + xxhash.Sum64String(strings.ToLower(b))
	return float64(h%190) + 10
}
