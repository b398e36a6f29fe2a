package distance

import (
	"context"
	"sync"
)

type pair struct {
	from, to string
}

type cell struct {
	km, minutes float64
}

// Cached memoizes pairwise results of an inner Provider. Only pairs that are not yet
// known are requested, in a single call covering the missing origins and destinations.
type Cached struct {
	inner Provider
	mu    sync.Mutex
	cells map[pair]cell
}

func NewCached(inner Provider) *Cached {
	return &Cached{inner: inner, cells: make(map[pair]cell)}
}

func (c *Cached) Matrix(ctx context.Context, origins, destinations []string) (Matrix, error) {
	missO, missD := c.missing(origins, destinations)
	if len(missO) > 0 {
		fetched, err := c.inner.Matrix(ctx, missO, missD)
		if err != nil {
			return Matrix{}, err
		}
		c.mu.Lock()
		for i, o := range missO {
			for j, d := range missD {
				c.cells[pair{o, d}] = cell{km: fetched.Distance[i][j], minutes: fetched.Duration[i][j]}
			}
		}
		c.mu.Unlock()
	}

	m := newMatrix(len(origins), len(destinations))
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, o := range origins {
		for j, d := range destinations {
			v := c.cells[pair{o, d}]
			m.Distance[i][j] = v.km
			m.Duration[i][j] = v.minutes
		}
	}
	return m, nil
}

// missing returns the distinct origins with any unknown pair, and the distinct
// destinations they lack.
func (c *Cached) missing(origins, destinations []string) ([]string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var missO, missD []string
	seenO := map[string]bool{}
	seenD := map[string]bool{}
	for _, o := range origins {
		for _, d := range destinations {
			if _, ok := c.cells[pair{o, d}]; ok {
				continue
			}
			if !seenO[o] {
				seenO[o] = true
				missO = append(missO, o)
			}
			if !seenD[d] {
				seenD[d] = true
				missD = append(missD, d)
			}
		}
	}
	return missO, missD
}

// Len reports how many pairs are cached.
func (c *Cached) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cells)
}

func (c *Cached) Clear() {
	c.mu.Lock()
	c.cells = make(map[pair]cell)
	c.mu.Unlock()
}
