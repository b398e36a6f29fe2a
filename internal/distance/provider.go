// Package distance builds distance and duration matrices between addresses.
package distance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

// Matrix holds kilometers and minutes. Row i is origins[i], column j is destinations[j].
type Matrix struct {
	Distance [][]float64
	Duration [][]float64
}

func newMatrix(rows, cols int) Matrix {
	m := Matrix{Distance: make([][]float64, rows), Duration: make([][]float64, rows)}
	for i := 0; i < rows; i++ {
		m.Distance[i] = make([]float64, cols)
		m.Duration[i] = make([]float64, cols)
	}
	return m
}

// Provider computes a matrix for the given locations.
type Provider interface {
	Matrix(ctx context.Context, origins, destinations []string) (Matrix, error)
}

type withFallback struct {
	primary, fallback Provider
}

// WithFallback returns a Provider that degrades to fallback whenever primary fails.
func WithFallback(primary, fallback Provider) Provider {
	return &withFallback{primary: primary, fallback: fallback}
}

func (w *withFallback) Matrix(ctx context.Context, origins, destinations []string) (Matrix, error) {
	m, err := w.primary.Matrix(ctx, origins, destinations)
	if err == nil {
		return m, nil
	}
	log.Warn().Err(err).Int("origins", len(origins)).Int("destinations", len(destinations)).
		Msg("distance provider failed, using estimates")
	return w.fallback.Matrix(ctx, origins, destinations)
}

// retry runs fn up to attempts times with exponential backoff starting at base,
// as long as the error is transient and ctx is alive.
func retry(ctx context.Context, attempts int, base time.Duration, transient func(error) bool, fn func() error) error {
	backoff := base
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !transient(lastErr) || attempt == attempts {
			return lastErr
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return fmt.Errorf("retry: %w", lastErr)
}

func isNetError(err error) bool {
	var ne net.Error
	return errors.As(err, &ne)
}
