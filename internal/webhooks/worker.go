// Package webhooks pushes planning job events to an external HTTP endpoint.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"autoplan/internal/metrics"
	"autoplan/internal/planning"
)

const (
	HeaderSignature = "X-Autoplan-Signature"
	HeaderTimestamp = "X-Autoplan-Timestamp"
	HeaderEventType = "X-Autoplan-Event"
)

type delivery struct {
	ID        string
	EventType string
	Payload   []byte
	Attempts  int
	NextAt    time.Time
}

// Worker queues job events and delivers them with exponential backoff. Deliveries
// are kept in memory; a restart drops whatever is still queued.
type Worker struct {
	URL         string
	Secret      string
	HTTP        *http.Client
	MaxAttempts int
	MaxQueue    int
	Now         func() time.Time

	mu    sync.Mutex
	queue []delivery
}

func NewWorker(url, secret string, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Worker{
		URL:         url,
		Secret:      secret,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		MaxAttempts: maxAttempts,
		MaxQueue:    1000,
		Now:         time.Now,
	}
}

type payload struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp string         `json:"ts"`
	Data      map[string]any `json:"data"`
}

// Notify implements planning.EventSink.
func (w *Worker) Notify(ev planning.Event) {
	now := w.Now()
	body, err := json.Marshal(payload{
		ID:        uuid.New().String(),
		Type:      ev.Type,
		Timestamp: now.UTC().Format(time.RFC3339),
		Data: map[string]any{
			"planningId":   ev.Job.ID,
			"requester":    ev.Job.Requester,
			"planningDate": ev.Job.PlanDate,
			"status":       string(ev.Job.Status),
			"consumed":     ev.Job.Consumed,
		},
	})
	if err != nil {
		log.Error().Err(err).Str("event", ev.Type).Msg("encode webhook payload")
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.MaxQueue > 0 && len(w.queue) >= w.MaxQueue {
		log.Warn().Str("event", ev.Type).Str("planning_id", ev.Job.ID).Msg("webhook queue full, dropping event")
		return
	}
	w.queue = append(w.queue, delivery{ID: uuid.New().String(), EventType: ev.Type, Payload: body, NextAt: now})
}

// Pending reports how many deliveries are queued.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Start runs ProcessOnce every interval until ctx is done.
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.ProcessOnce(ctx)
			}
		}
	}()
}

// ProcessOnce attempts every due delivery and returns how many succeeded.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	now := w.Now()
	w.mu.Lock()
	var due, rest []delivery
	for _, d := range w.queue {
		if !d.NextAt.After(now) {
			due = append(due, d)
		} else {
			rest = append(rest, d)
		}
	}
	w.queue = rest
	w.mu.Unlock()

	delivered := 0
	var retry []delivery
	for _, d := range due {
		code, err := w.send(ctx, d)
		if err == nil {
			metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
			delivered++
			continue
		}
		d.Attempts++
		logger := log.Warn().Err(err).Str("delivery_id", d.ID).Str("event", d.EventType).Int("status", code).Int("attempts", d.Attempts)
		if d.Attempts >= w.MaxAttempts {
			metrics.WebhookDeliveries.WithLabelValues("dropped").Inc()
			logger.Msg("webhook delivery failed permanently")
			continue
		}
		metrics.WebhookDeliveries.WithLabelValues("retry").Inc()
		logger.Msg("webhook delivery failed, will retry")
		d.NextAt = now.Add(nextBackoff(d.Attempts))
		retry = append(retry, d)
	}
	if len(retry) > 0 {
		w.mu.Lock()
		w.queue = append(w.queue, retry...)
		w.mu.Unlock()
	}
	return delivered
}

func (w *Worker) send(ctx context.Context, d delivery) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventType, d.EventType)
	if w.Secret != "" {
		ts := w.Now().Unix()
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(HeaderSignature, Sign(w.Secret, ts, d.Payload))
	}
	resp, err := w.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
