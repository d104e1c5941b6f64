// Package notify fans task-update events out to in-process subscribers and
// configured webhook endpoints. Delivery is best-effort and happens after the
// owning transaction commits; workflow semantics never depend on it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/stageflow/internal/errors"
	"github.com/p-blackswan/stageflow/internal/metrics"
	"github.com/p-blackswan/stageflow/internal/models"
	"github.com/p-blackswan/stageflow/internal/retry"
)

// Event tells subscribers that a task changed. It carries identifiers only;
// consumers refetch whatever state they need.
type Event struct {
	ProjectID string `json:"project_id"`
	TaskID    string `json:"task_id"`
	At        int64  `json:"at"`
}

// Subscriber receives events in-process. Implementations must not block.
type Subscriber func(Event)

// Bus is the realtime notifier: it queues events from the workflow engine and
// delivers them asynchronously to subscribers and webhooks.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber

	events  chan Event
	client  *http.Client
	urls    []string
	retries int
	metrics *metrics.Metrics
	logger  zerolog.Logger

	wg sync.WaitGroup
}

// Config configures the notification bus.
type Config struct {
	WebhookURLs []string
	Timeout     time.Duration
	Retries     int
	QueueSize   int
}

// NewBus creates the bus. collector may be nil. Call Run to start delivery.
func NewBus(cfg Config, collector *metrics.Metrics, logger zerolog.Logger) *Bus {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 256
	}
	if cfg.Retries == 0 {
		cfg.Retries = 3
	}
	return &Bus{
		events:  make(chan Event, cfg.QueueSize),
		client:  &http.Client{Timeout: cfg.Timeout},
		urls:    cfg.WebhookURLs,
		retries: cfg.Retries,
		metrics: collector,
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// Subscribe registers an in-process listener.
func (b *Bus) Subscribe(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// TaskUpdated queues an event. A full queue drops the event rather than
// blocking the transition that produced it.
func (b *Bus) TaskUpdated(projectID, taskID string) {
	ev := Event{ProjectID: projectID, TaskID: taskID, At: models.NowMs()}
	select {
	case b.events <- ev:
	default:
		b.logger.Warn().Str("task_id", taskID).Msg("notification queue full, dropping event")
		if b.metrics != nil {
			b.metrics.RecordNotification("dropped")
		}
	}
}

// Run delivers queued events until ctx is canceled, then drains the queue.
func (b *Bus) Run(ctx context.Context) {
	b.logger.Info().Int("webhooks", len(b.urls)).Msg("notification bus running")
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-b.events:
					b.deliver(context.Background(), ev)
				default:
					b.wg.Wait()
					b.logger.Info().Msg("notification bus stopped")
					return
				}
			}
		case ev := <-b.events:
			b.deliver(ctx, ev)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, ev Event) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subscribers...)
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}

	for _, url := range b.urls {
		b.wg.Add(1)
		go func(url string) {
			defer b.wg.Done()
			if err := b.post(ctx, url, ev); err != nil {
				b.logger.Error().Err(err).Str("url", url).Str("task_id", ev.TaskID).
					Msg("webhook delivery failed")
				if b.metrics != nil {
					b.metrics.RecordNotification("failed")
				}
				return
			}
			if b.metrics != nil {
				b.metrics.RecordNotification("delivered")
			}
		}(url)
	}
}

// post sends one event to one endpoint, retrying 5xx and transport errors
// with backoff. 4xx responses are the endpoint's problem and are not retried.
func (b *Bus) post(ctx context.Context, url string, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = b.retries
	return retry.Do(ctx, cfg, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := b.client.Do(req)
		if err != nil {
			return perrors.NewUnavailableError(fmt.Sprintf("webhook transport error: %v", err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500:
			return perrors.NewUnavailableError(fmt.Sprintf("webhook returned %d", resp.StatusCode))
		default:
			return fmt.Errorf("webhook %s rejected event: status %d", url, resp.StatusCode)
		}
	})
}
