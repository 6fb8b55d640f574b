package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prashantneosoft/ecommerce-microservices/internal/domain"
	"github.com/prashantneosoft/ecommerce-microservices/internal/retry"
	"go.uber.org/zap"
)

type Subscriber struct {
	Name string
	URL  string
}

// Deliverer pushes one event to one subscriber endpoint, retrying with
// backoff. A subscriber that exhausts all attempts has its delivery dropped
// and logged; nothing is fed back to the producer.
type Deliverer struct {
	client   *http.Client
	retryCfg retry.Config
	logger   *zap.Logger

	mu       sync.Mutex
	attempts map[int64]map[string]int
}

func NewDeliverer(timeout time.Duration, retryCfg retry.Config, logger *zap.Logger) *Deliverer {
	return &Deliverer{
		client:   &http.Client{Timeout: timeout},
		retryCfg: retryCfg,
		logger:   logger,
		attempts: make(map[int64]map[string]int),
	}
}

func (d *Deliverer) Deliver(ctx context.Context, sub Subscriber, ev domain.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	err = retry.Do(ctx, d.logger, d.retryCfg, "deliver to "+sub.Name, func(ctx context.Context) error {
		d.recordAttempt(ev.Sequence, sub.Name)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return fmt.Errorf("subscriber %s returned %d", sub.Name, resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		// Permanent drop. There is no dead-letter store; the log line is all
		// that remains of this delivery.
		d.logger.Error("event delivery dropped after retries",
			zap.Int64("event_id", ev.Sequence),
			zap.String("event_type", string(ev.Type)),
			zap.String("subscriber", sub.Name),
			zap.Error(err))
		return err
	}

	d.logger.Info("event delivered",
		zap.Int64("event_id", ev.Sequence),
		zap.String("event_type", string(ev.Type)),
		zap.String("subscriber", sub.Name))
	return nil
}

func (d *Deliverer) recordAttempt(seq int64, subscriber string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.attempts[seq] == nil {
		d.attempts[seq] = make(map[string]int)
	}
	d.attempts[seq][subscriber]++
}

// Attempts returns the per-subscriber delivery attempt counts for an event.
func (d *Deliverer) Attempts(seq int64) map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.attempts[seq]))
	for k, v := range d.attempts[seq] {
		out[k] = v
	}
	return out
}
