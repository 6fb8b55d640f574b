// Package events carries domain events from the saga participants to the
// event relay.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prashantneosoft/ecommerce-microservices/internal/domain"
	"github.com/prashantneosoft/ecommerce-microservices/internal/retry"
	"go.uber.org/zap"
)

// Publisher sends one domain event to the relay.
type Publisher interface {
	Publish(ctx context.Context, eventType domain.EventType, data any) error
}

// publishRequest is the relay's accept body.
type publishRequest struct {
	Type domain.EventType `json:"type"`
	Data any              `json:"data"`
}

type HTTPPublisher struct {
	relayURL string
	client   *http.Client
	retryCfg retry.Config
	logger   *zap.Logger
}

func NewHTTPPublisher(relayURL string, logger *zap.Logger) *HTTPPublisher {
	return &HTTPPublisher{
		relayURL: relayURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		retryCfg: retry.DefaultConfig(),
		logger:   logger,
	}
}

func (p *HTTPPublisher) Publish(ctx context.Context, eventType domain.EventType, data any) error {
	body, err := json.Marshal(publishRequest{Type: eventType, Data: data})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", eventType, err)
	}

	return retry.Do(ctx, p.logger, p.retryCfg, "publish "+string(eventType), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.relayURL+"/events", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("event relay returned %d", resp.StatusCode)
		}
		return nil
	})
}

// Emit publishes and swallows the failure. Event publication is best-effort
// from the participants' point of view: losing the event must never fail the
// business operation that produced it.
func Emit(ctx context.Context, p Publisher, logger *zap.Logger, eventType domain.EventType, data any) {
	if err := p.Publish(ctx, eventType, data); err != nil {
		logger.Error("failed to emit event",
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}
