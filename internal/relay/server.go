package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prashantneosoft/ecommerce-microservices/internal/domain"
	"go.uber.org/zap"
)

// Relay accepts events and fans them out. With the memory log it dispatches
// in-process; with the Kafka log, dispatch happens through the subscriber
// readers and direct fan-out is disabled.
type Relay struct {
	log         Log
	deliverer   *Deliverer
	subscribers []Subscriber
	directFan   bool
	logger      *zap.Logger

	// ctx bounds the fan-out goroutines; Shutdown cancels it so delivery
	// retries do not outlive the process.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(log Log, deliverer *Deliverer, subscribers []Subscriber, directFan bool, logger *zap.Logger) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		log:         log,
		deliverer:   deliverer,
		subscribers: subscribers,
		directFan:   directFan,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

type publishRequest struct {
	Type domain.EventType `json:"type"`
	Data json.RawMessage  `json:"data"`
}

// Publish records the event and returns; fan-out is asynchronous and its
// outcome is invisible to the producer.
func (r *Relay) Publish(ctx context.Context, req publishRequest) (*domain.Event, error) {
	ev := &domain.Event{
		Type:      req.Type,
		Data:      req.Data,
		Timestamp: time.Now().UTC(),
	}
	if err := r.log.Append(ctx, ev); err != nil {
		return nil, err
	}

	r.logger.Info("event accepted",
		zap.Int64("event_id", ev.Sequence),
		zap.String("event_type", string(ev.Type)))

	if r.directFan {
		for _, sub := range r.subscribers {
			sub := sub
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				// Detached from the producer's request lifetime: delivery
				// retries outlive the accept call, but not the relay itself.
				_ = r.deliverer.Deliver(r.ctx, sub, *ev)
			}()
		}
	}
	return ev, nil
}

// Wait blocks until in-flight deliveries finish. Test hook and shutdown aid.
func (r *Relay) Wait() {
	r.wg.Wait()
}

// Shutdown aborts in-flight deliveries and waits for their goroutines.
func (r *Relay) Shutdown() {
	r.cancel()
	r.wg.Wait()
}

type eventView struct {
	domain.Event
	Deliveries map[string]int `json:"deliveries,omitempty"`
}

func (r *Relay) Router(logger *zap.Logger, mw ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(mw...)

	router.POST("/events", func(c *gin.Context) {
		var req publishRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid event body"})
			return
		}
		if !req.Type.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "unknown event type"})
			return
		}

		if _, err := r.Publish(c.Request.Context(), req); err != nil {
			logger.Error("failed to accept event", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	router.GET("/events", func(c *gin.Context) {
		evs, err := r.log.All(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
			return
		}
		views := make([]eventView, 0, len(evs))
		for _, ev := range evs {
			views = append(views, eventView{Event: ev, Deliveries: r.deliverer.Attempts(ev.Sequence)})
		}
		c.JSON(http.StatusOK, views)
	})

	router.GET("/health", func(c *gin.Context) {
		evs, _ := r.log.All(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"service":     "event-relay",
			"totalEvents": len(evs),
		})
	})

	return router
}
