package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prashantneosoft/ecommerce-microservices/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaLog makes the accept step durable: the producer is only acknowledged
// after the event is written to the topic, so a crash between accept and
// fan-out no longer loses the event. Fan-out runs off per-subscriber
// consumer groups instead of in-process goroutines.
type KafkaLog struct {
	writer *kafka.Writer
	mirror *MemoryLog
	seq    atomic.Int64
	logger *zap.Logger
}

func NewKafkaLog(brokers, topic string, logger *zap.Logger) *KafkaLog {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}
	l := &KafkaLog{
		writer: writer,
		mirror: NewMemoryLog(),
		logger: logger,
	}
	// Sequences restart with the process; seeding from the clock keeps ids
	// issued after a restart above anything already on the topic.
	l.seq.Store(time.Now().UnixMilli())
	return l
}

func (l *KafkaLog) Append(ctx context.Context, ev *domain.Event) error {
	ev.Sequence = l.seq.Add(1)

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = l.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("EVENT#%d", ev.Sequence)),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("append to kafka log: %w", err)
	}

	// Mirror kept only so GET /events works in kafka mode; the topic is the
	// record.
	mirrored := *ev
	if err := l.mirror.Append(ctx, &mirrored); err != nil {
		l.logger.Warn("failed to mirror event", zap.Error(err))
	}
	return nil
}

func (l *KafkaLog) All(ctx context.Context) ([]domain.Event, error) {
	return l.mirror.All(ctx)
}

func (l *KafkaLog) Close() error {
	return l.writer.Close()
}

// RunSubscribers consumes the topic once per subscriber, delivering each
// event over HTTP. Offsets commit after the delivery attempt cycle finishes,
// whether it succeeded or exhausted its retries; a subscriber that was down
// for the whole retry window still misses the event, but a relay restart no
// longer drops undelivered ones.
func RunSubscribers(ctx context.Context, brokers, topic string, subs []Subscriber, deliverer *Deliverer, logger *zap.Logger) {
	for _, sub := range subs {
		sub := sub
		go func() {
			reader := kafka.NewReader(kafka.ReaderConfig{
				Brokers: []string{brokers},
				Topic:   topic,
				GroupID: "relay-" + sub.Name,
			})
			defer reader.Close()

			for {
				msg, err := reader.FetchMessage(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					logger.Error("failed to fetch from kafka log",
						zap.String("subscriber", sub.Name),
						zap.Error(err))
					continue
				}

				var ev domain.Event
				if err := json.Unmarshal(msg.Value, &ev); err != nil {
					logger.Error("malformed event on log, skipping",
						zap.String("subscriber", sub.Name),
						zap.Error(err))
				} else {
					_ = deliverer.Deliver(ctx, sub, ev)
				}

				if err := reader.CommitMessages(ctx, msg); err != nil {
					logger.Error("failed to commit offset",
						zap.String("subscriber", sub.Name),
						zap.Error(err))
				}
			}
		}()
	}
}
