// Package relay implements the event relay: accept a domain event, record it,
// acknowledge the producer, and fan it out to every subscriber independently.
package relay

import (
	"context"
	"sync"

	"github.com/prashantneosoft/ecommerce-microservices/internal/domain"
)

// Log is the relay's append-only event record. Append assigns the event's
// sequence id; the producer is acknowledged only after Append returns.
type Log interface {
	Append(ctx context.Context, ev *domain.Event) error
	// All returns the accepted events in append order, for introspection.
	All(ctx context.Context) ([]domain.Event, error)
}

// MemoryLog is the process-local log. It satisfies the accept contract but
// loses events on restart; the Kafka-backed log closes that window.
type MemoryLog struct {
	mu     sync.RWMutex
	events []domain.Event
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(_ context.Context, ev *domain.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev.Sequence = int64(len(l.events) + 1)
	l.events = append(l.events, *ev)
	return nil
}

func (l *MemoryLog) All(_ context.Context) ([]domain.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Event, len(l.events))
	copy(out, l.events)
	return out, nil
}
