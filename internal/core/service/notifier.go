package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/order-reconciler/internal/core/domain"
	"github.com/rl1809/order-reconciler/internal/port"
)

// Notifier queues order events for a worker pool so that publishing never
// holds up the request that caused them.
type Notifier struct {
	mu         sync.RWMutex
	closed     bool
	eventQueue chan domain.OrderEvent
	logger     *zap.Logger
}

func NewNotifier(queueSize int, logger *zap.Logger) *Notifier {
	return &Notifier{
		eventQueue: make(chan domain.OrderEvent, queueSize),
		logger:     logger,
	}
}

// Enqueue drops the event when the queue is full; the order itself is
// already committed and downstream consumers can reconcile from the store.
func (n *Notifier) Enqueue(event domain.OrderEvent) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.logger.Warn("event queue closed, dropping event",
			zap.String("event_type", event.Type),
			zap.String("order_id", event.OrderID))
		return false
	}

	select {
	case n.eventQueue <- event:
		return true
	default:
		n.logger.Warn("event queue full, dropping event",
			zap.String("event_type", event.Type),
			zap.String("order_id", event.OrderID))
		return false
	}
}

func (n *Notifier) GetEventQueue() <-chan domain.OrderEvent {
	return n.eventQueue
}

// Close stops accepting events and lets the workers drain the queue.
// Calling it more than once is a no-op.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	close(n.eventQueue)
}

// WorkerLoop publishes queued events until the queue is closed.
func WorkerLoop(id int, queue <-chan domain.OrderEvent, publisher port.EventPublisher, logger *zap.Logger) {
	for event := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		if err := publisher.Publish(ctx, event); err != nil {
			logger.Error("failed to publish order event",
				zap.Int("worker", id),
				zap.String("event_type", event.Type),
				zap.String("order_id", event.OrderID),
				zap.Error(err))
		} else {
			logger.Debug("published order event",
				zap.Int("worker", id),
				zap.String("event_type", event.Type),
				zap.String("order_id", event.OrderID))
		}

		cancel()
	}
}

func orderEvent(eventType string, order domain.Order, trigger string) domain.OrderEvent {
	return domain.OrderEvent{
		Type:          eventType,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		PaymentID:     order.PaymentID,
		CustomerEmail: order.Customer.Email,
		Status:        order.Status,
		PaymentStatus: order.Payment.Status,
		Total:         order.Total.StringFixed(2),
		Trigger:       trigger,
		OccurredAt:    time.Now().UTC(),
	}
}
