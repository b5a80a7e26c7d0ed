package push

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dukerupert/roster/internal/model"
)

// Subscriptions is the part of the push store the notifier needs.
type Subscriptions interface {
	ListAdmins() ([]model.PushSubscription, error)
	DeleteByEndpoint(endpoint string) error
}

// Notifier fans payloads out to every admin subscription on a background
// goroutine, so request handlers never wait on push services.
type Notifier struct {
	mu      sync.RWMutex
	service *Service
	subs    Subscriptions
	logger  *slog.Logger
	queue   chan Payload
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewNotifier(svc *Service, subs Subscriptions, logger *slog.Logger) *Notifier {
	return &Notifier{
		service: svc,
		subs:    subs,
		logger:  logger,
		queue:   make(chan Payload, 64),
	}
}

// NotifyAdmins queues a payload. It drops the payload when push is not
// configured or the queue is full.
func (n *Notifier) NotifyAdmins(p Payload) {
	if !n.service.Configured() {
		return
	}
	select {
	case n.queue <- p:
	default:
		n.logger.Warn("push queue full, dropping notification", "tag", p.Tag)
	}
}

// Start begins the delivery loop.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	ctx, n.cancel = context.WithCancel(ctx)
	n.done = make(chan struct{})
	n.mu.Unlock()

	go func() {
		defer close(n.done)
		for {
			select {
			case <-ctx.Done():
				return
			case p := <-n.queue:
				n.deliver(p)
			}
		}
	}()
}

// Stop gracefully stops the delivery loop.
func (n *Notifier) Stop() {
	n.mu.RLock()
	cancel := n.cancel
	done := n.done
	n.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (n *Notifier) deliver(p Payload) {
	subs, err := n.subs.ListAdmins()
	if err != nil {
		n.logger.Error("list admin subscriptions", "error", err)
		return
	}
	for _, sub := range subs {
		if err := n.service.Send(&sub, p); err != nil {
			if errors.Is(err, ErrExpired) {
				n.subs.DeleteByEndpoint(sub.Endpoint)
				continue
			}
			n.logger.Warn("send push", "endpoint", sub.Endpoint, "error", err)
		}
	}
}
