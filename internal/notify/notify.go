// Package notify delivers permission workflow notifications off the request
// path. Notifier implements service.NotificationPort: calls enqueue and
// return immediately, a worker hands each message to every Sender, and
// delivery failures are logged and counted but never reach the caller.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joeblew999/plat-fields/internal/logger"
	"github.com/joeblew999/plat-fields/internal/service"
)

// Kind identifies a notification.
type Kind string

const (
	KindAccessRequested Kind = "access_requested"
	KindAccessDecided   Kind = "access_decided"
)

// Message is one notification addressed to a single user.
type Message struct {
	Kind      Kind
	To        string // recipient user id
	From      string // display name of the counterparty
	FieldName string
	Approved  bool // only meaningful for KindAccessDecided
}

// Text renders the message for humans.
func (m Message) Text() string {
	switch m.Kind {
	case KindAccessRequested:
		return fmt.Sprintf("%s asked to see the details of your field %q", m.From, m.FieldName)
	case KindAccessDecided:
		verb := "denied"
		if m.Approved {
			verb = "approved"
		}
		return fmt.Sprintf("%s %s your request to see %q", m.From, verb, m.FieldName)
	default:
		return string(m.Kind)
	}
}

// Sender is a delivery backend. Implementations must be safe for concurrent
// use.
type Sender interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// Options tune the Notifier.
type Options struct {
	QueueSize   int           // buffered messages before new ones are dropped
	SendTimeout time.Duration // per sender, per message
}

const (
	defaultQueueSize   = 256
	defaultSendTimeout = 10 * time.Second
)

// Notifier is an asynchronous service.NotificationPort.
type Notifier struct {
	senders []Sender
	log     logger.Logger
	metrics *Metrics
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Message
	wg     sync.WaitGroup
}

var _ service.NotificationPort = (*Notifier)(nil)

// New creates a Notifier and starts its worker. Close stops it.
func New(opts Options, log logger.Logger, metrics *Metrics, senders ...Sender) *Notifier {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if log == nil {
		log = logger.Discard()
	}
	n := &Notifier{
		senders: senders,
		log:     log.With("component", "notify"),
		metrics: metrics,
		timeout: opts.SendTimeout,
		queue:   make(chan Message, opts.QueueSize),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// NotifyAccessRequested implements service.NotificationPort.
func (n *Notifier) NotifyAccessRequested(ownerUserID, requesterName, fieldName string) {
	n.enqueue(Message{Kind: KindAccessRequested, To: ownerUserID, From: requesterName, FieldName: fieldName})
}

// NotifyAccessDecided implements service.NotificationPort.
func (n *Notifier) NotifyAccessDecided(viewerUserID, ownerName, fieldName string, approved bool) {
	n.enqueue(Message{Kind: KindAccessDecided, To: viewerUserID, From: ownerName, FieldName: fieldName, Approved: approved})
}

// Close stops accepting messages, drains the queue and waits for the worker.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	n.wg.Wait()
}

func (n *Notifier) enqueue(m Message) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		n.log.Warn("notification dropped after close", "kind", m.Kind, "to", m.To)
		n.metrics.outcome("queue", "dropped")
		return
	}
	select {
	case n.queue <- m:
	default:
		n.log.Warn("notification queue full, dropping", "kind", m.Kind, "to", m.To)
		n.metrics.outcome("queue", "dropped")
	}
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for m := range n.queue {
		for _, s := range n.senders {
			n.deliver(s, m)
		}
	}
}

func (n *Notifier) deliver(s Sender, m Message) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("sender panicked: %v", r)
			}
		}()
		return s.Send(ctx, m)
	}()
	if err != nil {
		n.log.Error("notification failed", "sender", s.Name(), "kind", m.Kind, "to", m.To, "error", err)
		n.metrics.outcome(s.Name(), "failed")
		return
	}
	n.metrics.outcome(s.Name(), "sent")
}
