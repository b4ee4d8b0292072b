package queue

import (
	"context"
	"sync"

	"github.com/unclebandit/drip-campaign-backend/internal/logger"
)

// Notifier carries "work is ready on queue X" hints between the processes
// that enqueue jobs and the workers that poll for them. A hint can be lost
// without harm: workers poll on an interval anyway.
type Notifier interface {
	Notify(queue string) error
	// Subscribe calls fn for every hint until ctx is done. fn must not block.
	Subscribe(ctx context.Context, fn func(queue string)) error
	Close() error
}

// InMemoryNotifier fans hints out to subscribers in the same process.
type InMemoryNotifier struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]func(queue string)
	closed   bool
}

// NewInMemoryNotifier creates a new in-process notifier
func NewInMemoryNotifier() *InMemoryNotifier {
	return &InMemoryNotifier{
		handlers: make(map[int]func(queue string)),
	}
}

func (n *InMemoryNotifier) Notify(queue string) error {
	n.mu.Lock()
	handlers := make([]func(string), 0, len(n.handlers))
	for _, h := range n.handlers {
		handlers = append(handlers, h)
	}
	n.mu.Unlock()

	for _, h := range handlers {
		h(queue)
	}
	return nil
}

func (n *InMemoryNotifier) Subscribe(ctx context.Context, fn func(queue string)) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	id := n.nextID
	n.nextID++
	n.handlers[id] = fn
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.handlers, id)
		n.mu.Unlock()
	}()
	return nil
}

func (n *InMemoryNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.handlers = make(map[int]func(queue string))
	return nil
}

// NopNotifier drops every hint.
type NopNotifier struct{}

func (NopNotifier) Notify(string) error { return nil }
func (NopNotifier) Subscribe(context.Context, func(queue string)) error { return nil }
func (NopNotifier) Close() error { return nil }

var (
	_ Notifier = (*InMemoryNotifier)(nil)
	_ Notifier = NopNotifier{}
)

// Options selects the notifier transport. AMQPURL wins over RedisAddr; with
// neither set hints stay in-process.
type Options struct {
	AMQPURL       string
	AMQPWakeQueue string
	RedisAddr     string
	RedisChannel  string
}

func New(opts Options, baseLog *logger.Logger) (Notifier, error) {
	switch {
	case opts.AMQPURL != "":
		n, err := DialAMQP(opts.AMQPURL, opts.AMQPWakeQueue, baseLog)
		if err != nil {
			return nil, err
		}
		return n, nil
	case opts.RedisAddr != "":
		n, err := DialRedis(opts.RedisAddr, opts.RedisChannel, baseLog)
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		baseLog.Info("AMQP_URL and REDIS_ADDR not set, using in-process wake-ups")
		return NewInMemoryNotifier(), nil
	}
}
