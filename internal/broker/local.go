package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/toolstream/events"
	"github.com/casualjim/toolstream/pkg/uuidx"
)

const defaultSlowSubscriberTimeout = 100 * time.Millisecond

type localBroker struct {
	mu                    sync.Mutex
	topics                *haxmap.Map[string, *topic]
	slowSubscriberTimeout time.Duration
}

// Local creates an in-process broker. A subscriber that can't keep up for longer than
// the slow subscriber timeout is dropped so a run never stalls on an observer.
func Local() *localBroker {
	return &localBroker{
		topics:                haxmap.New[string, *topic](),
		slowSubscriberTimeout: defaultSlowSubscriberTimeout,
	}
}

// WithSlowSubscriberTimeout configures the timeout for detecting slow subscribers
func (b *localBroker) WithSlowSubscriberTimeout(timeout time.Duration) *localBroker {
	b.slowSubscriberTimeout = timeout
	return b
}

func (b *localBroker) Topic(ctx context.Context, id string) Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics.Get(id)
	if !ok {
		t = &topic{
			id:                    id,
			broker:                b,
			subscriptions:         haxmap.New[string, *subscription](),
			slowSubscriberTimeout: b.slowSubscriberTimeout,
		}
		b.topics.Set(id, t)
	}
	t.uses++
	return t
}

func (b *localBroker) release(t *topic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.uses == 0 {
		return
	}
	t.uses--
	if t.uses == 0 {
		b.topics.Del(t.id)
	}
}

type topic struct {
	id                    string
	broker                *localBroker
	uses                  int // guarded by broker.mu
	subscriptions         *haxmap.Map[string, *subscription]
	slowSubscriberTimeout time.Duration
}

func (t *topic) Close() error {
	t.broker.release(t)
	return nil
}

func (t *topic) Publish(ctx context.Context, frame events.Frame) error {
	t.subscriptions.ForEach(func(id string, sub *subscription) bool {
		if sub == nil {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-sub.ctx.Done():
			sub.Unsubscribe()
			return true
		case <-sub.done:
			return true
		default:
		}

		select {
		case <-ctx.Done():
			return false
		case <-sub.ctx.Done():
			sub.Unsubscribe()
		case <-sub.done:
		case sub.channel <- frame:
		case <-time.After(t.slowSubscriberTimeout):
			sub.Unsubscribe()
		}
		return true
	})
	return ctx.Err()
}

func (t *topic) Subscribe(ctx context.Context, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	id := uuidx.NewString()
	sub := &subscription{
		id:      id,
		ctx:     ctx,
		channel: make(chan events.Frame, 50),
		done:    make(chan struct{}),
		onClose: func() { t.subscriptions.Del(id) },
		handler: handler,
	}
	t.subscriptions.Set(id, sub)
	go sub.forward()
	return sub, nil
}

type subscription struct {
	id        string
	ctx       context.Context
	channel   chan events.Frame
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
	handler   Handler
}

func (s *subscription) ID() string {
	return s.id
}

func (s *subscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		close(s.done)
	})
}

func (s *subscription) forward() {
	for {
		select {
		case frame := <-s.channel:
			s.handler(s.ctx, frame)
		case <-s.done:
			return
		case <-s.ctx.Done():
			s.Unsubscribe()
			return
		}
	}
}
