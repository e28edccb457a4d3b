package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/toolstream/events"
	"github.com/casualjim/toolstream/pkg/slogx"
	"github.com/casualjim/toolstream/pkg/uuidx"
	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

type natsBroker struct {
	mu     sync.Mutex
	client *nats.Conn
	prefix string
	topics *haxmap.Map[string, *natsTopic]
}

// NATS creates a broker that publishes frames on prefix.<topic id>. An empty prefix
// uses the topic id as the subject.
func NATS(client *nats.Conn, prefix string) *natsBroker {
	return &natsBroker{
		client: client,
		prefix: prefix,
		topics: haxmap.New[string, *natsTopic](),
	}
}

func (b *natsBroker) Topic(ctx context.Context, id string) Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	top, ok := b.topics.Get(id)
	if !ok {
		top = &natsTopic{
			id:      id,
			broker:  b,
			subject: Subject(b.prefix, id),
			client:  b.client,
		}
		b.topics.Set(id, top)
	}
	top.uses++
	return top
}

func (b *natsBroker) release(t *natsTopic) {
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

// Subject joins a subject prefix and a topic id.
func Subject(prefix, id string) string {
	if prefix == "" {
		return id
	}
	return prefix + "." + id
}

type natsTopic struct {
	id      string
	broker  *natsBroker
	uses    int // guarded by broker.mu
	client  *nats.Conn
	subject string
}

func (t *natsTopic) Close() error {
	t.broker.release(t)
	return nil
}

func (t *natsTopic) Publish(ctx context.Context, frame events.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fb, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	return t.client.Publish(t.subject, fb)
}

func (t *natsTopic) Subscribe(ctx context.Context, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}

	sub := &natsSubscription{
		id:      uuidx.NewString(),
		channel: make(chan events.Frame, 50),
		done:    make(chan struct{}),
	}
	nsub, err := t.client.Subscribe(t.subject, func(msg *nats.Msg) {
		var frame events.Frame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			slog.Error("failed to unmarshal frame", slogx.Error(err), slog.String("subject", msg.Subject))
			return
		}
		select {
		case sub.channel <- frame:
		case <-sub.done:
		}
	})
	if err != nil {
		return nil, err
	}
	sub.sub = nsub

	go sub.forward(ctx, handler)
	return sub, nil
}

type natsSubscription struct {
	id        string
	sub       *nats.Subscription
	channel   chan events.Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (n *natsSubscription) ID() string {
	return n.id
}

func (n *natsSubscription) Unsubscribe() {
	n.closeOnce.Do(func() {
		if err := n.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			slog.Error("failed to unsubscribe", slogx.Error(err), slog.String("subscription", n.id))
		}
		close(n.done)
	})
}

func (n *natsSubscription) forward(ctx context.Context, handler Handler) {
	for {
		select {
		case frame := <-n.channel:
			handler(ctx, frame)
		case <-n.done:
			return
		case <-ctx.Done():
			n.Unsubscribe()
			return
		}
	}
}
