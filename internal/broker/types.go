package broker

import (
	"context"

	"github.com/casualjim/toolstream/events"
)

// Broker hands out topics. Topics with the same id are the same topic.
type Broker interface {
	// Topic returns the topic for id and records a use of it. Every call must be matched
	// by one Close on the returned topic.
	Topic(ctx context.Context, id string) Topic
}

// Topic distributes the frames of one run to every current subscriber.
type Topic interface {
	Publish(ctx context.Context, frame events.Frame) error
	Subscribe(ctx context.Context, handler Handler) (Subscription, error)
	// Close releases one use of the topic. The broker forgets the topic once every use
	// was released.
	Close() error
}

// Handler receives frames in publish order.
type Handler func(ctx context.Context, frame events.Frame)

type Subscription interface {
	ID() string
	Unsubscribe()
}

// Sink publishes every frame it receives to topic.
func Sink(topic Topic) events.Sink {
	return events.SinkFunc(topic.Publish)
}
