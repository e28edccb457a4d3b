// Package broker fans the frames of a run out to observers other than the caller.
//
// A Broker hands out one Topic per run id. The run publishes through Sink(topic),
// usually teed with the caller's own sink, and any number of observers subscribe with
// a Handler. A topic is forgotten once every user closed it. Two implementations exist:
//
//   - Local: in-process, drops subscribers that fall behind
//   - NATS: publishes JSON frames on <prefix>.<run id>
//
// Example usage:
//
//	topic := broker.Topic(ctx, runID.String())
//	defer topic.Close()
//	sub, err := topic.Subscribe(ctx, func(ctx context.Context, f events.Frame) {
//	    fmt.Print(f.Text)
//	})
//	if err != nil {
//	    return err
//	}
//	defer sub.Unsubscribe()
package broker
