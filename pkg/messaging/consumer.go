package messaging

import (
	"context"
	"encoding/json"
	"fmt"
)

// Consume decodes envelopes from channel and hands them to handle until ctx
// is done or the subscription closes. Undecodable payloads are passed to
// onError and skipped; an error from handle stops consumption.
func Consume(ctx context.Context, broker Broker, channel string, handle func(Message) error, onError func(error)) error {
	msgs, err := broker.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				if onError != nil {
					onError(fmt.Errorf("failed to decode message on %s: %w", channel, err))
				}
				continue
			}
			if err := handle(msg); err != nil {
				return err
			}
		}
	}
}
