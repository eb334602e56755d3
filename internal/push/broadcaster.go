package push

import (
	"github.com/rs/zerolog"
)

// Broadcaster delivers events to a subscriber's registered channel, if any.
// Delivery is best effort and at most once; failures never reach the caller.
type Broadcaster struct {
	registry *Registry
	logger   zerolog.Logger
}

func NewBroadcaster(registry *Registry, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{registry: registry, logger: logger}
}

// Publish reports whether the frame was written to an open channel.
func (b *Broadcaster) Publish(userID string, event Event) bool {
	ch, ok := b.registry.Lookup(userID)
	if !ok {
		b.logger.Debug().Str("user_id", userID).Str("kind", string(event.EventKind())).Msg("no push channel, dropping event")
		return false
	}

	frame, err := Encode(event)
	if err != nil {
		b.logger.Error().Err(err).Str("user_id", userID).Msg("encode push event")
		return false
	}

	if err := ch.Send(frame); err != nil {
		// A half-closed channel counts as no channel at all.
		b.logger.Info().Err(err).Str("user_id", userID).Str("kind", string(event.EventKind())).Msg("push write failed, dropping event")
		if b.registry.Unregister(userID, ch) {
			_ = ch.Close()
		}
		return false
	}
	return true
}
