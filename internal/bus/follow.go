package bus

import (
	"context"

	"github.com/ricesearch/rice-bench/internal/pkg/logger"
)

// Follow subscribes handler to each topic. An empty topic list follows every
// harness topic.
func Follow(ctx context.Context, b Bus, topics []string, handler Handler) error {
	if len(topics) == 0 {
		topics = Topics
	}
	for _, topic := range topics {
		if err := b.Subscribe(ctx, topic, handler); err != nil {
			return err
		}
	}
	return nil
}

// LogEvents echoes every harness event to log at debug level.
func LogEvents(ctx context.Context, b Bus, log *logger.Logger) error {
	return Follow(ctx, b, Topics, func(_ context.Context, e Event) error {
		log.Debug("Event",
			"topic", e.Type,
			"source", e.Source,
			"run_id", e.RunID,
			"event_id", e.ID,
		)
		return nil
	})
}
