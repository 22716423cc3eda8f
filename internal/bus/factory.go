package bus

import (
	"fmt"
	"strings"

	"github.com/ricesearch/rice-bench/internal/config"
	"github.com/ricesearch/rice-bench/internal/pkg/errors"
	"github.com/ricesearch/rice-bench/internal/pkg/logger"
)

// NewBus creates a new Bus instance based on the configuration. A configured
// event log wraps the bus in a JournaledBus.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	var inner Bus

	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		inner = NewMemoryBus(log)

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}

		consumerGroup := cfg.KafkaGroup
		if consumerGroup == "" {
			consumerGroup = "rice-bench"
		}

		kafka, err := NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: consumerGroup,
			ClientID:      "rice-bench",
		}, log)
		if err != nil {
			return nil, err
		}
		inner = kafka

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}

	if cfg.EventLog == "" {
		return inner, nil
	}

	journal, err := OpenJournal(cfg.EventLog)
	if err != nil {
		inner.Close()
		return nil, err
	}
	return NewJournaledBus(inner, journal, log), nil
}
