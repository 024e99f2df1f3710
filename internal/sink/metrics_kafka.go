package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/time/rate"

	"dashpulse/internal/domain"
	"dashpulse/internal/probe"
	"dashpulse/internal/task/retry"
)

type KafkaConfig struct {
	Brokers    []string
	Topic      string
	Timeout    time.Duration
	RatePerSec int
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes reports keyed by target uid.
type Kafka struct {
	w   messageWriter
	lim *rate.Limiter
}

func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	var brokers []string
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 || strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("%w: kafka brokers and topic are required", domain.ErrConfiguration)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: timeout,
		// Retries are owned by the dispatch engine.
		MaxAttempts: 1,
	}
	return &Kafka{w: w, lim: newLimiter(cfg.RatePerSec)}, nil
}

func (k *Kafka) Deliver(ctx context.Context, report probe.MetricsReport) error {
	value, err := json.Marshal(report)
	if err != nil {
		return retry.NoRetry(fmt.Errorf("%w: encode report: %v", domain.ErrPermanent, err))
	}
	if err := wait(ctx, k.lim); err != nil {
		return err
	}
	if err := k.w.WriteMessages(ctx, kafka.Message{Key: []byte(report.TargetUID), Value: value}); err != nil {
		return fmt.Errorf("%w: kafka write: %v", domain.ErrTransient, err)
	}
	return nil
}

func (k *Kafka) Close() error { return k.w.Close() }
