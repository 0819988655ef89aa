package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dhoini/subscription-service/pkg/logger"

	"github.com/IBM/sarama"
)

// saramaProducer реализует Producer поверх sarama.SyncProducer.
type saramaProducer struct {
	producer sarama.SyncProducer
	log      *logger.Logger
}

// NewSaramaProducer создает продюсер для kafka.client: sarama.
func NewSaramaProducer(cfg *Config, log *logger.Logger) (Producer, error) {
	sp, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(cfg))
	if err != nil {
		log.Errorw("Failed to create Sarama producer", "error", err, "brokers", cfg.Brokers)
		return nil, fmt.Errorf("kafka: failed to create sarama producer: %w", err)
	}
	log.Infow("Kafka producer initialized", "brokers", cfg.Brokers, "client", ClientSarama)
	return NewSaramaProducerFrom(sp, log), nil
}

// NewSaramaProducerFrom оборачивает готовый SyncProducer; в тестах это mocks.SyncProducer.
func NewSaramaProducerFrom(producer sarama.SyncProducer, log *logger.Logger) Producer {
	return &saramaProducer{producer: producer, log: log}
}

// PublishSubscriptionEvent SyncProducer не принимает ctx; проверяем его только до отправки.
func (p *saramaProducer) PublishSubscriptionEvent(ctx context.Context, topic string, evt SubscriptionEvent) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("kafka: %w", err)
	}

	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("kafka: failed to marshal subscription event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(evt.Key()),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("event_type"),
				Value: []byte(evt.Type),
			},
		},
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		p.log.Errorw("Failed to publish subscription event", "error", err, "topic", topic, "email", evt.CustomerEmail)
		return fmt.Errorf("kafka: failed to publish subscription event: %w", err)
	}

	p.log.Debugw("Published subscription event", "topic", topic, "partition", partition, "offset", offset)
	return nil
}

// Close закрывает продюсер
func (p *saramaProducer) Close() error {
	return p.producer.Close()
}
