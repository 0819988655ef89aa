package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/subscription-service/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// Producer определяет интерфейс для публикации сообщений в Kafka.
type Producer interface {
	// PublishSubscriptionEvent отправляет событие; ключ сообщения - SubscriptionEvent.Key().
	PublishSubscriptionEvent(ctx context.Context, topic string, evt SubscriptionEvent) error
	// Close закрывает соединение продюсера Kafka.
	Close() error
}

// messageWriter часть kafka.Writer, которой пользуется продюсер
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// kafkaProducer реализует интерфейс Producer, используя segmentio/kafka-go.
type kafkaProducer struct {
	writer messageWriter
	log    *logger.Logger
}

// NewKafkaProducer создает и настраивает новый продюсер Kafka.
func NewKafkaProducer(brokers []string, log *logger.Logger) (Producer, error) {
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create producer")
		return nil, errors.New("kafka brokers are not configured")
	}

	// RequireOne - подтверждение только от лидера партиции
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka producer initialized", "brokers", brokers, "client", ClientKafkaGo)
	return newKafkaProducer(writer, log), nil
}

func newKafkaProducer(writer messageWriter, log *logger.Logger) *kafkaProducer {
	return &kafkaProducer{writer: writer, log: log}
}

// PublishSubscriptionEvent сериализует событие в JSON и отправляет в указанный топик.
func (k *kafkaProducer) PublishSubscriptionEvent(ctx context.Context, topic string, evt SubscriptionEvent) error {
	value, err := json.Marshal(evt)
	if err != nil {
		k.log.Errorw("Failed to marshal subscription event", "error", err, "topic", topic, "email", evt.CustomerEmail)
		return fmt.Errorf("kafka: failed to marshal message data: %w", err)
	}

	message := kafka.Message{
		Topic: topic,
		Key:   []byte(evt.Key()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
		},
		Time: time.Now(),
	}

	if err := k.writer.WriteMessages(ctx, message); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			k.log.Errorw("Kafka write timeout exceeded", "error", err, "topic", topic, "email", evt.CustomerEmail)
			return fmt.Errorf("kafka: write timeout: %w", err)
		}
		k.log.Errorw("Failed to write message to Kafka", "error", err, "topic", topic, "email", evt.CustomerEmail)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	k.log.Debugw("Published message to Kafka", "topic", topic, "type", evt.Type, "subscriptionID", evt.SubscriptionID)
	return nil
}

// Close закрывает соединение Kafka Writer.
func (k *kafkaProducer) Close() error {
	if err := k.writer.Close(); err != nil {
		k.log.Errorw("Failed to close Kafka writer", "error", err)
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	k.log.Infow("Kafka producer writer closed successfully")
	return nil
}
