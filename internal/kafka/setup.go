package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Dhoini/subscription-service/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	kafkaGo "github.com/segmentio/kafka-go"
)

// EnsureKafkaTopics проверяет и создает необходимые топики Kafka.
// Брокер при старте в docker-compose поднимается позже сервиса, поэтому подключение повторяется.
func EnsureKafkaTopics(ctx context.Context, brokers []string, topics []string, log *logger.Logger) error {
	if len(brokers) == 0 || strings.TrimSpace(brokers[0]) == "" {
		log.Errorw("Kafka broker address is empty")
		return errors.New("kafka broker address is empty")
	}
	broker := strings.TrimSpace(brokers[0])
	if err := validateBrokerAddr(broker); err != nil {
		log.Errorw("Invalid Kafka broker address", "broker", broker, "error", err)
		return err
	}

	required := requiredTopicConfigs(topics)
	log.Infow("Ensuring Kafka topics exist...", "topics", topics)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		err := ensureTopics(ctx, broker, required, log)
		if err != nil {
			log.Warnw("Kafka topic bootstrap attempt failed", "error", err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}

func validateBrokerAddr(broker string) error {
	_, portStr, err := net.SplitHostPort(broker)
	if err != nil {
		return fmt.Errorf("invalid broker address %s: %w", broker, err)
	}
	if _, err := strconv.Atoi(portStr); err != nil {
		return fmt.Errorf("invalid broker port %s: %w", broker, err)
	}
	return nil
}

func requiredTopicConfigs(topics []string) map[string]kafkaGo.TopicConfig {
	required := make(map[string]kafkaGo.TopicConfig, len(topics))
	for _, name := range topics {
		required[name] = kafkaGo.TopicConfig{
			Topic:             name,
			NumPartitions:     3,
			ReplicationFactor: 1,
		}
	}
	return required
}

// missingTopics возвращает конфиги топиков, которых нет среди существующих партиций
func missingTopics(required map[string]kafkaGo.TopicConfig, partitions []kafkaGo.Partition) []kafkaGo.TopicConfig {
	existing := make(map[string]bool)
	for _, p := range partitions {
		existing[p.Topic] = true
	}

	var toCreate []kafkaGo.TopicConfig
	for name, cfg := range required {
		if !existing[name] {
			toCreate = append(toCreate, cfg)
		}
	}
	return toCreate
}

func ensureTopics(ctx context.Context, broker string, required map[string]kafkaGo.TopicConfig, log *logger.Logger) error {
	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, err := kafkaGo.DialContext(connCtx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("kafka connection failed: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("kafka read partitions failed: %w", err)
	}

	toCreate := missingTopics(required, partitions)
	if len(toCreate) == 0 {
		log.Infow("All required topics already exist")
		return nil
	}

	// топики создаются только через контроллер кластера
	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka controller lookup failed: %w", err)
	}
	ctrlConn, err := kafkaGo.DialContext(connCtx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("kafka controller connection failed: %w", err)
	}
	defer ctrlConn.Close()

	if err := ctrlConn.CreateTopics(toCreate...); err != nil {
		if errors.Is(err, kafkaGo.TopicAlreadyExists) {
			log.Warnw("One or more topics already existed during creation attempt")
			return nil
		}
		return fmt.Errorf("kafka create topics failed: %w", err)
	}

	log.Infow("Successfully created topics", "count", len(toCreate))
	return nil
}
