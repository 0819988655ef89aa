package kafka

import (
	"github.com/IBM/sarama"
)

const (
	ClientKafkaGo = "kafka-go"
	ClientSarama  = "sarama"
)

// Config конфигурация для Kafka
type Config struct {
	Brokers  []string
	Client   string
	Topics   Topics
	Producer ProducerConfig
}

// Topics имена топиков, в которые уходят изменения записей подписок
type Topics struct {
	Provisioned string
	Reconciled  string
}

// All возвращает непустые имена топиков
func (t Topics) All() []string {
	var out []string
	for _, name := range []string{t.Provisioned, t.Reconciled} {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// ProducerConfig конфигурация для продюсера
type ProducerConfig struct {
	MaxMessageBytes int
	Compression     sarama.CompressionCodec
	RequiredAcks    sarama.RequiredAcks
	MaxRetries      int
}

// NewConfig создает новую конфигурацию Kafka
func NewConfig(brokers []string, client string, topics Topics) *Config {
	return &Config{
		Brokers: brokers,
		Client:  client,
		Topics:  topics,
		Producer: ProducerConfig{
			MaxMessageBytes: 1000000,
			Compression:     sarama.CompressionSnappy,
			RequiredAcks:    sarama.WaitForAll,
			MaxRetries:      3,
		},
	}
}

// NewSaramaConfig создает конфигурацию Sarama для синхронного продюсера
func NewSaramaConfig(cfg *Config) *sarama.Config {
	saramaConfig := sarama.NewConfig()

	saramaConfig.Version = sarama.V3_3_0_0
	saramaConfig.ClientID = "subscription-service"

	saramaConfig.Producer.MaxMessageBytes = cfg.Producer.MaxMessageBytes
	saramaConfig.Producer.Compression = cfg.Producer.Compression
	saramaConfig.Producer.RequiredAcks = cfg.Producer.RequiredAcks
	saramaConfig.Producer.Retry.Max = cfg.Producer.MaxRetries
	// SyncProducer требует оба флага
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	return saramaConfig
}
