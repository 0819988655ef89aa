package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config представляет структуру конфигурации для приложения.
type Config struct {
	App struct {
		Port     string `mapstructure:"port"`
		Env      string `mapstructure:"env"`
		LogLevel string `mapstructure:"logLevel"`
	} `mapstructure:"app"`
	HTTP struct {
		ReadTimeout     time.Duration `mapstructure:"readTimeout"`
		WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	} `mapstructure:"http"`
	Database struct {
		DSN             string        `mapstructure:"dsn"`
		MaxOpenConns    int           `mapstructure:"maxOpenConns"`
		MaxIdleConns    int           `mapstructure:"maxIdleConns"`
		ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
		QueryTimeout    time.Duration `mapstructure:"queryTimeout"`
	} `mapstructure:"database"`
	Redis struct {
		Addr      string        `mapstructure:"addr"`
		Password  string        `mapstructure:"password"`
		DB        int           `mapstructure:"db"`
		RecordTTL time.Duration `mapstructure:"recordTTL"`
		EventTTL  time.Duration `mapstructure:"eventTTL"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers          []string `mapstructure:"brokers"`
		Client           string   `mapstructure:"client"` // kafka-go | sarama
		TopicProvisioned string   `mapstructure:"topicProvisioned"`
		TopicReconciled  string   `mapstructure:"topicReconciled"`
	} `mapstructure:"kafka"`
	Stripe struct {
		APIKey        string        `mapstructure:"apiKey"`
		WebhookSecret string        `mapstructure:"webhookSecret"`
		CallTimeout   time.Duration `mapstructure:"callTimeout"`
		MaxBodyBytes  int64         `mapstructure:"maxBodyBytes"`
	} `mapstructure:"stripe"`
	// Plans {planId: {interval: priceReference}}; читается только через PlanCatalog
	Plans map[string]map[string]string `mapstructure:"plans"`
	GRPC  struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"grpc"`
	Auth struct {
		JWTSecret string `mapstructure:"jwtSecret"`
	} `mapstructure:"auth"`
}

// IsProduction true для app.env=production
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Validate проверяет обязательные параметры.
func (c *Config) Validate() error {
	var missing []string
	if c.Stripe.APIKey == "" {
		missing = append(missing, "stripe.apiKey")
	}
	if c.Stripe.WebhookSecret == "" {
		missing = append(missing, "stripe.webhookSecret")
	}
	if c.App.Port == "" {
		missing = append(missing, "app.port")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required values: %s", strings.Join(missing, ", "))
	}
	if c.Kafka.Client != "kafka-go" && c.Kafka.Client != "sarama" {
		return fmt.Errorf("config: unsupported kafka.client %q", c.Kafka.Client)
	}
	return nil
}

// LoadConfig загружает конфигурацию из файла и переменных окружения.
// envPath - путь к .env (вне production, отсутствие файла не ошибка),
// configPath - каталог с config.yml.
func LoadConfig(envPath, configPath string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" && envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envPath, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	// STRIPE_APIKEY -> stripe.apiKey
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.logLevel", "info")

	v.SetDefault("http.readTimeout", 10*time.Second)
	v.SetDefault("http.writeTimeout", 10*time.Second)
	v.SetDefault("http.shutdownTimeout", 10*time.Second)

	v.SetDefault("database.maxOpenConns", 10)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", 30*time.Minute)
	v.SetDefault("database.queryTimeout", 5*time.Second)

	v.SetDefault("redis.recordTTL", 15*time.Minute)
	v.SetDefault("redis.eventTTL", 72*time.Hour)

	v.SetDefault("kafka.client", "kafka-go")
	v.SetDefault("kafka.topicProvisioned", "subscription_provisioned")
	v.SetDefault("kafka.topicReconciled", "subscription_reconciled")

	v.SetDefault("stripe.callTimeout", 10*time.Second)
	v.SetDefault("stripe.maxBodyBytes", int64(65536))

	v.SetDefault("grpc.port", "9090")
}

// bindEnv явно привязывает секреты, которых может не быть в config.yml:
// AutomaticEnv видит только ключи, известные viper.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("stripe.apiKey", "STRIPE_API_KEY")
	_ = v.BindEnv("stripe.webhookSecret", "STRIPE_WEBHOOK_SECRET")
	_ = v.BindEnv("database.dsn", "DATABASE_DSN")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("auth.jwtSecret", "JWT_SECRET")
	_ = v.BindEnv("app.env", "APP_ENV")
	_ = v.BindEnv("app.logLevel", "LOG_LEVEL")
}
