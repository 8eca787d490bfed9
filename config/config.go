package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Environment string            `json:"environment"`
	Database    DatabaseConfig    `json:"database"`
	Stripe      ProviderConfig    `json:"stripe"`
	Polar       ProviderConfig    `json:"polar"`
	Server      ServerConfig      `json:"server"`
	Redis       RedisConfig       `json:"redis"`
	Idempotency IdempotencyConfig `json:"idempotency"`
	Notifier    NotifierConfig    `json:"notifier"`
	// Plans maps provider product IDs to canonical plan names. Metadata set
	// at checkout takes precedence over this table at resolution time.
	Plans map[string]string `json:"plans"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type ProviderConfig struct {
	WebhookSecret string `json:"webhook_secret"`
}

type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type IdempotencyConfig struct {
	CacheCapacity int           `json:"cache_capacity"`
	CacheTTL      time.Duration `json:"cache_ttl"`
}

type NotifierConfig struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

func LoadConfig() (*Config, error) {
	config := &Config{}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	config.Environment = env

	configDir, err := filepath.Abs("config")
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, "config.json")

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}

		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	}

	config.loadFromEnv()
	config.setDefaults()

	return config, nil
}

func (c *Config) loadFromEnv() {
	if host := os.Getenv("DB_HOST"); host != "" {
		c.Database.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Database.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		c.Database.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		c.Database.Password = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		c.Database.DBName = dbname
	}
	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		c.Database.SSLMode = sslmode
	}

	if secret := os.Getenv("STRIPE_WEBHOOK_SECRET"); secret != "" {
		c.Stripe.WebhookSecret = secret
	}
	if secret := os.Getenv("POLAR_WEBHOOK_SECRET"); secret != "" {
		c.Polar.WebhookSecret = secret
	}

	if url := os.Getenv("NOTIFIER_URL"); url != "" {
		c.Notifier.URL = url
	}
	if secret := os.Getenv("NOTIFIER_SECRET"); secret != "" {
		c.Notifier.Secret = secret
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		c.Redis.Enabled = true
		c.Redis.Host = host
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Redis.Port = p
		}
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}

	if capacity := os.Getenv("IDEMPOTENCY_CACHE_CAPACITY"); capacity != "" {
		if n, err := strconv.Atoi(capacity); err == nil {
			c.Idempotency.CacheCapacity = n
		}
	}
	if ttl := os.Getenv("IDEMPOTENCY_CACHE_TTL_SECONDS"); ttl != "" {
		if n, err := strconv.Atoi(ttl); err == nil {
			c.Idempotency.CacheTTL = time.Duration(n) * time.Second
		}
	}

	if serverPort := os.Getenv("SERVER_PORT"); serverPort != "" {
		c.Server.Port = serverPort
	}

	// One env var per tier keeps deployment simple; the JSON table covers
	// arbitrary product ids.
	if c.Plans == nil {
		c.Plans = make(map[string]string)
	}
	for plan, envKey := range map[string]string{
		"starter":      "BILLING_PRODUCT_STARTER",
		"professional": "BILLING_PRODUCT_PROFESSIONAL",
		"enterprise":   "BILLING_PRODUCT_ENTERPRISE",
	} {
		if productID := os.Getenv(envKey); productID != "" {
			c.Plans[productID] = plan
		}
	}
}

func (c *Config) setDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
		if c.IsProduction() {
			c.Database.SSLMode = "require"
		}
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Idempotency.CacheCapacity == 0 {
		c.Idempotency.CacheCapacity = 1000
	}
	if c.Idempotency.CacheTTL == 0 {
		c.Idempotency.CacheTTL = 15 * time.Minute
	}
}

func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database name is required")
	}
	// Verification fails closed at request time too, but a misconfigured
	// production deploy should not come up at all.
	if c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("Stripe webhook secret is required")
	}
	if c.Polar.WebhookSecret == "" {
		return fmt.Errorf("Polar webhook secret is required")
	}
	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
