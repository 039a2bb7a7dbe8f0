/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the affiliate-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	RedisPrefix string `mapstructure:"REDIS_PREFIX"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	PartnerAPIBaseURL    string `mapstructure:"PARTNER_API_BASE_URL"`
	PartnerAPIKey        string `mapstructure:"PARTNER_API_KEY"`
	PartnerAPISecret     string `mapstructure:"PARTNER_API_SECRET"`
	PartnerAPIPassphrase string `mapstructure:"PARTNER_API_PASSPHRASE"`

	AffiliateProgram  string `mapstructure:"AFFILIATE_PROGRAM"`
	SyncTriggerSecret string `mapstructure:"SYNC_TRIGGER_SECRET"`
	SyncSchedule      string `mapstructure:"AFFILIATE_SYNC_SCHEDULE"`
	SyncChunkSize     int    `mapstructure:"SYNC_CHUNK_SIZE"`
	SyncChunkDelayMS  int    `mapstructure:"SYNC_CHUNK_DELAY_MS"`
	SyncMaxRunSeconds int    `mapstructure:"SYNC_MAX_RUN_SECONDS"`

	SupabaseJWTSecret string `mapstructure:"SUPABASE_JWT_SECRET"`

	RateLimitWindowSeconds  int `mapstructure:"RATE_LIMIT_WINDOW_SECONDS"`
	RateLimitFreePerWindow  int `mapstructure:"RATE_LIMIT_FREE_PER_WINDOW"`
	RateLimitProPerWindow   int `mapstructure:"RATE_LIMIT_PRO_PER_WINDOW"`
	RateLimitAdminPerWindow int `mapstructure:"RATE_LIMIT_ADMIN_PER_WINDOW"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("REDIS_PREFIX", "coinatlas:affiliate")
	viper.SetDefault("AFFILIATE_PROGRAM", "okx")
	viper.SetDefault("AFFILIATE_SYNC_SCHEDULE", "0 3 * * *")
	viper.SetDefault("SYNC_CHUNK_SIZE", 20)
	// Padded above the partner's nominal one-request-per-100ms window so a
	// full chunk plus clock skew still fits the quota.
	viper.SetDefault("SYNC_CHUNK_DELAY_MS", 2100)
	viper.SetDefault("SYNC_MAX_RUN_SECONDS", 300)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)
	viper.SetDefault("RATE_LIMIT_FREE_PER_WINDOW", 100)
	viper.SetDefault("RATE_LIMIT_PRO_PER_WINDOW", 500)
	viper.SetDefault("RATE_LIMIT_ADMIN_PER_WINDOW", 10000)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PARTNER_API_BASE_URL")
	_ = viper.BindEnv("PARTNER_API_KEY")
	_ = viper.BindEnv("PARTNER_API_SECRET")
	_ = viper.BindEnv("PARTNER_API_PASSPHRASE")
	_ = viper.BindEnv("AFFILIATE_PROGRAM")
	_ = viper.BindEnv("SYNC_TRIGGER_SECRET", "SYNC_TRIGGER_SECRET", "CRON_SECRET")
	_ = viper.BindEnv("AFFILIATE_SYNC_SCHEDULE")
	_ = viper.BindEnv("SYNC_CHUNK_SIZE")
	_ = viper.BindEnv("SYNC_CHUNK_DELAY_MS")
	_ = viper.BindEnv("SYNC_MAX_RUN_SECONDS")
	_ = viper.BindEnv("SUPABASE_JWT_SECRET")
	_ = viper.BindEnv("RATE_LIMIT_WINDOW_SECONDS")
	_ = viper.BindEnv("RATE_LIMIT_FREE_PER_WINDOW")
	_ = viper.BindEnv("RATE_LIMIT_PRO_PER_WINDOW")
	_ = viper.BindEnv("RATE_LIMIT_ADMIN_PER_WINDOW")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	config.SyncTriggerSecret = strings.TrimSpace(config.SyncTriggerSecret)
	config.AffiliateProgram = strings.TrimSpace(config.AffiliateProgram)
	config.RedisPrefix = strings.TrimSuffix(strings.TrimSpace(config.RedisPrefix), ":")
	if config.RedisPrefix == "" {
		config.RedisPrefix = "coinatlas:affiliate"
	}

	if config.SyncChunkSize <= 0 {
		log.Printf("level=warn component=config msg=\"invalid sync chunk size; using default\" value=%d", config.SyncChunkSize)
		config.SyncChunkSize = 20
	}
	if config.SyncChunkDelayMS < 0 {
		log.Printf("level=warn component=config msg=\"negative sync chunk delay; coercing to zero\" value=%d", config.SyncChunkDelayMS)
		config.SyncChunkDelayMS = 0
	}
	if config.SyncMaxRunSeconds <= 0 {
		config.SyncMaxRunSeconds = 300
	}
	if config.RateLimitWindowSeconds <= 0 {
		config.RateLimitWindowSeconds = 60
	}
	if config.RateLimitFreePerWindow <= 0 {
		config.RateLimitFreePerWindow = 100
	}
	if config.RateLimitProPerWindow <= 0 {
		config.RateLimitProPerWindow = 500
	}
	if config.RateLimitAdminPerWindow <= 0 {
		config.RateLimitAdminPerWindow = 10000
	}

	return
}
