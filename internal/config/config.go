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
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	NotificationExchange     string `mapstructure:"NOTIFICATION_EXCHANGE"`
	AdminJWTSecret           string `mapstructure:"ADMIN_JWT_SECRET"`
	CodeAttempts             int    `mapstructure:"CODE_ATTEMPTS"`
	CodeExpirationMinutes    int    `mapstructure:"CODE_EXPIRATION_MINUTES"`
	VerifyRateLimitPerMinute int    `mapstructure:"VERIFY_RATE_LIMIT_PER_MINUTE"`
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
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "ledger:rate_limit")
	viper.SetDefault("NOTIFICATION_EXCHANGE", "ledger.events")
	viper.SetDefault("CODE_ATTEMPTS", 3)
	viper.SetDefault("CODE_EXPIRATION_MINUTES", 5)
	viper.SetDefault("VERIFY_RATE_LIMIT_PER_MINUTE", 30)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("NOTIFICATION_EXCHANGE")
	_ = viper.BindEnv("ADMIN_JWT_SECRET")
	_ = viper.BindEnv("CODE_ATTEMPTS")
	_ = viper.BindEnv("CODE_EXPIRATION_MINUTES")
	_ = viper.BindEnv("VERIFY_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "ledger:rate_limit"
	}
	config.NotificationExchange = strings.TrimSpace(config.NotificationExchange)
	if config.NotificationExchange == "" {
		config.NotificationExchange = "ledger.events"
	}

	if config.CodeAttempts <= 0 {
		log.Printf("level=warn component=config msg=\"invalid CODE_ATTEMPTS; using default\" value=%d", config.CodeAttempts)
		config.CodeAttempts = 3
	}
	if config.CodeExpirationMinutes <= 0 {
		log.Printf("level=warn component=config msg=\"invalid CODE_EXPIRATION_MINUTES; using default\" value=%d", config.CodeExpirationMinutes)
		config.CodeExpirationMinutes = 5
	}
	// A zero or negative verify limit disables rate limiting.
	if config.VerifyRateLimitPerMinute < 0 {
		config.VerifyRateLimitPerMinute = 0
	}

	return
}
