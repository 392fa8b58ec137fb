package config

import (
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	MongoDB  MongoDBConfig
	JWT      JWTConfig
	Email    EmailConfig
	Engine   EngineConfig
	LogLevel string
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         string
	AllowedHosts []string
}

// MongoDBConfig holds MongoDB-specific configuration
type MongoDBConfig struct {
	URI      string
	Database string
}

// JWTConfig holds JWT-specific configuration
type JWTConfig struct {
	Secret    string
	ExpiresIn int
}

// EmailConfig holds email gateway-specific configuration
type EmailConfig struct {
	BaseURL     string
	APIKey      string
	FromAddress string
	FromName    string
	MockGateway bool
}

// EngineConfig holds delivery-engine tuning knobs
type EngineConfig struct {
	RetrySweepInterval    int // minutes between retry sweeps
	SchedulerScanInterval int // minutes between daily-scan checks
	LoopRetryDelay        int // seconds between in-run attempts for one recipient
	DefaultMaxRetries     int
	DefaultSendInterval   int // seconds between recipients
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// It's okay if config file is not found, we'll use environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default values for configuration
func setDefaults() {
	viper.SetDefault("Server.Port", "4000")
	viper.SetDefault("Server.AllowedHosts", []string{"localhost:3000"})
	viper.SetDefault("MongoDB.URI", "mongodb://localhost:27017")
	viper.SetDefault("MongoDB.Database", "harborcms")
	viper.SetDefault("JWT.ExpiresIn", 24*60*60) // 24 hours
	viper.SetDefault("LogLevel", "info")
	viper.SetDefault("Email.FromAddress", "no-reply@harborcms.io")
	viper.SetDefault("Email.FromName", "HarborCMS")
	viper.SetDefault("Email.MockGateway", true)
	viper.SetDefault("Engine.RetrySweepInterval", 5)
	viper.SetDefault("Engine.SchedulerScanInterval", 60)
	viper.SetDefault("Engine.LoopRetryDelay", 5)
	viper.SetDefault("Engine.DefaultMaxRetries", 3)
	viper.SetDefault("Engine.DefaultSendInterval", 1)
}
