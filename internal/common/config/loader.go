// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like PROVIDERS_CHAT_API_KEY
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Boolean defaults must be set here; applyDefaults cannot tell an
	// explicit false from an unset key after unmarshal.
	viper.SetDefault("providers.vision.charge_failed_requests", true)

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay, optional
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile tries multiple paths so commands and tests can run from any
// directory inside the repo.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "quotagate"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}
	if cfg.App.MetricsPort == 0 {
		cfg.App.MetricsPort = 9090
	}
	if cfg.App.WebhookPort == 0 {
		cfg.App.WebhookPort = 8080
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 10
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 1
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.Storage.UsersFile == "" {
		cfg.Storage.UsersFile = "users.json"
	}
	if cfg.Storage.SharedCacheTTLms == 0 {
		cfg.Storage.SharedCacheTTLms = 300000
	}

	if cfg.Providers.Chat.BaseURL == "" {
		cfg.Providers.Chat.BaseURL = "https://api.deepseek.com/v1"
	}
	if cfg.Providers.Chat.Model == "" {
		cfg.Providers.Chat.Model = "deepseek-chat"
	}
	if cfg.Providers.Chat.MaxTokens == 0 {
		cfg.Providers.Chat.MaxTokens = 1000
	}
	if cfg.Providers.Chat.Timeout == 0 {
		cfg.Providers.Chat.Timeout = 30000
	}
	if cfg.Providers.Chat.MaxHistory == 0 {
		cfg.Providers.Chat.MaxHistory = 10
	}

	if cfg.Providers.Vision.TokenURL == "" {
		cfg.Providers.Vision.TokenURL = "https://iam.api.cloud.yandex.net/iam/v1/tokens"
	}
	if cfg.Providers.Vision.OCRURL == "" {
		cfg.Providers.Vision.OCRURL = "https://ocr.api.cloud.yandex.net/ocr/v1/recognizeText"
	}
	if cfg.Providers.Vision.Timeout == 0 {
		cfg.Providers.Vision.Timeout = 30000
	}
	if cfg.Providers.Vision.DownloadTimeout == 0 {
		cfg.Providers.Vision.DownloadTimeout = 20000
	}

	if cfg.Payments.BaseURL == "" {
		cfg.Payments.BaseURL = "https://api.yookassa.ru/v3"
	}
	if cfg.Payments.Timeout == 0 {
		cfg.Payments.Timeout = 10000
	}

	if cfg.Transport.MaxMessageLength == 0 {
		cfg.Transport.MaxMessageLength = 4096
	}
	if cfg.Transport.CommandPrefix == "" {
		cfg.Transport.CommandPrefix = "!"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Transport.Token == "" {
		return fmt.Errorf("transport.token is required")
	}
	if cfg.Providers.Chat.APIKey == "" {
		return fmt.Errorf("providers.chat.api_key is required")
	}
	return nil
}
