// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Payments  PaymentsConfig  `mapstructure:"payments"`
	Transport TransportConfig `mapstructure:"transport"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	MetricsPort int    `mapstructure:"metrics_port"`
	WebhookPort int    `mapstructure:"webhook_port"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StorageConfig controls the file fallback backend and the optional shared
// entitlement cache.
type StorageConfig struct {
	UsersFile        string `mapstructure:"users_file"`
	SharedCache      bool   `mapstructure:"shared_cache"`
	SharedCacheTTLms int    `mapstructure:"shared_cache_ttl_ms"`
}

// --- External Provider Config ---

type ProvidersConfig struct {
	Chat   ChatProviderConfig   `mapstructure:"chat"`
	Vision VisionProviderConfig `mapstructure:"vision"`
}

type ChatProviderConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	MaxTokens  int    `mapstructure:"max_tokens"`
	Timeout    int    `mapstructure:"timeout"` // milliseconds
	MaxHistory int    `mapstructure:"max_history"`
}

// VisionAccountConfig is one signing identity for the OCR provider. Several
// accounts may be configured to spread rate limits.
type VisionAccountConfig struct {
	ServiceAccountID string `mapstructure:"service_account_id"`
	KeyID            string `mapstructure:"key_id"`
	SecretKey        string `mapstructure:"secret_key"` // PEM, \n-escaped in env
}

type VisionProviderConfig struct {
	FolderID             string                `mapstructure:"folder_id"`
	TokenURL             string                `mapstructure:"token_url"`
	OCRURL               string                `mapstructure:"ocr_url"`
	Accounts             []VisionAccountConfig `mapstructure:"accounts"`
	Timeout              int                   `mapstructure:"timeout"`          // milliseconds, OCR call
	DownloadTimeout      int                   `mapstructure:"download_timeout"` // milliseconds, image fetch
	ChargeFailedRequests bool                  `mapstructure:"charge_failed_requests"`
}

type PaymentsConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	ShopID    string `mapstructure:"shop_id"`
	SecretKey string `mapstructure:"secret_key"`
	ReturnURL string `mapstructure:"return_url"`
	Timeout   int    `mapstructure:"timeout"` // milliseconds
}

type TransportConfig struct {
	Token            string `mapstructure:"token"`
	GroupID          int    `mapstructure:"group_id"`
	APIBaseURL       string `mapstructure:"api_base_url"`
	MaxMessageLength int    `mapstructure:"max_message_length"`
	CommandPrefix    string `mapstructure:"command_prefix"`
	SupportLink      string `mapstructure:"support_link"`
}

type AlertsConfig struct {
	SNS SNSConfig `mapstructure:"sns"`
}

type SNSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Region   string `mapstructure:"region"`
	TopicARN string `mapstructure:"topic_arn"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
