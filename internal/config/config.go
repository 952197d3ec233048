package config

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/tallisward/convdn/pkg/secrets"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Platform PlatformConfig `mapstructure:"platform"`
	Nuke     NukeConfig     `mapstructure:"nuke"`
	Data     DataConfig     `mapstructure:"data"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	GCP      GCPConfig      `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// PlatformConfig points at the pricing platform serving the daily close
// and sensitivity series.
type PlatformConfig struct {
	BaseURL   string  `mapstructure:"base_url"`
	StreamURL string  `mapstructure:"stream_url"`
	Timeout   int     `mapstructure:"timeout"`
	RateLimit float64 `mapstructure:"rate_limit"`

	// AuthType selects "hmac" or "jwt"
	AuthType  string `mapstructure:"auth_type"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`

	// JWT credentials
	APIKeyName    string `mapstructure:"api_key_name"`
	PrivateKeyPEM string `mapstructure:"private_key_pem"`
}

// NukeConfig points at the external pricing service computing the
// synthetic reprice curve.
type NukeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout int    `mapstructure:"timeout"`
}

// DataConfig names the platform fields computations read. Kept as
// explicit configuration so the engine never consults the environment.
type DataConfig struct {
	PriceField string `mapstructure:"price_field"`
	DeltaField string `mapstructure:"delta_field"`
	HedgeModel string `mapstructure:"hedge_model"`
	Frequency  string `mapstructure:"frequency"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/convdn")
	}

	v.SetEnvPrefix("CONVDN")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		if err := loadSecretsFromGCP(ctx, &config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)

	v.SetDefault("platform.base_url", "https://api.pricing.example.com")
	v.SetDefault("platform.stream_url", "wss://stream.pricing.example.com/v1/prints")
	v.SetDefault("platform.timeout", 30)
	v.SetDefault("platform.rate_limit", 10.0)
	v.SetDefault("platform.auth_type", "hmac")

	v.SetDefault("nuke.enabled", true)
	v.SetDefault("nuke.timeout", 30)

	v.SetDefault("data.price_field", "px_last")
	v.SetDefault("data.delta_field", "ud_delta")
	v.SetDefault("data.hedge_model", "")
	v.SetDefault("data.frequency", "BUSINESS_DAYS")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")

	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.platform_api_key", secretNames.PlatformAPIKey)
	v.SetDefault("gcp.secret_names.platform_api_secret", secretNames.PlatformAPISecret)
	v.SetDefault("gcp.secret_names.platform_private_key", secretNames.PlatformPrivateKey)
	v.SetDefault("gcp.secret_names.nuke_api_key", secretNames.NukeAPIKey)
}

func overrideFromEnv(config *Config) {
	if apiKey := os.Getenv("PLATFORM_API_KEY"); apiKey != "" {
		config.Platform.APIKey = apiKey
	}
	if apiSecret := os.Getenv("PLATFORM_API_SECRET"); apiSecret != "" {
		config.Platform.APISecret = apiSecret
	}
	if authType := os.Getenv("PLATFORM_AUTH_TYPE"); authType != "" {
		config.Platform.AuthType = authType
	}
	if keyName := os.Getenv("PLATFORM_API_KEY_NAME"); keyName != "" {
		config.Platform.APIKeyName = keyName
	}
	if privateKey := os.Getenv("PLATFORM_PRIVATE_KEY"); privateKey != "" {
		config.Platform.PrivateKeyPEM = privateKey
	}
	if apiKey := os.Getenv("NUKE_API_KEY"); apiKey != "" {
		config.Nuke.APIKey = apiKey
	}

	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	// Only load secrets that are not already set
	if config.Platform.APIKey == "" {
		config.Platform.APIKey = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.PlatformAPIKey, "")
	}
	if config.Platform.APISecret == "" {
		config.Platform.APISecret = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.PlatformAPISecret, "")
	}
	if config.Platform.PrivateKeyPEM == "" {
		config.Platform.PrivateKeyPEM = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.PlatformPrivateKey, "")
	}
	if config.Nuke.APIKey == "" {
		config.Nuke.APIKey = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.NukeAPIKey, "")
	}

	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}
