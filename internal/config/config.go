package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/gregtusar/greeks-sentiment/pkg/market"
	"github.com/gregtusar/greeks-sentiment/pkg/secrets"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Kite      KiteConfig      `mapstructure:"kite"`
	Sheets    SheetsConfig    `mapstructure:"sheets"`
	Sentiment SentimentConfig `mapstructure:"sentiment"`
	Market    MarketConfig    `mapstructure:"market"`
	Output    OutputConfig    `mapstructure:"output"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	GCP       GCPConfig       `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port            int    `mapstructure:"port"`
	JWTSecret       string `mapstructure:"jwt_secret"`
	RefreshInterval int    `mapstructure:"refresh_interval"` // seconds
	Source          string `mapstructure:"source"`           // "csv" or "sheet"
}

type KiteConfig struct {
	APIKey        string `mapstructure:"api_key"`
	AccessToken   string `mapstructure:"access_token"`
	BaseURL       string `mapstructure:"base_url"`
	Exchange      string `mapstructure:"exchange"`
	Symbol        string `mapstructure:"symbol"`
	IndexKey      string `mapstructure:"index_key"`
	IndexToken    int64  `mapstructure:"index_token"`
	ValidateToken bool   `mapstructure:"validate_token"`
}

type SheetsConfig struct {
	// Service account key, raw JSON or base64.
	Credentials    string `mapstructure:"credentials"`
	TokenSheetID   string `mapstructure:"token_sheet_id"`
	TokenTab       string `mapstructure:"token_tab"`
	WriteBackToken bool   `mapstructure:"write_back_token"`
	GreeksSheetID  string `mapstructure:"greeks_sheet_id"`
	LogTab         string `mapstructure:"log_tab"`
	OpenTab        string `mapstructure:"open_tab"`
	OHLCSheetID    string `mapstructure:"ohlc_sheet_id"`
	OHLCTab        string `mapstructure:"ohlc_tab"`
}

type SentimentConfig struct {
	DeltaLower     float64 `mapstructure:"delta_lower"`
	DeltaUpper     float64 `mapstructure:"delta_upper"`
	RiskFreeRate   float64 `mapstructure:"risk_free_rate"`
	CandleInterval string  `mapstructure:"candle_interval"`
}

type MarketConfig struct {
	Timezone     string   `mapstructure:"timezone"`
	SessionOpen  string   `mapstructure:"session_open"`
	SessionClose string   `mapstructure:"session_close"`
	Holidays     []string `mapstructure:"holidays"`
	SkipClosed   bool     `mapstructure:"skip_closed"`
}

type OutputConfig struct {
	LogCSV        string `mapstructure:"log_csv"`
	OpenCSV       string `mapstructure:"open_csv"`
	HistoricalCSV string `mapstructure:"historical_csv"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type GCPConfig struct {
	ProjectID   string              `mapstructure:"project_id"`
	UseSecrets  bool                `mapstructure:"use_secrets"`
	SecretNames secrets.SecretNames `mapstructure:"secret_names"`
}

// SheetsEnabled reports whether a service account is configured at all.
func (c *Config) SheetsEnabled() bool {
	return c.Sheets.Credentials != ""
}

func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/greeks-sentiment")
	}

	v.SetEnvPrefix("SENTIMENT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
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

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// loadDotEnv reads .env from the working directory when present.
func loadDotEnv() error {
	envFile := os.Getenv("SENTIMENT_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s file: %w", envFile, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.refresh_interval", 60)
	v.SetDefault("server.source", "csv")

	// Kite defaults
	v.SetDefault("kite.base_url", "https://api.kite.trade")
	v.SetDefault("kite.exchange", "NFO")
	v.SetDefault("kite.symbol", "NIFTY")
	v.SetDefault("kite.index_key", "NSE:NIFTY 50")
	v.SetDefault("kite.index_token", 256265)
	v.SetDefault("kite.validate_token", true)

	// Sheets defaults
	v.SetDefault("sheets.token_tab", "Sheet1")
	v.SetDefault("sheets.write_back_token", true)
	v.SetDefault("sheets.log_tab", "GreeksLog")
	v.SetDefault("sheets.open_tab", "GreeksOpen")
	v.SetDefault("sheets.ohlc_tab", "OHLC")

	// Sentiment defaults
	v.SetDefault("sentiment.delta_lower", 0.05)
	v.SetDefault("sentiment.delta_upper", 0.60)
	v.SetDefault("sentiment.risk_free_rate", 0.06)
	v.SetDefault("sentiment.candle_interval", "5minute")

	// Market defaults
	v.SetDefault("market.timezone", "Asia/Kolkata")
	v.SetDefault("market.session_open", "09:15")
	v.SetDefault("market.session_close", "15:30")
	v.SetDefault("market.holidays", market.DefaultHolidays)
	v.SetDefault("market.skip_closed", true)

	// Output defaults
	v.SetDefault("output.log_csv", "greeks_log.csv")
	v.SetDefault("output.open_csv", "greeks_open.csv")
	v.SetDefault("output.historical_csv", "greeks_log_historical.csv")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	// GCP defaults
	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")

	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.kite_api_key", secretNames.KiteAPIKey)
	v.SetDefault("gcp.secret_names.kite_access_token", secretNames.KiteAccessToken)
	v.SetDefault("gcp.secret_names.google_credentials", secretNames.GoogleCredentials)
}

func overrideFromEnv(config *Config) {
	// Broker credentials
	if apiKey := os.Getenv("KITE_API_KEY"); apiKey != "" {
		config.Kite.APIKey = apiKey
	}
	if token := os.Getenv("KITE_ACCESS_TOKEN"); token != "" {
		config.Kite.AccessToken = token
	}

	// Service account, accepted under both spellings
	if creds := os.Getenv("GCREDS"); creds != "" {
		config.Sheets.Credentials = creds
	} else if creds := os.Getenv("gcreds"); creds != "" {
		config.Sheets.Credentials = creds
	}

	if id := os.Getenv("TOKEN_SHEET_ID"); id != "" {
		config.Sheets.TokenSheetID = id
	}
	if id := os.Getenv("GREEKS_SHEET_ID"); id != "" {
		config.Sheets.GreeksSheetID = id
	}
	if id := os.Getenv("OHLCS_SHEET_ID"); id != "" {
		config.Sheets.OHLCSheetID = id
	}

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	// GCP configuration from environment
	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

func (c *Config) Validate() error {
	if c.Sentiment.DeltaLower < 0 || c.Sentiment.DeltaUpper < c.Sentiment.DeltaLower {
		return fmt.Errorf("invalid delta band [%v, %v]", c.Sentiment.DeltaLower, c.Sentiment.DeltaUpper)
	}
	if c.Server.Source != "csv" && c.Server.Source != "sheet" {
		return fmt.Errorf("server.source must be csv or sheet, got %q", c.Server.Source)
	}
	if c.Server.RefreshInterval <= 0 {
		return fmt.Errorf("server.refresh_interval must be positive")
	}
	if c.Output.LogCSV == "" {
		return fmt.Errorf("output.log_csv is required")
	}
	return nil
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	// Only load secrets if they're not already set
	if config.Kite.APIKey == "" {
		config.Kite.APIKey = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.KiteAPIKey, "")
	}
	if config.Kite.AccessToken == "" {
		config.Kite.AccessToken = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.KiteAccessToken, "")
	}
	if config.Sheets.Credentials == "" {
		config.Sheets.Credentials = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.GoogleCredentials, "")
	}

	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}
