package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		DBName   string `mapstructure:"dbname"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Redis struct {
		Host         string        `mapstructure:"host"`
		Port         int           `mapstructure:"port"`
		Password     string        `mapstructure:"password"`
		DB           int           `mapstructure:"db"`
		PoolSize     int           `mapstructure:"pool_size"`
		MinIdleConns int           `mapstructure:"min_idle_conns"`
		MaxRetries   int           `mapstructure:"max_retries"`
		DialTimeout  time.Duration `mapstructure:"dial_timeout"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
	} `mapstructure:"redis"`

	JWT struct {
		SecretKey     string        `mapstructure:"secret_key"`
		TokenDuration time.Duration `mapstructure:"token_duration"`
	} `mapstructure:"jwt"`

	Server struct {
		Port         int           `mapstructure:"port"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	} `mapstructure:"server"`

	RateLimit struct {
		IPLimit        int `mapstructure:"ip_limit"`
		IPWindow       int `mapstructure:"ip_window"`
		UserLimit      int `mapstructure:"user_limit"`
		UserWindow     int `mapstructure:"user_window"`
		EndpointLimit  int `mapstructure:"endpoint_limit"`
		EndpointWindow int `mapstructure:"endpoint_window"`
	} `mapstructure:"rate_limit"`

	// Payment holds the Gold/Shop Engine's external payment integration:
	// the provider secret key used to create checkout sessions and the
	// webhook secret used to verify HMAC-signed confirmations (§4.G/§6).
	Payment struct {
		SecretKey     string `mapstructure:"secret_key"`
		WebhookSecret string `mapstructure:"webhook_secret"`
	} `mapstructure:"payment"`

	// IdentityProvider is the recognized "identity provider project id"
	// environment variable named in §6's configuration surface; this
	// repo's own JWT issuance (see auth) is the identity provider, so the
	// field is carried for parity with any external identity integration
	// an operator layers on top, not consumed internally.
	IdentityProvider struct {
		ProjectID string `mapstructure:"project_id"`
	} `mapstructure:"identity_provider"`

	TimeZone string `mapstructure:"timezone"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("ETHERIA")
	viper.AutomaticEnv()
	viper.BindEnv("database.host", "ETHERIA_DATABASE_HOST")
	viper.BindEnv("database.port", "ETHERIA_DATABASE_PORT")
	viper.BindEnv("database.user", "ETHERIA_DATABASE_USER")
	viper.BindEnv("database.password", "ETHERIA_DATABASE_PASSWORD")
	viper.BindEnv("database.dbname", "ETHERIA_DATABASE_DBNAME")
	viper.BindEnv("jwt.secret_key", "ETHERIA_JWT_SECRET_KEY")
	viper.BindEnv("identity_provider.project_id", "ETHERIA_IDENTITY_PROVIDER_PROJECT_ID")
	viper.BindEnv("payment.secret_key", "ETHERIA_PAYMENT_SECRET_KEY")
	viper.BindEnv("payment.webhook_secret", "ETHERIA_PAYMENT_WEBHOOK_SECRET")

	if err := viper.ReadInConfig(); err != nil {
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
