package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/pension720/backend/internal/models"
)

// AccountConfig is one entry of the ACCOUNTS JSON array.
type AccountConfig struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	Enabled  *bool  `json:"enabled"`
}

// Config is the validated runtime configuration.
type Config struct {
	Port     string
	Accounts []models.Account

	UpdateInterval   time.Duration
	LockoutThreshold int
	LockoutCooldown  time.Duration

	UseMQTT      bool
	MQTTURL      string
	MQTTUsername string
	MQTTPassword string
}

// BindEnv registers every environment key with viper. Call once at startup
// before Load.
func BindEnv() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.BindEnv("accounts", "ACCOUNTS")
	viper.BindEnv("port", "PORT")
	viper.BindEnv("update.interval", "UPDATE_INTERVAL")
	viper.BindEnv("login.lockout_threshold", "LOGIN_LOCKOUT_THRESHOLD")
	viper.BindEnv("login.lockout_cooldown", "LOGIN_LOCKOUT_COOLDOWN")

	viper.BindEnv("mqtt.enabled", "USE_MQTT")
	viper.BindEnv("mqtt.url", "MQTT_URL")
	viper.BindEnv("mqtt.username", "MQTT_USERNAME")
	viper.BindEnv("mqtt.password", "MQTT_PASSWORD")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("redis.enabled", "USE_REDIS")

	viper.BindEnv("api.secret_key", "API_SECRET_KEY")

	viper.SetDefault("port", "8080")
	viper.SetDefault("update.interval", "1h")
	viper.SetDefault("login.lockout_threshold", 5)
	viper.SetDefault("login.lockout_cooldown", "30m")
}

// Load parses and validates the configuration. At least one account must
// be configured.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             viper.GetString("port"),
		UpdateInterval:   viper.GetDuration("update.interval"),
		LockoutThreshold: viper.GetInt("login.lockout_threshold"),
		LockoutCooldown:  viper.GetDuration("login.lockout_cooldown"),
		UseMQTT:          viper.GetBool("mqtt.enabled"),
		MQTTURL:          viper.GetString("mqtt.url"),
		MQTTUsername:     viper.GetString("mqtt.username"),
		MQTTPassword:     viper.GetString("mqtt.password"),
	}

	raw := viper.GetString("accounts")
	if raw == "" {
		return nil, fmt.Errorf("ACCOUNTS is required: a JSON array of {username, password, enabled}")
	}

	var entries []AccountConfig
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("ACCOUNTS is not valid JSON: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("ACCOUNTS must list at least one account")
	}

	validate := validator.New()
	seen := make(map[string]bool, len(entries))
	for i, entry := range entries {
		if err := validate.Struct(entry); err != nil {
			return nil, fmt.Errorf("ACCOUNTS entry %d: %w", i, err)
		}
		if seen[entry.Username] {
			return nil, fmt.Errorf("ACCOUNTS entry %d: duplicate username %q", i, entry.Username)
		}
		seen[entry.Username] = true

		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		cfg.Accounts = append(cfg.Accounts, models.Account{
			Username: entry.Username,
			Password: entry.Password,
			Enabled:  enabled,
		})
	}

	if cfg.UseMQTT && cfg.MQTTURL == "" {
		return nil, fmt.Errorf("MQTT_URL is required when USE_MQTT is set")
	}
	if cfg.UpdateInterval < time.Minute {
		cfg.UpdateInterval = time.Minute
	}

	return cfg, nil
}
