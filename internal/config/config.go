// Package config provides Viper-based configuration loading for the
// expedition server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// GatewayConfig holds the websocket gateway listener settings.
type GatewayConfig struct {
	// Host is the bind address for the gateway HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the gateway HTTP listener.
	Port int `mapstructure:"port"`
	// WriteTimeout is the per-event write timeout for subscriber connections.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// BattleConfig holds the combat pacing parameters.
//
// An actor's tick period is BaseTick divided by its speed stat, so with the
// default BaseTick of 250s an actor with speed 100 acts every 2.5s.
type BattleConfig struct {
	// BaseTick is the speed-scaled pacing constant.
	BaseTick time.Duration `mapstructure:"base_tick"`
	// PlayerSpeed is the fixed speed stat for human players.
	PlayerSpeed float64 `mapstructure:"player_speed"`
	// MoraleStart is the morale every companion begins combat with.
	MoraleStart int `mapstructure:"morale_start"`
	// MoraleGain is the morale gained per companion tick.
	MoraleGain int `mapstructure:"morale_gain"`
	// MaxPlayers is the room capacity.
	MaxPlayers int `mapstructure:"max_players"`
}

// ContentConfig holds the catalog file locations.
type ContentConfig struct {
	Areas      string `mapstructure:"areas"`
	Species    string `mapstructure:"species"`
	Prefixes   string `mapstructure:"prefixes"`
	Companions string `mapstructure:"companions"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Battle   BattleConfig   `mapstructure:"battle"`
	Content  ContentConfig  `mapstructure:"content"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateDatabase(c.Database); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateGateway(c.Gateway); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateBattle(c.Battle); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateContent(c.Content); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateGateway(g GatewayConfig) error {
	var errs []string
	if g.Port < 1 || g.Port > 65535 {
		errs = append(errs, fmt.Sprintf("gateway.port must be 1-65535, got %d", g.Port))
	}
	if g.WriteTimeout < 0 {
		errs = append(errs, "gateway.write_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateBattle(b BattleConfig) error {
	var errs []string
	if b.BaseTick <= 0 {
		errs = append(errs, fmt.Sprintf("battle.base_tick must be > 0, got %s", b.BaseTick))
	}
	if b.PlayerSpeed <= 0 {
		errs = append(errs, fmt.Sprintf("battle.player_speed must be > 0, got %f", b.PlayerSpeed))
	}
	if b.MoraleStart < 0 || b.MoraleStart > 100 {
		errs = append(errs, fmt.Sprintf("battle.morale_start must be 0-100, got %d", b.MoraleStart))
	}
	if b.MoraleGain < 1 {
		errs = append(errs, fmt.Sprintf("battle.morale_gain must be >= 1, got %d", b.MoraleGain))
	}
	if b.MaxPlayers < 1 {
		errs = append(errs, fmt.Sprintf("battle.max_players must be >= 1, got %d", b.MaxPlayers))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateContent(c ContentConfig) error {
	var errs []string
	if c.Areas == "" {
		errs = append(errs, "content.areas must not be empty")
	}
	if c.Species == "" {
		errs = append(errs, "content.species must not be empty")
	}
	if c.Prefixes == "" {
		errs = append(errs, "content.prefixes must not be empty")
	}
	if c.Companions == "" {
		errs = append(errs, "content.companions must not be empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with EXPEDITION_ prefix
	v.SetEnvPrefix("EXPEDITION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "expedition")
	v.SetDefault("database.password", "expedition")
	v.SetDefault("database.name", "expedition")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.write_timeout", "5s")

	v.SetDefault("battle.base_tick", "250s")
	v.SetDefault("battle.player_speed", 100.0)
	v.SetDefault("battle.morale_start", 50)
	v.SetDefault("battle.morale_gain", 15)
	v.SetDefault("battle.max_players", 4)

	v.SetDefault("content.areas", "content/areas.yaml")
	v.SetDefault("content.species", "content/species.yaml")
	v.SetDefault("content.prefixes", "content/prefixes.yaml")
	v.SetDefault("content.companions", "content/companions.yaml")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
