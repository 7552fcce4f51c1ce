// Package config centralizes viper-based configuration into a single typed struct load, so
// internal/macro and internal/controller get typed config instead of scattered os.Getenv
// calls.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/opencnc/cncstream/internal/macro"
)

const EnvPrefix = "CNCSTREAM"

// DatabaseConfig configures the macro store's Postgres connection.
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Database       string `mapstructure:"database"`
	SSLMode        string `mapstructure:"sslmode"`
	MaxConnections int32  `mapstructure:"max_connections"`
}

func (d DatabaseConfig) DSN() macro.DSN {
	return macro.DSN{
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		Database: d.Database,
		SSLMode:  d.SSLMode,
	}
}

// Config is the whole process's configuration, loaded from flags, environment (CNCSTREAM_*),
// and defaults, in that order of precedence.
type Config struct {
	Port         string `mapstructure:"port"`
	BaudRate     int    `mapstructure:"baud_rate"`
	Firmware     string `mapstructure:"firmware"` // "grbl" or "tinyg2"
	LowWaterMark int    `mapstructure:"low_water_mark"`

	HTTPAddr      string `mapstructure:"http_addr"`
	WebSocketAddr string `mapstructure:"websocket_addr"`

	MacroRoot string         `mapstructure:"macro_root"`
	Database  DatabaseConfig `mapstructure:"database"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("baud_rate", 115200)
	v.SetDefault("firmware", "grbl")
	v.SetDefault("low_water_mark", 4)
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("websocket_addr", ":8081")
	v.SetDefault("macro_root", "./macros")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_connections", 10)
}

// Load builds a Config from flags (if non-nil), CNCSTREAM_-prefixed environment variables, and
// defaults. An explicitly-set flag always wins; unset flags are backfilled from the
// environment.
func Load(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	defaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
