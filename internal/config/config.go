package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	DBPath string `mapstructure:"db_path"`

	EngineSocket      string        `mapstructure:"engine_socket"`
	EngineCallTimeout time.Duration `mapstructure:"engine_call_timeout"`
	EngineWorkers     int           `mapstructure:"engine_workers"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`

	TURNSecret  string        `mapstructure:"turn_secret"`
	TURNHost    string        `mapstructure:"turn_host"`
	TURNPort    int           `mapstructure:"turn_port"`
	TURNTLSPort int           `mapstructure:"turn_tls_port"`
	TURNCredTTL time.Duration `mapstructure:"turn_cred_ttl"`

	MaxParticipants int           `mapstructure:"max_participants"`
	RoomTTL         time.Duration `mapstructure:"room_ttl"`
	InviteTTL       time.Duration `mapstructure:"invite_ttl"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("ribbon")
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 5558)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "25s")
	v.SetDefault("db_path", "./data/ribbon.db")
	v.SetDefault("engine_socket", "./sfu/mediasoup.sock")
	v.SetDefault("engine_call_timeout", "10s")
	v.SetDefault("engine_workers", 1)
	v.SetDefault("reconcile_interval", "30s")
	v.SetDefault("turn_host", "127.0.0.1")
	v.SetDefault("turn_port", 3478)
	v.SetDefault("turn_tls_port", 5349)
	v.SetDefault("turn_cred_ttl", "24h")
	v.SetDefault("max_participants", 15)
	v.SetDefault("room_ttl", "24h")
	v.SetDefault("invite_ttl", "1h")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
