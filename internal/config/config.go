package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Node struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	Region   string `mapstructure:"region"`
}

type Config struct {
	Token    string `mapstructure:"token"`
	LogLevel string `mapstructure:"log_level"`
	Node     Node   `mapstructure:"node"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

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

	v.SetDefault("log_level", "info")
	v.SetDefault("node.host", "localhost")
	v.SetDefault("node.port", 8000)
	v.SetDefault("node.password", "hellodiscodo")
	v.SetDefault("node.region", "")

	v.SetEnvPrefix("discodo")
	v.AutomaticEnv()
	_ = v.BindEnv("token", "DISCORD_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("missing bot token: set DISCORD_TOKEN or token in %s", fileName)
	}
	return &cfg, nil
}
