package config

import "github.com/spf13/viper"

type Config struct {
	ServerPort    string `mapstructure:"SERVER_PORT"`
	PostgresURL   string `mapstructure:"POSTGRES_URL"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	DataDir     string `mapstructure:"DATA_DIR"`
	ProfilePath string `mapstructure:"PROFILE_PATH"`
	PlanPath    string `mapstructure:"PLAN_PATH"`

	CheckpointSeconds  int `mapstructure:"CHECKPOINT_SECONDS"`
	CheckpointReadings int `mapstructure:"CHECKPOINT_READINGS"`
	CheckpointKeep     int `mapstructure:"CHECKPOINT_KEEP"`

	HoldbackMS              int     `mapstructure:"HOLDBACK_MS"`
	MaxPlausibleSpeedMps    float64 `mapstructure:"MAX_PLAUSIBLE_SPEED_MPS"`
	NPWindowSeconds         int     `mapstructure:"NP_WINDOW_SECONDS"`
	StationaryWindowSeconds int     `mapstructure:"STATIONARY_WINDOW_SECONDS"`

	ExportGPX bool `mapstructure:"EXPORT_GPX"`
	ExportFIT bool `mapstructure:"EXPORT_FIT"`
}

func Load() Config {
	viper.AutomaticEnv()
	viper.SetDefault("SERVER_PORT", ":8080")
	// Empty means no database / no redis: disk-only artifacts, local
	// observation only.
	viper.SetDefault("POSTGRES_URL", "")
	viper.SetDefault("REDIS_ADDR", "")
	viper.SetDefault("REDIS_PASSWORD", "")

	viper.SetDefault("DATA_DIR", "./data")
	viper.SetDefault("PROFILE_PATH", "")
	viper.SetDefault("PLAN_PATH", "")

	viper.SetDefault("CHECKPOINT_SECONDS", 5)
	viper.SetDefault("CHECKPOINT_READINGS", 100)
	viper.SetDefault("CHECKPOINT_KEEP", 3)

	viper.SetDefault("HOLDBACK_MS", 250)
	viper.SetDefault("MAX_PLAUSIBLE_SPEED_MPS", 30.0)
	viper.SetDefault("NP_WINDOW_SECONDS", 30)
	viper.SetDefault("STATIONARY_WINDOW_SECONDS", 10)

	viper.SetDefault("EXPORT_GPX", true)
	viper.SetDefault("EXPORT_FIT", true)

	var cfg Config
	_ = viper.Unmarshal(&cfg)
	return cfg
}
