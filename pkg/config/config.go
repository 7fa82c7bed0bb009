// Package config loads runtime configuration from the environment and an
// optional YAML file.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds everything the pipeline needs from the outside world.
type Config struct {
	Model struct {
		Token    string `mapstructure:"token"`
		Endpoint string `mapstructure:"endpoint"`
	} `mapstructure:"model"`
	FFmpeg struct {
		Path      string `mapstructure:"path"`
		ProbePath string `mapstructure:"probe_path"`
	} `mapstructure:"ffmpeg"`
	Dirs struct {
		Temp   string `mapstructure:"temp"`
		Output string `mapstructure:"output"`
	} `mapstructure:"dirs"`
	Server struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"server"`
}

// Load reads configuration from BEATSYNC_* environment variables, falling
// back to ./beatsync.yaml when present, then to defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BEATSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("model.endpoint", "https://api.replicate.com/v1")
	v.SetDefault("dirs.temp", "temp")
	v.SetDefault("dirs.output", "videos")
	v.SetDefault("server.listen", ":8080")

	for _, key := range []string{
		"model.token", "model.endpoint",
		"ffmpeg.path", "ffmpeg.probe_path",
		"dirs.temp", "dirs.output",
		"server.listen",
	} {
		_ = v.BindEnv(key)
	}

	v.SetConfigName("beatsync")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// The file is optional; only malformed content is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
