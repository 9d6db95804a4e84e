package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var validate = validator.New()

// Settings holds the process-wide defaults experiments are built with.
type Settings struct {
	Root      string `mapstructure:"root" validate:"required"`
	Backend   string `mapstructure:"backend" validate:"required"`
	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json console"`
	Verbose   bool   `mapstructure:"verbose"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root", "experiments")
	v.SetDefault("backend", "json")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("verbose", false)
}

// Load reads settings from XP_* environment variables and an optional
// xp.yaml in the working directory or ./config.
func Load() (*Settings, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("XP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("xp")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	s := &Settings{
		Root:      v.GetString("root"),
		Backend:   v.GetString("backend"),
		LogLevel:  strings.ToLower(v.GetString("log_level")),
		LogFormat: strings.ToLower(v.GetString("log_format")),
		Verbose:   v.GetBool("verbose"),
	}

	if err := validate.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	return s, nil
}
