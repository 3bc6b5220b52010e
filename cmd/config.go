package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"procodus.dev/switchwatch/internal/config"
	"procodus.dev/switchwatch/pkg/logger"
)

const namespace = "switchwatch"

// InitConfig loads .env into the environment, then reads config.yaml and
// SWITCHWATCH_* environment variables into viper.
func InitConfig(cfgFile string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/switchwatch/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("SWITCHWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFoundErr) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// GetLogger builds the process logger from log.level and log.file. The
// closer releases the rotated log file.
func GetLogger() (*slog.Logger, io.Closer, error) {
	cfg := &logger.Config{
		Output: os.Stdout,
		Level:  logger.ParseLevel(viper.GetString("log.level")),
	}
	if path := viper.GetString("log.file"); path != "" {
		cfg.File = &logger.FileConfig{
			Path:         path,
			RotationTime: viper.GetDuration("log.rotation_time"),
			MaxAge:       viper.GetDuration("log.max_age"),
		}
	}
	return logger.Open(cfg)
}

// LoadFleet reads the fleet file named by the fleet key, or the built-in
// defaults when none is set.
func LoadFleet() (*config.Fleet, error) {
	fleet, err := config.Load(viper.GetString("fleet"))
	if err != nil {
		return nil, fmt.Errorf("failed to load fleet: %w", err)
	}
	return fleet, nil
}
