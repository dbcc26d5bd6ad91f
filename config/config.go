// Package config holds the process configuration for the EMV PKI
// tools: where the CA public-key registry lives and which crypto
// backend to use.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/emvkit/emvpki/crypto"
)

type Config struct {
	// CAPKFile is the path of the CA public-key registry.
	CAPKFile string `mapstructure:"capk_file" json:"capk_file"`
	// CryptoDriver selects the crypto backend, applied once at
	// startup.
	CryptoDriver string `mapstructure:"crypto_driver" json:"crypto_driver"`
}

func DefaultConfig() *Config {
	return &Config{
		CAPKFile:     "capk.txt",
		CryptoDriver: crypto.DriverNative,
	}
}

// GetConfig reads the configuration file and returns a Config. With no
// path it looks for config.json in the working directory; a directory
// path is searched for config.json, a file path is used directly.
// Environment variables override file values. When the search finds
// no config.json, the defaults are used; a given path that does not
// exist is an error.
func GetConfig(configPath ...string) (*Config, error) {
	viper.Reset()
	viper.SetConfigType("json")

	cfg := DefaultConfig()
	viper.SetDefault("capk_file", cfg.CAPKFile)
	viper.SetDefault("crypto_driver", cfg.CryptoDriver)

	if len(configPath) == 1 {
		path := configPath[0]
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error accessing config path %s: %w", path, err)
		}
		if info.IsDir() {
			viper.SetConfigName("config")
			viper.AddConfigPath(path)
		} else {
			viper.SetConfigFile(path)
		}
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return cfg, nil
}

// Apply installs the process-wide settings the configuration governs.
func Apply(cfg *Config) error {
	return crypto.Select(cfg.CryptoDriver)
}
