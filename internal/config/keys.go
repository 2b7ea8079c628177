package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// apiKeyEnvVars are checked in order before the config file.
var apiKeyEnvVars = []string{EnvPrefix + "_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv     KeySource = "environment"
	KeySourceConfig  KeySource = "config_file"
	KeySourceBedrock KeySource = "aws_bedrock"
	KeySourceNone    KeySource = "none"
)

// GetAPIKey returns the Anthropic API key and where it came from.
// Bedrock deployments authenticate with AWS credentials and need no key.
func GetAPIKey(cfg *Config) (string, KeySource, error) {
	for _, name := range apiKeyEnvVars {
		if key := os.Getenv(name); key != "" {
			return key, KeySourceEnv, nil
		}
	}

	if cfg != nil && cfg.Anthropic.APIKey != "" {
		key := os.ExpandEnv(cfg.Anthropic.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, KeySourceConfig, nil
		}
	}

	if cfg != nil && cfg.Anthropic.UseAWSBedrock {
		return "", KeySourceBedrock, nil
	}
	return "", KeySourceNone, ErrNoAPIKey
}

// ValidateAPIKey performs basic validation on an API key.
// It checks format but does not verify the key with Anthropic's API.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}
	if !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("invalid API key format: expected 'sk-ant-' prefix")
	}
	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}
	return nil
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters (sk-ant-) and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}
