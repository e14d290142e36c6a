// Package credentials resolves provider API keys, preferring environment
// variables and falling back to the credentials file in the data directory.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var providerEnvKeys = map[string]string{
	"anthropic":  "ANTHROPIC_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

type credentialsFile struct {
	Credentials map[string]string `yaml:"credentials"`
}

func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".quorum", "credentials.yaml")
}

// ResolveAPIKey returns the key for a provider, or an error when none is
// configured anywhere.
func ResolveAPIKey(provider string) (string, error) {
	return resolveAPIKey(provider, DefaultPath())
}

func resolveAPIKey(provider, path string) (string, error) {
	if key := resolveFromEnv(provider); key != "" {
		return key, nil
	}

	key, err := resolveFromFile(provider, path)
	if err != nil {
		return "", err
	}
	if key != "" {
		return key, nil
	}

	return "", fmt.Errorf("no API key found for provider %q", provider)
}

func resolveFromEnv(provider string) string {
	envKey, ok := providerEnvKeys[provider]
	if !ok {
		return ""
	}
	return os.Getenv(envKey)
}

func resolveFromFile(provider, path string) (string, error) {
	if path == "" {
		return "", nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading credentials: %w", err)
	}

	var creds credentialsFile
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return "", fmt.Errorf("parsing credentials: %w", err)
	}

	return creds.Credentials[provider], nil
}

// EnvKeyName returns the environment variable consulted for a provider.
func EnvKeyName(provider string) string {
	return providerEnvKeys[provider]
}

// HasCredentials reports whether a usable key exists for the provider.
func HasCredentials(provider string) bool {
	key, err := ResolveAPIKey(provider)
	return err == nil && key != ""
}
