package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/zalando/go-keyring"
)

// keyringService is the system keyring service name credentials are stored
// under, one entry per provider (the account name).
const keyringService = "xzatoma"

// Credentials holds API keys for LLM providers. The JSON file on disk is
// the fallback store; GetAPIKey prefers the host's keyring when one is
// available (spec.md's credential policy: system keyring preferred), with
// the file-backed value as fallback for headless hosts where no keyring
// backend exists. No environment variable is consulted.
type Credentials struct {
	Providers map[string]ProviderCredentials `json:"providers"`
}

// ProviderCredentials holds authentication for a single provider.
type ProviderCredentials struct {
	APIKey string `json:"api_key"`
}

// LoadCredentials reads credentials from ~/.config/xzatoma/credentials.json.
func LoadCredentials() (*Credentials, error) {
	path, err := credentialsPath()
	if err != nil {
		return nil, err
	}

	creds := &Credentials{
		Providers: make(map[string]ProviderCredentials),
	}

	//nolint:gosec // G304: Path from validated config file
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return creds, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, creds); err != nil {
		return nil, err
	}

	return creds, nil
}

// SaveCredentials writes credentials to ~/.config/xzatoma/credentials.json with 0600 permissions.
func SaveCredentials(creds *Credentials) error {
	dir, err := EnsureDataDir()
	if err != nil {
		return err
	}

	path := filepath.Join(dir, "credentials.json")
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// GetAPIKey returns the API key for a given provider, preferring the host's
// system keyring and falling back to the on-disk credentials file when no
// keyring entry exists (no backend on this host, or the key predates
// keyring support).
func (c *Credentials) GetAPIKey(provider string) string {
	if key, err := keyring.Get(keyringService, provider); err == nil {
		return key
	} else if err != keyring.ErrNotFound {
		log.Debug().Err(err).Str("provider", provider).Msg("keyring lookup unavailable, using credentials file")
	}
	if c == nil || c.Providers == nil {
		return ""
	}
	return c.Providers[provider].APIKey
}

// SetAPIKey sets the API key for a given provider, writing through to the
// system keyring (best-effort) in addition to the in-memory map that
// SaveCredentials persists to disk.
func (c *Credentials) SetAPIKey(provider, apiKey string) {
	if err := keyring.Set(keyringService, provider, apiKey); err != nil {
		log.Debug().Err(err).Str("provider", provider).Msg("could not store key in system keyring, falling back to credentials file only")
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderCredentials)
	}
	c.Providers[provider] = ProviderCredentials{APIKey: apiKey}
}

func credentialsPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "credentials.json"), nil
}
