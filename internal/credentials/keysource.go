package credentials

import (
	"fmt"

	vault "github.com/hashicorp/vault/api"

	"github.com/optiinfra/optiinfra/internal/config"
)

// LoadMasterKey resolves the credential master key. Vault wins when an
// address is configured; otherwise the key comes from the environment via
// config (OPTIINFRA_CREDENTIAL_KEY).
func LoadMasterKey(cfg *config.Config) (string, error) {
	if cfg.Vault.Address != "" {
		return vaultKey(cfg.Vault)
	}
	if cfg.Credentials.EncryptionKey == "" {
		return "", fmt.Errorf("no credential master key: set OPTIINFRA_CREDENTIAL_KEY or configure vault")
	}
	return cfg.Credentials.EncryptionKey, nil
}

func vaultKey(cfg config.VaultConfig) (string, error) {
	client, err := vault.NewClient(&vault.Config{Address: cfg.Address})
	if err != nil {
		return "", fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	keyPath := cfg.KeyPath
	if keyPath == "" {
		keyPath = "secret/data/optiinfra/credential-key"
	}
	secret, err := client.Logical().Read(keyPath)
	if err != nil {
		return "", fmt.Errorf("read vault key %s: %w", keyPath, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault key %s not found", keyPath)
	}

	// KV v2 nests the payload under "data".
	data := secret.Data
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}
	key, ok := data["key"].(string)
	if !ok || key == "" {
		return "", fmt.Errorf("vault key %s has no \"key\" field", keyPath)
	}
	return key, nil
}
