package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const secretsService = "tweetbot"

// Secret accounts.
const (
	accountAPIKey   = "openrouter_api_key"
	accountAPIToken = "api_token"
)

// ErrSecretNotFound is returned when an account has no stored secret.
var ErrSecretNotFound = errors.New("secret not found")

// Keychain reads and writes secrets.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// fileKeychain stores secrets as {service: {account: value}} in a 0600 JSON
// file under the data directory.
type fileKeychain struct {
	path string
	mu   sync.Mutex
}

// NewKeychain returns the secrets-file keychain.
func NewKeychain() Keychain {
	return &fileKeychain{path: secretsFilePath()}
}

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

func (k *fileKeychain) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(k.path)
	if os.IsNotExist(err) {
		return map[string]map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	if secrets == nil {
		secrets = map[string]map[string]string{}
	}
	return secrets, nil
}

func (k *fileKeychain) Get(service, account string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	secrets, err := k.read()
	if err != nil {
		return "", err
	}
	val, ok := secrets[service][account]
	if !ok || val == "" {
		return "", fmt.Errorf("%s/%s: %w", service, account, ErrSecretNotFound)
	}
	return val, nil
}

func (k *fileKeychain) Set(service, account, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	secrets, err := k.read()
	if err != nil {
		return err
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(k.path, out, 0o600)
}
