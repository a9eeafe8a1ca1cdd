package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// GetAPIToken returns the bearer token protecting the HTTP API, generating
// and persisting one on first use. The token lives next to the database so
// local clients can read it without extra configuration.
func GetAPIToken(dataDir string) (string, error) {
	p := filepath.Join(dataDir, "api_token")

	data, err := os.ReadFile(p)
	if err == nil {
		token := strings.TrimSpace(string(data))
		if token != "" {
			return token, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading api token: %w", err)
	}

	token := uuid.New().String()
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.WriteFile(p, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("writing api token: %w", err)
	}
	return token, nil
}
