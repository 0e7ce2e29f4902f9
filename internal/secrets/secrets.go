package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Get retrieves a secret value, supporting both direct env vars and
// file-based secrets (Docker secrets pattern: SECRET_NAME_FILE points at a
// file whose contents are the value).
func Get(envKey string, defaultValue string) (string, error) {
	if filePath := os.Getenv(envKey + "_FILE"); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("read secret file %s: %w", filePath, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if value := os.Getenv(envKey); value != "" {
		return value, nil
	}

	return defaultValue, nil
}

// GetOptional retrieves a secret with a default value and never fails
func GetOptional(envKey string, defaultValue string) string {
	value, err := Get(envKey, defaultValue)
	if err != nil {
		return defaultValue
	}
	return value
}
