package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadSecretsEnv reads KEY=VALUE pairs from a dotenv file. A missing file is not
// an error and yields an empty map.
func LoadSecretsEnv(path string) (map[string]string, error) {
	out, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secrets: %w", err)
	}
	return out, nil
}
